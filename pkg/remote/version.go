package remote

// Version information for the pilotfs core.
const (
	// Version is the semantic version of the core.
	Version = "0.4.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 4

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// VersionInfo returns the full version string with the project name.
func VersionInfo() string {
	return "pilotfs v" + Version
}
