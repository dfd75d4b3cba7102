package mount

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/westy4ever/PilotFS-sub000/internal/cmdexec"
)

// MountInfo is one row of the OS mount table.
type MountInfo struct {
	Source  string
	Target  string
	FSType  string
	Options []string
}

// IsNetwork reports whether the source looks like a remote filesystem
// (//server/share or host:/export).
func (m MountInfo) IsNetwork() bool {
	return strings.Contains(m.Source, "//") || strings.Contains(m.Source, ":")
}

// Table reads the live OS mount table.
type Table interface {
	Mounts(ctx context.Context) ([]MountInfo, error)
}

// PartitionTable reads the mount table through gopsutil.
type PartitionTable struct{}

// Mounts implements Table.
func (PartitionTable) Mounts(ctx context.Context) ([]MountInfo, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("read partitions: %w", err)
	}
	out := make([]MountInfo, 0, len(parts))
	for _, p := range parts {
		out = append(out, MountInfo{
			Source:  p.Device,
			Target:  p.Mountpoint,
			FSType:  p.Fstype,
			Options: p.Opts,
		})
	}
	return out, nil
}

// FindmntTable reads the mount table with findmnt(8).
type FindmntTable struct {
	Runner  cmdexec.Runner
	Timeout time.Duration
}

// Mounts implements Table.
func (f FindmntTable) Mounts(ctx context.Context) ([]MountInfo, error) {
	runner := f.Runner
	if runner == nil {
		runner = cmdexec.Exec{}
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	res, err := runner.Run(ctx, timeout, "findmnt", "-rn", "-o", "SOURCE,TARGET,FSTYPE,OPTIONS")
	if err != nil {
		return nil, fmt.Errorf("findmnt: %w", err)
	}
	return parseFindmnt(res.Stdout), nil
}

// parseFindmnt parses `findmnt -rn -o SOURCE,TARGET,FSTYPE,OPTIONS`. Raw
// output escapes blanks as \x20.
func parseFindmnt(out string) []MountInfo {
	var mounts []MountInfo
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		m := MountInfo{
			Source: unescapeMount(fields[0]),
			Target: unescapeMount(fields[1]),
			FSType: fields[2],
		}
		if len(fields) > 3 {
			m.Options = strings.Split(fields[3], ",")
		}
		mounts = append(mounts, m)
	}
	return mounts
}

func unescapeMount(s string) string {
	if !strings.Contains(s, `\x`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// find returns the table row mounted at path.
func find(mounts []MountInfo, path string) (MountInfo, bool) {
	path = filepath.Clean(path)
	for _, m := range mounts {
		if filepath.Clean(m.Target) == path {
			return m, true
		}
	}
	return MountInfo{}, false
}
