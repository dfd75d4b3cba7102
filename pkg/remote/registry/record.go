package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/network"
)

// Type is the protocol of a saved connection.
type Type string

const (
	TypeFTP    Type = "ftp"
	TypeSFTP   Type = "sftp"
	TypeWebDAV Type = "webdav"
	TypeCIFS   Type = "cifs"
)

// Types lists every supported connection type.
var Types = []Type{TypeFTP, TypeSFTP, TypeWebDAV, TypeCIFS}

// ParseType converts s (case-insensitive) to a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", errs.Invalid("type", "unsupported connection type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the supported types.
func (t Type) Valid() bool {
	switch t {
	case TypeFTP, TypeSFTP, TypeWebDAV, TypeCIFS:
		return true
	}
	return false
}

// Label is the display name of t.
func (t Type) Label() string {
	switch t {
	case TypeFTP:
		return "FTP"
	case TypeSFTP:
		return "SFTP"
	case TypeWebDAV:
		return "WebDAV"
	case TypeCIFS:
		return "CIFS"
	}
	return strings.ToUpper(string(t))
}

// DefaultPort is the usual port for t, or 0 for an unknown type.
func (t Type) DefaultPort() int {
	switch t {
	case TypeFTP:
		return 21
	case TypeSFTP:
		return 22
	case TypeWebDAV:
		return 80
	case TypeCIFS:
		return 445
	}
	return 0
}

// Status is the last observed health of a connection.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Record is one saved remote endpoint. The name is the registry key and is not
// part of the stored object.
type Record struct {
	Name      string            `json:"-"`
	Type      Type              `json:"type"`
	Host      string            `json:"host"`
	Port      int               `json:"port"`
	Username  string            `json:"username"`
	Password  string            `json:"password"`
	Path      string            `json:"path"`
	Options   map[string]string `json:"options"`
	Status    Status            `json:"status"`
	LastCheck *time.Time        `json:"last_check"`
	Latency   *float64          `json:"latency"`
	Created   time.Time         `json:"created"`
	LastUsed  time.Time         `json:"last_used"`

	// Extra holds stored keys this version does not know about. They are
	// written back unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

var knownKeys = map[string]bool{
	"type": true, "host": true, "port": true, "username": true, "password": true,
	"path": true, "options": true, "status": true, "last_check": true,
	"latency": true, "created": true, "last_used": true,
}

var requiredKeys = []string{"type", "host", "port"}

type recordFields Record

// MarshalJSON writes the known fields plus Extra.
func (r Record) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(recordFields(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return known, nil
	}
	obj := make(map[string]json.RawMessage, len(knownKeys)+len(r.Extra))
	if err := json.Unmarshal(known, &obj); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if !knownKeys[k] {
			obj[k] = v
		}
	}
	return json.Marshal(obj)
}

// UnmarshalJSON reads the known fields and keeps the rest in Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for _, k := range requiredKeys {
		if _, ok := obj[k]; !ok {
			return errs.Invalid(k, "missing")
		}
	}

	var fields recordFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = Record(fields)
	for k, v := range obj {
		if knownKeys[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[k] = v
	}
	return nil
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return errs.Invalid("name", "must not be empty")
	case !r.Type.Valid():
		return errs.Invalid("type", "unsupported connection type %q", r.Type)
	case strings.TrimSpace(r.Host) == "":
		return errs.Invalid("host", "must not be empty")
	case len(r.Host) > network.MaxHostLength:
		return errs.Invalid("host", "longer than %d characters", network.MaxHostLength)
	case r.Port < 1 || r.Port > 65535:
		return errs.Invalid("port", "%d is out of range 1-65535", r.Port)
	}
	switch r.Status {
	case "", StatusUnknown, StatusOnline, StatusOffline:
	default:
		return errs.Invalid("status", "unknown status %q", r.Status)
	}
	return nil
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := r
	if r.Options != nil {
		c.Options = make(map[string]string, len(r.Options))
		for k, v := range r.Options {
			c.Options[k] = v
		}
	}
	if r.LastCheck != nil {
		t := *r.LastCheck
		c.LastCheck = &t
	}
	if r.Latency != nil {
		l := *r.Latency
		c.Latency = &l
	}
	if r.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

// Address returns host:port.
func (r Record) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Patch is a partial update. Nil fields are left unchanged; a non-nil Options
// replaces the whole map.
type Patch struct {
	Type     *Type
	Host     *string
	Port     *int
	Username *string
	Password *string
	Path     *string
	Options  map[string]string
}

func (p Patch) apply(r *Record) {
	if p.Type != nil {
		r.Type = *p.Type
	}
	if p.Host != nil {
		r.Host = *p.Host
	}
	if p.Port != nil {
		r.Port = *p.Port
	}
	if p.Username != nil {
		r.Username = *p.Username
	}
	if p.Password != nil {
		r.Password = *p.Password
	}
	if p.Path != nil {
		r.Path = *p.Path
	}
	if p.Options != nil {
		r.Options = make(map[string]string, len(p.Options))
		for k, v := range p.Options {
			r.Options[k] = v
		}
	}
}
