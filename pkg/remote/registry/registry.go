// Package registry stores named remote-storage connections in a JSON file.
//
// Every mutation rewrites the whole file atomically. A mutation whose write
// fails leaves both the file and the in-memory state unchanged.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
)

// FileMode is the permission of the registry file. It holds passwords.
const FileMode = 0o600

// Registry is the set of saved connections.
type Registry struct {
	path   string
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	records map[string]Record
}

// Open loads the registry at path. A missing file yields an empty registry. A
// file that is not valid JSON is moved aside and also yields an empty
// registry; individual invalid records are dropped. Only an unreadable file
// is an error.
func Open(path string, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		path:    path,
		now:     time.Now,
		logger:  logger.With().Str("component", "registry").Logger(),
		records: make(map[string]Record),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the backing file.
func (r *Registry) Path() string {
	return r.path
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		r.logger.Debug().Str("path", r.path).Msg("no registry file, starting empty")
		return nil
	}
	if err != nil {
		return &errs.PersistenceError{Path: r.path, Op: "read", Err: err}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", r.path, r.now().Unix())
		if renameErr := os.Rename(r.path, aside); renameErr != nil {
			aside = ""
		}
		r.logger.Warn().Err(err).Str("path", r.path).Str("moved_to", aside).Msg("registry file is not valid JSON, starting empty")
		return nil
	}

	for name, blob := range raw {
		var rec Record
		if err := json.Unmarshal(blob, &rec); err != nil {
			r.logger.Warn().Err(err).Str("name", name).Msg("dropping malformed connection")
			continue
		}
		rec.Name = name
		if rec.Status == "" {
			rec.Status = StatusUnknown
		}
		if err := rec.Validate(); err != nil {
			r.logger.Warn().Err(err).Str("name", name).Msg("dropping invalid connection")
			continue
		}
		r.records[name] = rec
	}
	r.logger.Debug().Int("connections", len(r.records)).Str("path", r.path).Msg("registry loaded")
	return nil
}

// mutate applies fn to a copy of the records and commits the copy only if it
// was persisted.
func (r *Registry) mutate(op string, fn func(next map[string]Record) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]Record, len(r.records)+1)
	for k, v := range r.records {
		next[k] = v
	}
	if err := fn(next); err != nil {
		return err
	}
	if err := r.save(next); err != nil {
		r.logger.Error().Err(err).Str("op", op).Msg("registry write failed, change discarded")
		return err
	}
	r.records = next
	return nil
}

func (r *Registry) save(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return &errs.PersistenceError{Path: r.path, Op: "encode", Err: err}
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &errs.PersistenceError{Path: r.path, Op: "mkdir", Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+"-*")
	if err != nil {
		return &errs.PersistenceError{Path: r.path, Op: "create", Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(FileMode); err != nil {
		tmp.Close()
		return &errs.PersistenceError{Path: r.path, Op: "chmod", Err: err}
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return &errs.PersistenceError{Path: r.path, Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &errs.PersistenceError{Path: r.path, Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &errs.PersistenceError{Path: r.path, Op: "close", Err: err}
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return &errs.PersistenceError{Path: r.path, Op: "rename", Err: err}
	}
	return nil
}

// Add validates and stores a new connection. Status, Created, LastUsed,
// LastCheck and Latency are assigned by the registry.
func (r *Registry) Add(rec Record) error {
	rec = rec.Clone()
	now := r.now()
	rec.Status = StatusUnknown
	rec.Created = now
	rec.LastUsed = now
	rec.LastCheck = nil
	rec.Latency = nil
	if err := rec.Validate(); err != nil {
		return err
	}

	err := r.mutate("add", func(next map[string]Record) error {
		if _, exists := next[rec.Name]; exists {
			return &errs.DuplicateError{Name: rec.Name}
		}
		next[rec.Name] = rec
		return nil
	})
	if err == nil {
		r.logger.Info().Str("name", rec.Name).Str("type", string(rec.Type)).Str("host", rec.Host).Msg("connection added")
	}
	return err
}

// Update merges patch into the named connection, re-validates it and bumps
// LastUsed.
func (r *Registry) Update(name string, patch Patch) (Record, error) {
	var updated Record
	err := r.mutate("update", func(next map[string]Record) error {
		cur, ok := next[name]
		if !ok {
			return &errs.NotFoundError{Name: name}
		}
		rec := cur.Clone()
		patch.apply(&rec)
		rec.LastUsed = r.now()
		if err := rec.Validate(); err != nil {
			return err
		}
		next[name] = rec
		updated = rec.Clone()
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	r.logger.Info().Str("name", name).Msg("connection updated")
	return updated, nil
}

// Touch bumps LastUsed for name.
func (r *Registry) Touch(name string) error {
	return r.mutate("touch", func(next map[string]Record) error {
		cur, ok := next[name]
		if !ok {
			return &errs.NotFoundError{Name: name}
		}
		cur.LastUsed = r.now()
		next[name] = cur
		return nil
	})
}

// RecordCheck stores the outcome of a health check. A nil latency keeps the
// previous value.
func (r *Registry) RecordCheck(name string, status Status, latency *float64, at time.Time) error {
	return r.mutate("record_check", func(next map[string]Record) error {
		cur, ok := next[name]
		if !ok {
			return &errs.NotFoundError{Name: name}
		}
		cur = cur.Clone()
		cur.Status = status
		cur.LastCheck = &at
		if latency != nil {
			l := *latency
			cur.Latency = &l
		}
		next[name] = cur
		return nil
	})
}

// Remove deletes name. It reports whether the connection existed; removing an
// unknown name is not an error and does not touch the file.
func (r *Registry) Remove(name string) (bool, error) {
	r.mu.Lock()
	_, ok := r.records[name]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	removed := false
	err := r.mutate("remove", func(next map[string]Record) error {
		if _, ok := next[name]; ok {
			delete(next, name)
			removed = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		r.logger.Info().Str("name", name).Msg("connection removed")
	}
	return removed, nil
}

// Clear removes every connection.
func (r *Registry) Clear() error {
	err := r.mutate("clear", func(next map[string]Record) error {
		for k := range next {
			delete(next, k)
		}
		return nil
	})
	if err == nil {
		r.logger.Info().Msg("registry cleared")
	}
	return err
}

// Get returns a copy of the named connection.
func (r *Registry) Get(name string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// List returns copies of the connections of the given types (all when none
// are given), sorted by name.
func (r *Registry) List(types ...Type) []Record {
	want := make(map[Type]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	r.mu.Lock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if len(want) == 0 || want[rec.Type] {
			out = append(out, rec.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// StatusCounts returns the number of connections per status.
func (r *Registry) StatusCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int{
		string(StatusUnknown): 0,
		string(StatusOnline):  0,
		string(StatusOffline): 0,
	}
	for _, rec := range r.records {
		counts[string(rec.Status)]++
	}
	return counts
}
