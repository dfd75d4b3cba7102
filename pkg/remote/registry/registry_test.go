package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
)

func openTemp(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "connections.json")
	r, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	return r, path
}

func nas() Record {
	return Record{
		Name:     "nas",
		Type:     TypeCIFS,
		Host:     "192.168.1.50",
		Port:     445,
		Username: "alice",
		Password: "s3cret",
		Path:     "/media",
		Options:  map[string]string{"domain": "WORKGROUP"},
	}
}

func TestAddGet(t *testing.T) {
	r, path := openTemp(t)
	in := nas()
	require.NoError(t, r.Add(in))

	got, ok := r.Get("nas")
	require.True(t, ok)
	assert.Equal(t, StatusUnknown, got.Status)
	assert.False(t, got.Created.IsZero())
	assert.Equal(t, got.Created, got.LastUsed)

	got.Status, got.Created, got.LastUsed = in.Status, in.Created, in.LastUsed
	assert.Equal(t, in, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FileMode), info.Mode().Perm())
}

func TestAdd_Duplicate(t *testing.T) {
	r, _ := openTemp(t)
	require.NoError(t, r.Add(nas()))

	other := nas()
	other.Host = "10.0.0.1"
	err := r.Add(other)
	var dup *errs.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "nas", dup.Name)

	got, _ := r.Get("nas")
	assert.Equal(t, "192.168.1.50", got.Host)
}

func TestAdd_ValidationNeverPersists(t *testing.T) {
	r, path := openTemp(t)

	for name, mutate := range map[string]func(*Record){
		"port zero":  func(rec *Record) { rec.Port = 0 },
		"port high":  func(rec *Record) { rec.Port = 70000 },
		"empty host": func(rec *Record) { rec.Host = "" },
		"long host":  func(rec *Record) { rec.Host = string(make([]byte, 256)) },
		"no name":    func(rec *Record) { rec.Name = "" },
		"bad type":   func(rec *Record) { rec.Type = "nfs" },
	} {
		t.Run(name, func(t *testing.T) {
			rec := nas()
			mutate(&rec)
			err := r.Add(rec)
			assert.True(t, errs.IsValidation(err), "got %v", err)
			_, statErr := os.Stat(path)
			assert.True(t, os.IsNotExist(statErr), "registry file must not be written")
		})
	}
	assert.Zero(t, r.Len())
}

func TestGet_ReturnsCopy(t *testing.T) {
	r, _ := openTemp(t)
	require.NoError(t, r.Add(nas()))

	got, _ := r.Get("nas")
	got.Options["domain"] = "EVIL"
	got.Host = "evil"

	again, _ := r.Get("nas")
	assert.Equal(t, "WORKGROUP", again.Options["domain"])
	assert.Equal(t, "192.168.1.50", again.Host)
}

func TestUpdate(t *testing.T) {
	r, _ := openTemp(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	require.NoError(t, r.Add(nas()))

	r.now = func() time.Time { return base.Add(time.Hour) }
	host := "nas.lan"
	rec, err := r.Update("nas", Patch{Host: &host})
	require.NoError(t, err)
	assert.Equal(t, "nas.lan", rec.Host)
	assert.Equal(t, base.Add(time.Hour), rec.LastUsed)
	assert.Equal(t, base, rec.Created)

	bad := 0
	_, err = r.Update("nas", Patch{Port: &bad})
	assert.True(t, errs.IsValidation(err))
	got, _ := r.Get("nas")
	assert.Equal(t, 445, got.Port)

	_, err = r.Update("missing", Patch{Host: &host})
	assert.True(t, errs.IsNotFound(err))
}

func TestRemoveClear_Idempotent(t *testing.T) {
	r, _ := openTemp(t)
	require.NoError(t, r.Add(nas()))

	ok, err := r.Remove("nas")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Remove("nas")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Clear())
	require.NoError(t, r.Clear())
	assert.Zero(t, r.Len())
}

func TestList_FilterAndOrder(t *testing.T) {
	r, _ := openTemp(t)
	for _, rec := range []Record{
		{Name: "zeta", Type: TypeFTP, Host: "h", Port: 21},
		{Name: "alpha", Type: TypeSFTP, Host: "h", Port: 22},
		{Name: "mid", Type: TypeFTP, Host: "h", Port: 21},
	} {
		require.NoError(t, r.Add(rec))
	}

	all := r.List()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, []string{all[0].Name, all[1].Name, all[2].Name})

	ftp := r.List(TypeFTP)
	require.Len(t, ftp, 2)
	assert.Equal(t, "mid", ftp[0].Name)
}

func TestRecordCheck(t *testing.T) {
	r, _ := openTemp(t)
	require.NoError(t, r.Add(nas()))

	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	lat := 1.25
	require.NoError(t, r.RecordCheck("nas", StatusOnline, &lat, at))
	require.NoError(t, r.RecordCheck("nas", StatusOffline, nil, at.Add(time.Minute)))

	got, _ := r.Get("nas")
	assert.Equal(t, StatusOffline, got.Status)
	require.NotNil(t, got.LastCheck)
	assert.Equal(t, at.Add(time.Minute), *got.LastCheck)
	require.NotNil(t, got.Latency)
	assert.Equal(t, 1.25, *got.Latency)

	assert.True(t, errs.IsNotFound(r.RecordCheck("missing", StatusOnline, nil, at)))
	assert.Equal(t, 1, r.StatusCounts()["offline"])
}

func TestPersistence_RoundTrip(t *testing.T) {
	r, path := openTemp(t)
	require.NoError(t, r.Add(nas()))
	lat := 3.5
	require.NoError(t, r.RecordCheck("nas", StatusOnline, &lat, time.Now()))

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	got, ok := reopened.Get("nas")
	require.True(t, ok)
	assert.Equal(t, StatusOnline, got.Status)
	assert.Equal(t, "s3cret", got.Password)
	assert.Equal(t, 3.5, *got.Latency)
}

func TestLoad_DropsMalformedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	data := `{
  "good": {"type": "sftp", "host": "10.0.0.2", "port": 22, "username": "bob"},
  "bad-port": {"type": "ftp", "host": "10.0.0.3", "port": 0},
  "no-host": {"type": "ftp", "port": 21},
  "bad-type": {"type": "gopher", "host": "x", "port": 70},
  "not-object": 42
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	r, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())
	got, ok := r.Get("good")
	require.True(t, ok)
	assert.Equal(t, StatusUnknown, got.Status)
}

func TestLoad_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	r, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, r.Len())

	matches, _ := filepath.Glob(path + ".corrupt-*")
	assert.Len(t, matches, 1)
}

func TestPersistence_PreservesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	data := `{"nas": {"type": "cifs", "host": "nas", "port": 445, "favorite": true, "color": "blue"}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	r, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	user := "carol"
	_, err = r.Update("nas", Patch{Username: &user})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var stored map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, true, stored["nas"]["favorite"])
	assert.Equal(t, "blue", stored["nas"]["color"])
	assert.Equal(t, "carol", stored["nas"]["username"])
}

func TestPersistence_WriteFailureRollsBack(t *testing.T) {
	r, path := openTemp(t)
	require.NoError(t, r.Add(nas()))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	r.path = filepath.Join(blocker, "connections.json")

	other := nas()
	other.Name = "backup"
	err = r.Add(other)
	var perr *errs.PersistenceError
	require.True(t, errors.As(err, &perr))
	_, ok := r.Get("backup")
	assert.False(t, ok)

	_, err = r.Remove("nas")
	require.Error(t, err)
	_, ok = r.Get("nas")
	assert.True(t, ok)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestParseType(t *testing.T) {
	typ, err := ParseType(" WebDAV ")
	require.NoError(t, err)
	assert.Equal(t, TypeWebDAV, typ)
	assert.Equal(t, 80, typ.DefaultPort())

	_, err = ParseType("nfs")
	assert.True(t, errs.IsValidation(err))
}
