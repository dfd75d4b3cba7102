package remote

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/westy4ever/PilotFS-sub000/internal/config"
	"github.com/westy4ever/PilotFS-sub000/internal/schedule"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/registry"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := config.Load(nil, "")
	require.NoError(t, err)
	cfg.Registry.Path = filepath.Join(t.TempDir(), "connections.json")
	cfg.Mount.CredentialsDir = t.TempDir()
	return cfg
}

func TestNew_WiresComponents(t *testing.T) {
	c, err := New(testConfig(t), zerolog.Nop(), prometheus.NewRegistry())
	require.NoError(t, err)

	assert.NotNil(t, c.Registry)
	assert.NotNil(t, c.Scanner)
	assert.NotNil(t, c.Diagnoser)
	assert.NotNil(t, c.Reconnect)
	assert.NotNil(t, c.Mounts)
	assert.Zero(t, c.Registry.Len())
}

func TestNew_IndependentInstances(t *testing.T) {
	a, err := New(testConfig(t), zerolog.Nop(), nil)
	require.NoError(t, err)
	b, err := New(testConfig(t), zerolog.Nop(), nil)
	require.NoError(t, err)

	require.NoError(t, a.Registry.Add(registry.Record{Name: "nas", Type: registry.TypeFTP, Host: "nas.lan", Port: 21}))
	assert.Equal(t, 1, a.Registry.Len())
	assert.Zero(t, b.Registry.Len())
	assert.NotSame(t, a.Log, b.Log)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mount.Table = "bogus"
	_, err := New(cfg, zerolog.Nop(), nil)
	assert.Error(t, err)
}

func TestNew_DuplicateMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(testConfig(t), zerolog.Nop(), reg)
	require.NoError(t, err)
	_, err = New(testConfig(t), zerolog.Nop(), reg)
	assert.Error(t, err)
}

func TestCheckAll_Empty(t *testing.T) {
	c, err := New(testConfig(t), zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.Empty(t, c.CheckAll(context.Background(), 2))
}

func TestJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Recheck = ""
	c, err := New(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)

	s, err := schedule.New(c.Jobs(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{JobCleanup, JobRecheck}, s.Names())
	require.NoError(t, s.RunNow(context.Background(), JobRecheck))
}

func TestVersionInfo(t *testing.T) {
	assert.Equal(t, "pilotfs v"+Version, VersionInfo())
}
