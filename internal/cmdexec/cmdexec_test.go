//go:build linux || darwin

package cmdexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
)

func TestExec_Success(t *testing.T) {
	res, err := Exec{}.Run(context.Background(), 5*time.Second, "sh", "-c", "echo hello; echo oops >&2")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\nhello", res.Combined())
}

func TestExec_NonZeroExit(t *testing.T) {
	res, err := Exec{}.Run(context.Background(), 5*time.Second, "sh", "-c", "echo denied >&2; exit 32")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonZeroExit))
	assert.False(t, errs.IsTimeout(err))
	assert.Equal(t, 32, res.ExitCode)
	assert.Contains(t, res.Stderr, "denied")
}

func TestExec_Timeout(t *testing.T) {
	start := time.Now()
	_, err := Exec{}.Run(context.Background(), 100*time.Millisecond, "sleep", "5")
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExec_CallerDeadlineIsNotATimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Exec{}.Run(ctx, 30*time.Second, "sleep", "5")
	require.Error(t, err)
	assert.False(t, errs.IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExec_SpawnFailure(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), time.Second, "/nonexistent/binary-for-test")
	require.Error(t, err)
	assert.False(t, errs.IsTimeout(err))
	assert.False(t, errors.Is(err, ErrNonZeroExit))
}
