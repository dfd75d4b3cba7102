package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsBadJobs(t *testing.T) {
	run := func(context.Context) error { return nil }
	_, err := New([]Job{{Name: "a", Run: run}, {Name: "a", Run: run}}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New([]Job{{Name: "b"}}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRunNow(t *testing.T) {
	var calls int32
	s, err := New([]Job{
		{Name: "cleanup", Spec: "*/15 * * * *", Run: func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		}},
		{Name: "recheck", Run: func(context.Context) error { return errors.New("boom") }},
	}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.RunNow(context.Background(), "cleanup"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.EqualError(t, s.RunNow(context.Background(), "recheck"), "boom")
	assert.Error(t, s.RunNow(context.Background(), "missing"))
	assert.Equal(t, []string{"cleanup", "recheck"}, s.Names())
}

func TestStartStop(t *testing.T) {
	run := func(context.Context) error { return nil }
	s, err := New([]Job{{Name: "cleanup", Spec: "*/15 * * * *", Run: run}, {Name: "off", Run: run}}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	<-s.Stop().Done()
	<-s.Stop().Done()
}

func TestStart_InvalidSpec(t *testing.T) {
	s, err := New([]Job{{Name: "bad", Spec: "every minute", Run: func(context.Context) error { return nil }}}, zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, s.Start())
}
