package diag

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/westy4ever/PilotFS-sub000/internal/metrics"
)

const (
	// DefaultAttempts is used when Reconnect is called with maxAttempts <= 0.
	DefaultAttempts = 3
	// DefaultDelay separates reconnect attempts.
	DefaultDelay = time.Second
)

// Diagnoser is satisfied by *Pipeline.
type Diagnoser interface {
	Diagnose(ctx context.Context, name string) (bool, string, Report)
}

// ReconnectConfig controls the retry policy.
type ReconnectConfig struct {
	Enabled     bool
	MaxAttempts int
	Delay       time.Duration
}

// Reconnector retries a diagnosis with a fixed delay.
type Reconnector struct {
	cfg     ReconnectConfig
	diag    Diagnoser
	metrics *metrics.Metrics
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewReconnector creates a Reconnector. m may be nil.
func NewReconnector(cfg ReconnectConfig, d Diagnoser, m *metrics.Metrics, logger zerolog.Logger) *Reconnector {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	return &Reconnector{
		cfg:     cfg,
		diag:    d,
		metrics: m,
		logger:  logger.With().Str("component", "reconnect").Logger(),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reconnect diagnoses name up to maxAttempts times and returns on the first
// success. It blocks for up to (maxAttempts-1) delays plus the diagnoses.
func (r *Reconnector) Reconnect(ctx context.Context, name string, maxAttempts int) (bool, string) {
	if !r.cfg.Enabled {
		return false, "Auto-reconnect disabled"
	}
	if maxAttempts <= 0 {
		maxAttempts = r.cfg.MaxAttempts
	}

	var last string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ok, msg, _ := r.diag.Diagnose(ctx, name)
		if ok {
			r.logger.Info().Str("connection", name).Int("attempt", attempt).Msg("reconnected")
			r.metrics.RecordReconnect(true)
			return true, fmt.Sprintf("Connected on attempt %d", attempt)
		}
		last = msg
		r.logger.Debug().Str("connection", name).Int("attempt", attempt).Str("reason", msg).Msg("reconnect attempt failed")

		if attempt < maxAttempts {
			if err := r.sleep(ctx, r.cfg.Delay); err != nil {
				r.metrics.RecordReconnect(false)
				return false, fmt.Sprintf("Reconnect cancelled after %d attempts: %s", attempt, last)
			}
		}
	}

	r.logger.Warn().Str("connection", name).Int("attempts", maxAttempts).Str("reason", last).Msg("reconnect failed")
	r.metrics.RecordReconnect(false)
	return false, fmt.Sprintf("Failed after %d attempts: %s", maxAttempts, last)
}
