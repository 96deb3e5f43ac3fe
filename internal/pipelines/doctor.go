package pipelines

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultDoctorTTL     = 5 * time.Minute
	DefaultDoctorBackoff = 30 * time.Second
)

// CachedDoctor answers capability questions from the last doctor probe.
// Successful probes are reused for the TTL. A failed probe with nothing to
// fall back on is remembered for the backoff so a broken interpreter is not
// spawned on every subtitle check.
type CachedDoctor struct {
	runner  Runner
	ttl     time.Duration
	backoff time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.Mutex
	cached   *Capabilities
	lastErr  error
	failedAt time.Time
}

type DoctorOption func(*CachedDoctor)

func WithTTL(ttl time.Duration) DoctorOption {
	return func(d *CachedDoctor) { d.ttl = ttl }
}

func WithBackoff(backoff time.Duration) DoctorOption {
	return func(d *CachedDoctor) { d.backoff = backoff }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) DoctorOption {
	return func(d *CachedDoctor) { d.now = now }
}

func NewCachedDoctor(runner Runner, logger *slog.Logger, opts ...DoctorOption) *CachedDoctor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &CachedDoctor{
		runner:  runner,
		ttl:     DefaultDoctorTTL,
		backoff: DefaultDoctorBackoff,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Get returns fresh cached capabilities or probes again. Concurrent callers
// share one probe.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if d.cached != nil && now.Sub(d.cached.ProbedAt) < d.ttl {
		return d.cached, nil
	}
	if d.cached == nil && d.lastErr != nil && now.Sub(d.failedAt) < d.backoff {
		return nil, d.lastErr
	}
	return d.probe(ctx)
}

// Peek returns the last successful probe without running one.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cached
}

// Refresh probes regardless of freshness or backoff. On failure the previous
// capabilities, if any, are returned instead of the error.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.probe(ctx)
}

func (d *CachedDoctor) probe(ctx context.Context) (*Capabilities, error) {
	caps, err := d.runner.RunDoctor(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		if d.cached != nil {
			d.logger.Info("keeping previous capabilities", "probed_at", d.cached.ProbedAt)
			return d.cached, nil
		}
		d.lastErr, d.failedAt = err, d.now()
		return nil, err
	}
	if caps.ProbedAt.IsZero() {
		caps.ProbedAt = d.now()
	}
	d.cached, d.lastErr = caps, nil
	return caps, nil
}

// Invalidate drops the cached result and any remembered failure.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached, d.lastErr = nil, nil
	d.mu.Unlock()
}

// SpeechAvailable reports whether transcription can run. A failed probe
// counts as unavailable.
func (d *CachedDoctor) SpeechAvailable(ctx context.Context) bool {
	caps, err := d.Get(ctx)
	if err != nil || caps == nil {
		return false
	}
	return caps.HasSpeech
}
