package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/blobworks/mediavault/internal/blob"
	"github.com/blobworks/mediavault/pkg/logger"
)

const (
	defaultSchedule = "@hourly"
	defaultMaxAge   = 30 * 24 * time.Hour
)

// Sweeper periodically removes blobs older than the retention window,
// including their disk-tier files.
type Sweeper struct {
	blobs    *blob.Service
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger
	schedule string
	maxAge   time.Duration
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for cutoff computation.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSchedule overrides the cron specification for the sweep.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithMaxAge sets the retention window.
func WithMaxAge(age time.Duration) Option {
	return func(s *Sweeper) {
		if age > 0 {
			s.maxAge = age
		}
	}
}

// NewSweeper constructs a retention sweeper with sensible defaults.
func NewSweeper(blobs *blob.Service, opts ...Option) (*Sweeper, error) {
	if blobs == nil {
		return nil, errors.New("maintenance: blob service must be provided")
	}

	s := &Sweeper{
		blobs:    blobs,
		now:      time.Now,
		schedule: defaultSchedule,
		maxAge:   defaultMaxAge,
		log:      logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s, nil
}

// Start registers the sweep job and launches the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("retention sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for a running sweep to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes a single sweep. Also used during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	cutoff := s.now().Add(-s.maxAge)
	pruned, err := s.blobs.PruneOlderThan(ctx, cutoff)
	if pruned > 0 || err != nil {
		s.log.Info("retention sweep",
			zap.Int("pruned", pruned),
			zap.Time("cutoff", cutoff),
			zap.Error(err),
		)
	}
	return err
}
