package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pathlight-hq/pathlight/internal/services"
	"github.com/pathlight-hq/pathlight/internal/store"
	"github.com/pathlight-hq/pathlight/pkg/logger"
	"github.com/pathlight-hq/pathlight/pkg/metrics"
)

const (
	defaultAuditRetentionDays = 90
	defaultExpirySpec         = "@every 1m"
	defaultAuditSpec          = "@daily"
)

// Sweeper coordinates background maintenance: moving relationships past their
// expiry to the expired status and enforcing audit retention. Expiry is
// already enforced live at evaluation time; the sweep only reconciles the
// stored status so listings and duplicate checks stay truthful.
type Sweeper struct {
	store     *store.RelationshipStore
	audit     *services.AuditService
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int

	expirySchedule string
	auditSchedule  string
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

// WithNow overrides the clock used for sweep comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit entries are retained.
func WithAuditRetentionDays(days int) Option {
	return func(s *Sweeper) {
		if days > 0 {
			s.retention = days
		}
	}
}

// WithExpirySchedule overrides the cron specification for the expiry sweep.
func WithExpirySchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.expirySchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention.
func WithAuditSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.auditSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults. A nil dependency
// results in the corresponding job being skipped.
func NewSweeper(relationships *store.RelationshipStore, audit *services.AuditService, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:          relationships,
		audit:          audit,
		now:            time.Now,
		retention:      defaultAuditRetentionDays,
		expirySchedule: defaultExpirySpec,
		auditSchedule:  defaultAuditSpec,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return s
}

// Start registers the sweep jobs with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.store != nil {
		if _, err := s.cron.AddFunc(s.expirySchedule, func() {
			if _, err := s.sweepExpired(context.Background()); err != nil {
				s.log.Warn("expiry sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.audit != nil && s.retention > 0 {
		if _, err := s.cron.AddFunc(s.auditSchedule, func() {
			if _, err := s.sweepAudit(context.Background()); err != nil {
				s.log.Warn("audit retention sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes all configured sweeps sequentially. Primarily used in tests
// and during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if s.store != nil {
		if _, err := s.sweepExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if s.audit != nil && s.retention > 0 {
		if _, err := s.sweepAudit(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (s *Sweeper) sweepExpired(ctx context.Context) (int64, error) {
	swept, err := s.store.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		metrics.RelationshipsExpired.Add(float64(swept))
		s.log.Info("expired relationships swept", zap.Int64("count", swept))
	}
	return swept, nil
}

func (s *Sweeper) sweepAudit(ctx context.Context) (int64, error) {
	retention := time.Duration(s.retention) * 24 * time.Hour
	removed, err := s.audit.CleanupOlderThan(ctx, retention)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("audit entries pruned", zap.Int64("count", removed))
	}
	return removed, nil
}
