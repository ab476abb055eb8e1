package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pathlight-hq/pathlight/internal/auditctx"
	"github.com/pathlight-hq/pathlight/internal/authz"
	"github.com/pathlight-hq/pathlight/internal/models"
	apperrors "github.com/pathlight-hq/pathlight/pkg/errors"
	"github.com/pathlight-hq/pathlight/pkg/logger"
	"github.com/pathlight-hq/pathlight/pkg/metrics"
)

const (
	// Audit actions.
	ActionAccessDecision    = "access.decision"
	ActionRelationshipEvent = "relationship.lifecycle"

	defaultAuditQueueSize  = 1024
	defaultAuditMaxRetries = 3
	defaultAuditRetryDelay = 250 * time.Millisecond
)

// AuditService persists audit entries asynchronously. Writes are queued and
// flushed by a background worker with bounded retries; a failed write is
// escalated through logging and metrics but never fails or delays the caller.
// The service also implements authz.DecisionRecorder.
type AuditService struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time

	queue      chan models.AuditEntry
	maxRetries int
	retryDelay time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// AuditOption customises the audit service.
type AuditOption func(*AuditService)

// WithAuditQueueSize sets the bounded queue capacity.
func WithAuditQueueSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.queue = make(chan models.AuditEntry, size)
		}
	}
}

// WithAuditRetries sets the retry budget and delay for failed writes.
func WithAuditRetries(maxRetries int, delay time.Duration) AuditOption {
	return func(s *AuditService) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		if delay > 0 {
			s.retryDelay = delay
		}
	}
}

// WithAuditClock overrides the service clock, primarily for testing.
func WithAuditClock(now func() time.Time) AuditOption {
	return func(s *AuditService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAuditService constructs the service and starts its writer goroutine.
// Callers own the lifecycle and must Close on shutdown to drain the queue.
func NewAuditService(db *gorm.DB, opts ...AuditOption) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}

	s := &AuditService{
		db:         db,
		log:        logger.WithModule("audit"),
		now:        time.Now,
		queue:      make(chan models.AuditEntry, defaultAuditQueueSize),
		maxRetries: defaultAuditMaxRetries,
		retryDelay: defaultAuditRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// RecordDecision implements authz.DecisionRecorder. The access decision is
// already final when this runs; nothing here can change or delay it.
func (s *AuditService) RecordDecision(ctx context.Context, decision authz.Decision) {
	result := "deny"
	if decision.Allowed {
		result = "allow"
	}

	entry := models.AuditEntry{
		PrincipalID:  decision.PrincipalID,
		Action:       ActionAccessDecision,
		ResourceType: string(decision.Resource.Type),
		ResourceID:   decision.Resource.ID,
		Capability:   string(decision.Capability),
		Result:       result,
		GrantKind:    string(decision.GrantKind),
		CreatedAt:    decision.EvaluatedAt,
	}
	if decision.GrantingRelationshipID != "" {
		id := decision.GrantingRelationshipID
		entry.GrantRelationshipID = &id
	}

	s.enqueue(ctx, entry)
}

// RecordLifecycle queues an audit entry for a relationship lifecycle event
// (invite, accept, revoke, expiry sweep, and so on).
func (s *AuditService) RecordLifecycle(ctx context.Context, action string, rel *models.Relationship, result string, metadata map[string]any) {
	entry := models.AuditEntry{
		Action:    ActionRelationshipEvent,
		Result:    result,
		CreatedAt: s.now(),
	}
	if rel != nil {
		entry.PrincipalID = rel.SubjectID
		entry.ResourceType = string(rel.ObjectType)
		entry.ResourceID = rel.ObjectID
		id := rel.ID
		entry.GrantRelationshipID = &id
		entry.GrantKind = string(rel.Kind)
	}
	if action != "" {
		entry.Action = action
	}
	if len(metadata) > 0 {
		meta := make(datatypes.JSONMap, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
		entry.Metadata = meta
	}

	s.enqueue(ctx, entry)
}

// enqueue stamps actor context onto the entry and hands it to the writer.
// A full queue drops the entry with escalation rather than blocking.
func (s *AuditService) enqueue(ctx context.Context, entry models.AuditEntry) {
	if actor, ok := auditctx.FromContext(ctx); ok {
		if id := strings.TrimSpace(actor.PrincipalID); id != "" {
			entry.ActorID = &id
		}
		entry.IPAddress = actor.IPAddress
		entry.UserAgent = actor.UserAgent
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	select {
	case s.queue <- entry:
		metrics.AuditQueueDepth.Set(float64(len(s.queue)))
	default:
		metrics.AuditWriteFailures.Inc()
		s.log.Error("audit queue full; dropping entry",
			zap.String("action", entry.Action),
			zap.String("principal", entry.PrincipalID),
		)
	}
}

func (s *AuditService) run() {
	defer s.wg.Done()
	for entry := range s.queue {
		s.persist(entry)
		metrics.AuditQueueDepth.Set(float64(len(s.queue)))
	}
}

// persist writes one entry with bounded retries. Exhausting the budget is
// escalated and the entry is dropped; the decision it records already stands.
func (s *AuditService) persist(entry models.AuditEntry) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.retryDelay)
		}
		if err := s.db.Create(&entry).Error; err != nil {
			lastErr = err
			continue
		}
		return
	}

	metrics.AuditWriteFailures.Inc()
	s.log.Error("audit write failed after retries; dropping entry",
		zap.String("action", entry.Action),
		zap.String("principal", entry.PrincipalID),
		zap.Int("attempts", s.maxRetries+1),
		zap.Error(apperrors.ErrAuditWriteFailed.WithInternal(lastErr)),
	)
}

// Close stops accepting entries and waits for the queue to drain.
func (s *AuditService) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
}

// AuditFilter narrows List and Export queries. Zero values match everything.
type AuditFilter struct {
	PrincipalID  string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Result       string
	Since        time.Time
	Until        time.Time

	Limit  int
	Offset int
}

func (s *AuditService) filtered(ctx context.Context, filter AuditFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.AuditEntry{})
	if filter.PrincipalID != "" {
		query = query.Where("principal_id = ?", filter.PrincipalID)
	}
	if filter.ActorID != "" {
		query = query.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.ResourceType != "" {
		query = query.Where("resource_type = ?", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		query = query.Where("resource_id = ?", filter.ResourceID)
	}
	if filter.Result != "" {
		query = query.Where("result = ?", filter.Result)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("created_at < ?", filter.Until)
	}
	return query
}

// List returns matching audit entries newest-first, plus the total count.
func (s *AuditService) List(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, int64, error) {
	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entries []models.AuditEntry
	err := s.filtered(ctx, filter).
		Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Export streams matching entries to the writer as JSON lines, oldest-first.
func (s *AuditService) Export(ctx context.Context, filter AuditFilter, w io.Writer) error {
	rows, err := s.filtered(ctx, filter).Order("created_at ASC").Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	encoder := json.NewEncoder(w)
	for rows.Next() {
		var entry models.AuditEntry
		if err := s.db.ScanRows(rows, &entry); err != nil {
			return err
		}
		if err := encoder.Encode(entry); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SetComplianceHold pins or releases an entry from retention cleanup.
func (s *AuditService) SetComplianceHold(ctx context.Context, id string, hold bool) error {
	result := s.db.WithContext(ctx).Model(&models.AuditEntry{}).
		Where("id = ?", id).
		Update("compliance_hold", hold)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// CleanupOlderThan deletes entries past the retention window. Entries under a
// compliance hold are never removed.
func (s *AuditService) CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-retention)

	result := s.db.WithContext(ctx).
		Where("created_at < ? AND compliance_hold = ?", cutoff, false).
		Delete(&models.AuditEntry{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
