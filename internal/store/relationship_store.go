package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pathlight-hq/pathlight/internal/models"
	apperrors "github.com/pathlight-hq/pathlight/pkg/errors"
)

// RelationshipStore is the durable source of relationship facts. Reads run
// concurrently without locking; the only writes are status transitions, which
// use an optimistic compare-and-swap so races resolve to one outcome.
type RelationshipStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Option customises the store.
type Option func(*RelationshipStore)

// WithClock overrides the store clock, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(s *RelationshipStore) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a RelationshipStore backed by the provided database.
func New(db *gorm.DB, opts ...Option) (*RelationshipStore, error) {
	if db == nil {
		return nil, errors.New("relationship store: db is required")
	}
	s := &RelationshipStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateInput describes a relationship to record.
type CreateInput struct {
	Kind              models.RelationshipKind
	SubjectType       models.SubjectType
	SubjectID         string
	ObjectType        models.ObjectType
	ObjectID          string
	Status            models.RelationshipStatus
	RoleOrAccessLevel string
	Overrides         map[string]bool
	GrantedByID       string
	ValidFrom         time.Time
	ExpiresAt         *time.Time
}

// liveStatuses are the statuses that still tie up a subject/object pair for
// duplicate detection purposes.
var liveStatuses = []models.RelationshipStatus{
	models.StatusPending,
	models.StatusActive,
	models.StatusPaused,
}

// Create records a new relationship. It fails with ErrDuplicateRelationship
// when a pending, active, or paused relationship of the same kind already
// links the subject and object.
func (s *RelationshipStore) Create(ctx context.Context, input CreateInput) (*models.Relationship, error) {
	ctx = ensureContext(ctx)

	if input.Status == "" {
		input.Status = models.StatusPending
	}
	if input.Status != models.StatusPending && input.Status != models.StatusActive {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("relationships are created pending or active, not %q", input.Status))
	}
	if input.SubjectType == "" {
		input.SubjectType = models.SubjectPrincipal
	}
	if input.ValidFrom.IsZero() {
		// The store clock, not the wall clock, decides when rows become live.
		input.ValidFrom = s.now()
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&models.Relationship{}).
		Where("kind = ? AND subject_type = ? AND subject_id = ? AND object_type = ? AND object_id = ?",
			input.Kind, input.SubjectType, input.SubjectID, input.ObjectType, input.ObjectID).
		Where("status IN ?", liveStatuses).
		Count(&count).Error
	if err != nil {
		return nil, storeError("check duplicates", err)
	}
	if count > 0 {
		return nil, apperrors.ErrDuplicateRelationship
	}

	rel := models.Relationship{
		Kind:              input.Kind,
		SubjectType:       input.SubjectType,
		SubjectID:         strings.TrimSpace(input.SubjectID),
		ObjectType:        input.ObjectType,
		ObjectID:          strings.TrimSpace(input.ObjectID),
		Status:            input.Status,
		RoleOrAccessLevel: strings.TrimSpace(input.RoleOrAccessLevel),
		ValidFrom:         input.ValidFrom,
		ExpiresAt:         input.ExpiresAt,
	}
	if len(input.Overrides) > 0 {
		overrides := make(datatypes.JSONMap, len(input.Overrides))
		for key, value := range input.Overrides {
			overrides[key] = value
		}
		rel.CapabilityOverrides = overrides
	}
	if id := strings.TrimSpace(input.GrantedByID); id != "" {
		rel.GrantedByID = &id
	}

	if err := s.db.WithContext(ctx).Create(&rel).Error; err != nil {
		return nil, storeError("create relationship", err)
	}
	return &rel, nil
}

// Get loads a relationship by ID.
func (s *RelationshipStore) Get(ctx context.Context, id string) (*models.Relationship, error) {
	ctx = ensureContext(ctx)

	var rel models.Relationship
	if err := s.db.WithContext(ctx).First(&rel, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, storeError("load relationship", err)
	}
	return &rel, nil
}

// Transition moves a relationship to a new lifecycle status. The write is a
// compare-and-swap on the current status: when a concurrent transition wins
// the race, the caller gets ErrInvalidTransition rather than a silently
// overwritten state. Terminal statuses never transition onward.
func (s *RelationshipStore) Transition(ctx context.Context, id string, target models.RelationshipStatus) (*models.Relationship, error) {
	ctx = ensureContext(ctx)

	if !target.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown status %q", target))
	}

	rel, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !rel.Status.CanTransitionTo(target) {
		return nil, apperrors.ErrInvalidTransition.WithInternal(
			fmt.Errorf("%s -> %s", rel.Status, target))
	}

	result := s.db.WithContext(ctx).Model(&models.Relationship{}).
		Where("id = ? AND status = ?", id, rel.Status).
		Update("status", target)
	if result.Error != nil {
		return nil, storeError("transition relationship", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the race: reload to report the state that actually won.
		current, loadErr := s.Get(ctx, id)
		if loadErr != nil {
			return nil, loadErr
		}
		return nil, apperrors.ErrInvalidTransition.WithInternal(
			fmt.Errorf("concurrent transition moved %s to %s", id, current.Status))
	}

	rel.Status = target
	return rel, nil
}

// ExpireDue sweeps relationships whose expiry has passed from pending, active,
// or paused to expired. Returns the number of rows transitioned.
func (s *RelationshipStore) ExpireDue(ctx context.Context, at time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.Relationship{}).
		Where("status IN ?", liveStatuses).
		Where("expires_at IS NOT NULL AND expires_at <= ?", at).
		Update("status", models.StatusExpired)
	if result.Error != nil {
		return 0, storeError("expire due relationships", result.Error)
	}
	return result.RowsAffected, nil
}

// ResourceOwner returns the live ownership relationship for a resource, or
// nil when none is recorded. Part of the privileged fact surface: it answers
// directly from storage and never consults capability evaluation.
func (s *RelationshipStore) ResourceOwner(ctx context.Context, objectType models.ObjectType, objectID string, at time.Time) (*models.Relationship, error) {
	ctx = ensureContext(ctx)

	var rel models.Relationship
	err := s.liveScope(ctx, at).
		Where("kind = ? AND object_type = ? AND object_id = ?", models.KindOwnership, objectType, objectID).
		First(&rel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeError("load resource owner", err)
	}
	return &rel, nil
}

// ActiveRelationship returns a live relationship of the given kind linking
// the subject to the object, or nil when none exists. Liveness re-checks
// expiry against the supplied time; the status column alone is not trusted.
func (s *RelationshipStore) ActiveRelationship(ctx context.Context, kind models.RelationshipKind, subjectID string, objectType models.ObjectType, objectID string, at time.Time) (*models.Relationship, error) {
	ctx = ensureContext(ctx)

	var rel models.Relationship
	err := s.liveScope(ctx, at).
		Where("kind = ? AND subject_type = ? AND subject_id = ? AND object_type = ? AND object_id = ?",
			kind, models.SubjectPrincipal, subjectID, objectType, objectID).
		First(&rel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeError("load active relationship", err)
	}
	return &rel, nil
}

func (s *RelationshipStore) liveScope(ctx context.Context, at time.Time) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Relationship{}).
		Where("status = ?", models.StatusActive).
		Where("valid_from <= ?", at).
		Where("expires_at IS NULL OR expires_at > ?", at)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// storeError classifies database failures: connection-level faults surface as
// the retryable ErrStoreUnavailable, everything else is wrapped as-is.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, gorm.ErrInvalidDB) {
		return apperrors.ErrStoreUnavailable.WithInternal(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("relationship store: %s: %w", op, err)
}
