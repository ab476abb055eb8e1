package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pathlight-hq/pathlight/internal/models"
	apperrors "github.com/pathlight-hq/pathlight/pkg/errors"
)

func setupStore(t *testing.T, opts ...Option) *RelationshipStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Principal{}, &models.Relationship{}, &models.AuditEntry{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	s, err := New(db, opts...)
	require.NoError(t, err)
	return s
}

const (
	u1 = "11111111-1111-1111-1111-111111111111"
	u2 = "22222222-2222-2222-2222-222222222222"
)

func TestCreateRejectsDuplicateLiveRelationship(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	input := CreateInput{
		Kind:       models.KindTeamMembership,
		SubjectID:  u1,
		ObjectType: models.ObjectTeam,
		ObjectID:   "team-1",
		Status:     models.StatusPending,
	}

	_, err := s.Create(ctx, input)
	require.NoError(t, err)

	_, err = s.Create(ctx, input)
	require.ErrorIs(t, err, apperrors.ErrDuplicateRelationship,
		"a second invitation while one is pending must be rejected")

	// A terminal prior relationship does not block a new one.
	first, err := s.ActiveRelationship(ctx, models.KindTeamMembership, u1, models.ObjectTeam, "team-1", time.Now())
	require.NoError(t, err)
	require.Nil(t, first, "pending rows are not live")

	var pending models.Relationship
	require.NoError(t, s.db.First(&pending, "subject_id = ?", u1).Error)
	_, err = s.Transition(ctx, pending.ID, models.StatusDeclined)
	require.NoError(t, err)

	_, err = s.Create(ctx, input)
	require.NoError(t, err, "declined relationships must not trip duplicate detection")
}

func TestCreateRejectsTerminalInitialStatus(t *testing.T) {
	s := setupStore(t)

	_, err := s.Create(context.Background(), CreateInput{
		Kind:       models.KindDocumentReview,
		SubjectID:  u1,
		ObjectType: models.ObjectDocument,
		ObjectID:   "doc-1",
		Status:     models.StatusCancelled,
	})
	require.Error(t, err)
}

func TestCreateStampsValidFromFromStoreClock(t *testing.T) {
	frozen := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := setupStore(t, WithClock(func() time.Time { return frozen }))
	ctx := context.Background()

	rel, err := s.Create(ctx, CreateInput{
		Kind:       models.KindOwnership,
		SubjectID:  u1,
		ObjectType: models.ObjectDocument,
		ObjectID:   "doc-1",
		Status:     models.StatusActive,
	})
	require.NoError(t, err)
	require.True(t, rel.ValidFrom.Equal(frozen),
		"the injected clock, not the wall clock, decides when rows become live")

	owner, err := s.ResourceOwner(ctx, models.ObjectDocument, "doc-1", frozen)
	require.NoError(t, err)
	require.NotNil(t, owner, "a row created at the clock instant is live at that instant")
}

func TestTransitionFollowsStateMachine(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	rel, err := s.Create(ctx, CreateInput{
		Kind:       models.KindMentorAssignment,
		SubjectID:  u1,
		ObjectType: models.ObjectPrincipal,
		ObjectID:   u2,
		Status:     models.StatusPending,
	})
	require.NoError(t, err)

	// pending -> paused is not a legal edge.
	_, err = s.Transition(ctx, rel.ID, models.StatusPaused)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	rel, err = s.Transition(ctx, rel.ID, models.StatusActive)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, rel.Status)

	rel, err = s.Transition(ctx, rel.ID, models.StatusPaused)
	require.NoError(t, err)

	rel, err = s.Transition(ctx, rel.ID, models.StatusActive)
	require.NoError(t, err)

	rel, err = s.Transition(ctx, rel.ID, models.StatusEnded)
	require.NoError(t, err)

	// Terminal statuses never transition onward.
	_, err = s.Transition(ctx, rel.ID, models.StatusActive)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestTransitionDetectsLostRace(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	rel, err := s.Create(ctx, CreateInput{
		Kind:       models.KindAccountability,
		SubjectID:  u1,
		ObjectType: models.ObjectPrincipal,
		ObjectID:   u2,
		Status:     models.StatusPending,
	})
	require.NoError(t, err)

	// Simulate a concurrent revoke landing between the load and the CAS write.
	require.NoError(t, s.db.Model(&models.Relationship{}).
		Where("id = ?", rel.ID).
		Update("status", models.StatusCancelled).Error)

	_, err = s.Transition(ctx, rel.ID, models.StatusActive)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	// The relationship settled on exactly one terminal outcome.
	current, err := s.Get(ctx, rel.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, current.Status)
}

func TestActiveRelationshipRechecksExpiryLive(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour)
	_, err := s.Create(ctx, CreateInput{
		Kind:       models.KindAdvisorGrant,
		SubjectID:  u1,
		ObjectType: models.ObjectPrincipal,
		ObjectID:   u2,
		Status:     models.StatusActive,
		ExpiresAt:  &expiry,
	})
	require.NoError(t, err)

	rel, err := s.ActiveRelationship(ctx, models.KindAdvisorGrant, u1, models.ObjectPrincipal, u2, time.Now())
	require.NoError(t, err)
	require.NotNil(t, rel)

	// Past the expiry instant the row is dead even though the status column
	// still says active (the sweep has not run yet).
	rel, err = s.ActiveRelationship(ctx, models.KindAdvisorGrant, u1, models.ObjectPrincipal, u2, expiry.Add(time.Second))
	require.NoError(t, err)
	require.Nil(t, rel)
}

func TestExpireDueSweepsLiveRows(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	for i, exp := range []*time.Time{&past, &past, &future, nil} {
		_, err := s.Create(ctx, CreateInput{
			Kind:       models.KindDocumentReview,
			SubjectID:  u1,
			ObjectType: models.ObjectDocument,
			ObjectID:   fmt.Sprintf("doc-%d", i),
			Status:     models.StatusActive,
			ExpiresAt:  exp,
		})
		require.NoError(t, err)
	}

	swept, err := s.ExpireDue(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 2, swept)

	var expired int64
	require.NoError(t, s.db.Model(&models.Relationship{}).
		Where("status = ?", models.StatusExpired).Count(&expired).Error)
	require.EqualValues(t, 2, expired)
}

func TestResourceOwnerReturnsNilWhenUnrecorded(t *testing.T) {
	s := setupStore(t)

	owner, err := s.ResourceOwner(context.Background(), models.ObjectDocument, "doc-x", time.Now())
	require.NoError(t, err)
	require.Nil(t, owner)
}

func TestListActiveIteratesInBatchesAndRestarts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Create(ctx, CreateInput{
			Kind:       models.KindGroupMembership,
			SubjectID:  u1,
			ObjectType: models.ObjectGroup,
			ObjectID:   fmt.Sprintf("group-%d", i),
			Status:     models.StatusActive,
		})
		require.NoError(t, err)
	}
	// A non-live row must not appear.
	_, err := s.Create(ctx, CreateInput{
		Kind:       models.KindGroupMembership,
		SubjectID:  u1,
		ObjectType: models.ObjectGroup,
		ObjectID:   "group-pending",
		Status:     models.StatusPending,
	})
	require.NoError(t, err)

	it := s.ListActive(u1, models.KindGroupMembership)
	it.batchSize = 2 // force multiple round trips

	var seen []string
	for it.Next(ctx) {
		seen = append(seen, it.Relationship().ObjectID)
	}
	require.NoError(t, it.Err())
	require.Len(t, seen, 5)
	require.NotContains(t, seen, "group-pending")

	it.Restart()
	count := 0
	for it.Next(ctx) {
		count++
	}
	require.NoError(t, it.Err())
	require.Equal(t, 5, count, "restart must replay the full sequence")
}

func TestListActiveWithoutKindSpansKinds(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateInput{
		Kind:       models.KindGroupMembership,
		SubjectID:  u2,
		ObjectType: models.ObjectGroup,
		ObjectID:   "group-a",
		Status:     models.StatusActive,
	})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateInput{
		Kind:       models.KindTeamMembership,
		SubjectID:  u2,
		ObjectType: models.ObjectTeam,
		ObjectID:   "team-a",
		Status:     models.StatusActive,
	})
	require.NoError(t, err)

	it := s.ListActive(u2, "")
	count := 0
	for it.Next(ctx) {
		count++
	}
	require.NoError(t, it.Err())
	require.Equal(t, 2, count)
}
