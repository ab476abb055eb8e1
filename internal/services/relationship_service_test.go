package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pathlight-hq/pathlight/internal/authz"
	"github.com/pathlight-hq/pathlight/internal/models"
	"github.com/pathlight-hq/pathlight/internal/store"
	apperrors "github.com/pathlight-hq/pathlight/pkg/errors"
)

const (
	ownerID  = "bbbbbbbb-0000-0000-0000-000000000001"
	friendID = "bbbbbbbb-0000-0000-0000-000000000002"
	otherID  = "bbbbbbbb-0000-0000-0000-000000000003"
)

func setupRelationshipService(t *testing.T) (*RelationshipService, *store.RelationshipStore) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Relationship{}, &models.AuditEntry{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	s, err := store.New(db)
	require.NoError(t, err)
	engine, err := authz.New(s)
	require.NoError(t, err)
	svc, err := NewRelationshipService(s, engine, nil)
	require.NoError(t, err)
	return svc, s
}

func ownDocument(t *testing.T, s *store.RelationshipStore, principalID, docID string) {
	t.Helper()
	_, err := s.Create(context.Background(), store.CreateInput{
		Kind:       models.KindOwnership,
		SubjectID:  principalID,
		ObjectType: models.ObjectDocument,
		ObjectID:   docID,
		Status:     models.StatusActive,
	})
	require.NoError(t, err)
}

func TestOnlyTheOwnerSharesForReview(t *testing.T) {
	svc, s := setupRelationshipService(t)
	ctx := context.Background()
	ownDocument(t, s, ownerID, "resume")

	// A non-owner cannot share someone else's document.
	_, err := svc.Grant(ctx, otherID, GrantInput{
		Kind:              models.KindDocumentReview,
		SubjectID:         friendID,
		ObjectType:        models.ObjectDocument,
		ObjectID:          "resume",
		RoleOrAccessLevel: "comment",
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	rel, err := svc.Grant(ctx, ownerID, GrantInput{
		Kind:              models.KindDocumentReview,
		SubjectID:         friendID,
		ObjectType:        models.ObjectDocument,
		ObjectID:          "resume",
		RoleOrAccessLevel: "comment",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, rel.Status)
	require.NotNil(t, rel.GrantedByID)
	require.Equal(t, ownerID, *rel.GrantedByID)
}

func TestInviteAcceptDeclineFlow(t *testing.T) {
	svc, _ := setupRelationshipService(t)
	ctx := context.Background()

	// A mentor invitation: the candidate (whose resources open up) invites.
	rel, err := svc.Invite(ctx, ownerID, GrantInput{
		Kind:       models.KindMentorAssignment,
		SubjectID:  friendID,
		ObjectType: models.ObjectPrincipal,
		ObjectID:   ownerID,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, rel.Status)

	// Nobody but the invited subject can answer.
	_, err = svc.Accept(ctx, otherID, rel.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	accepted, err := svc.Accept(ctx, friendID, rel.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, accepted.Status)

	// Answering twice is an invalid transition, not a silent no-op.
	_, err = svc.Decline(ctx, friendID, rel.ID)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestOnlyTheAdvisedPrincipalCreatesAdvisorGrants(t *testing.T) {
	svc, _ := setupRelationshipService(t)
	ctx := context.Background()

	_, err := svc.Grant(ctx, friendID, GrantInput{
		Kind:              models.KindAdvisorGrant,
		SubjectID:         friendID,
		ObjectType:        models.ObjectPrincipal,
		ObjectID:          ownerID,
		RoleOrAccessLevel: "view",
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden,
		"an advisor cannot grant themselves access")

	_, err = svc.Grant(ctx, ownerID, GrantInput{
		Kind:              models.KindAdvisorGrant,
		SubjectID:         friendID,
		ObjectType:        models.ObjectPrincipal,
		ObjectID:          ownerID,
		RoleOrAccessLevel: "view",
	})
	require.NoError(t, err)
}

func TestAccountabilityInitiatorMustBeSubject(t *testing.T) {
	svc, _ := setupRelationshipService(t)
	ctx := context.Background()

	_, err := svc.Invite(ctx, ownerID, GrantInput{
		Kind:       models.KindAccountability,
		SubjectID:  friendID,
		ObjectType: models.ObjectPrincipal,
		ObjectID:   otherID,
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	rel, err := svc.Invite(ctx, ownerID, GrantInput{
		Kind:       models.KindAccountability,
		SubjectID:  ownerID,
		ObjectType: models.ObjectPrincipal,
		ObjectID:   friendID,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, rel.Status)
}

func TestTeamInvitationRequiresInviteCapability(t *testing.T) {
	svc, s := setupRelationshipService(t)
	ctx := context.Background()

	// Seed an admin and a candidate on the team.
	_, err := s.Create(ctx, store.CreateInput{
		Kind:              models.KindTeamMembership,
		SubjectID:         ownerID,
		ObjectType:        models.ObjectTeam,
		ObjectID:          "cohort",
		Status:            models.StatusActive,
		RoleOrAccessLevel: "admin",
	})
	require.NoError(t, err)
	_, err = s.Create(ctx, store.CreateInput{
		Kind:              models.KindTeamMembership,
		SubjectID:         friendID,
		ObjectType:        models.ObjectTeam,
		ObjectID:          "cohort",
		Status:            models.StatusActive,
		RoleOrAccessLevel: "candidate",
	})
	require.NoError(t, err)

	// Candidates lack invite; admins hold it.
	_, err = svc.Invite(ctx, friendID, GrantInput{
		Kind:              models.KindTeamMembership,
		SubjectID:         otherID,
		ObjectType:        models.ObjectTeam,
		ObjectID:          "cohort",
		RoleOrAccessLevel: "candidate",
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	rel, err := svc.Invite(ctx, ownerID, GrantInput{
		Kind:              models.KindTeamMembership,
		SubjectID:         otherID,
		ObjectType:        models.ObjectTeam,
		ObjectID:          "cohort",
		RoleOrAccessLevel: "candidate",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, rel.Status)
}

func TestMalformedGrantPayloadsAreRejected(t *testing.T) {
	svc, s := setupRelationshipService(t)
	ctx := context.Background()
	ownDocument(t, s, ownerID, "resume")

	_, err := s.Create(ctx, store.CreateInput{
		Kind:              models.KindTeamMembership,
		SubjectID:         ownerID,
		ObjectType:        models.ObjectTeam,
		ObjectID:          "cohort",
		Status:            models.StatusActive,
		RoleOrAccessLevel: "admin",
	})
	require.NoError(t, err)

	// Override keys outside the membership's capability context are rejected,
	// not silently stored and ignored.
	_, err = svc.Invite(ctx, ownerID, GrantInput{
		Kind:              models.KindTeamMembership,
		SubjectID:         friendID,
		ObjectType:        models.ObjectTeam,
		ObjectID:          "cohort",
		RoleOrAccessLevel: "candidate",
		Overrides:         map[string]bool{"fly": true},
	})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	// Access levels unknown to the delegated kind are rejected.
	_, err = svc.Grant(ctx, ownerID, GrantInput{
		Kind:              models.KindDocumentReview,
		SubjectID:         friendID,
		ObjectType:        models.ObjectDocument,
		ObjectID:          "resume",
		RoleOrAccessLevel: "owner",
	})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	// Advisor grants only go as deep as comment.
	_, err = svc.Grant(ctx, ownerID, GrantInput{
		Kind:              models.KindAdvisorGrant,
		SubjectID:         friendID,
		ObjectType:        models.ObjectPrincipal,
		ObjectID:          ownerID,
		RoleOrAccessLevel: "approve",
	})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	// Overrides are meaningless outside memberships.
	_, err = svc.Grant(ctx, ownerID, GrantInput{
		Kind:       models.KindMentorAssignment,
		SubjectID:  friendID,
		ObjectType: models.ObjectPrincipal,
		ObjectID:   ownerID,
		Overrides:  map[string]bool{"view": true},
	})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestDuplicateInvitationIsRejected(t *testing.T) {
	svc, _ := setupRelationshipService(t)
	ctx := context.Background()

	input := GrantInput{
		Kind:       models.KindMentorAssignment,
		SubjectID:  friendID,
		ObjectType: models.ObjectPrincipal,
		ObjectID:   ownerID,
	}
	_, err := svc.Invite(ctx, ownerID, input)
	require.NoError(t, err)

	_, err = svc.Invite(ctx, ownerID, input)
	require.ErrorIs(t, err, apperrors.ErrDuplicateRelationship)
}

func TestRevokeAuthority(t *testing.T) {
	svc, s := setupRelationshipService(t)
	ctx := context.Background()
	ownDocument(t, s, ownerID, "resume")

	rel, err := svc.Grant(ctx, ownerID, GrantInput{
		Kind:              models.KindDocumentReview,
		SubjectID:         friendID,
		ObjectType:        models.ObjectDocument,
		ObjectID:          "resume",
		RoleOrAccessLevel: "view",
	})
	require.NoError(t, err)

	// A bystander cannot touch the grant.
	_, err = svc.Revoke(ctx, otherID, rel.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	// The reviewer can walk away from their own grant.
	revoked, err := svc.Revoke(ctx, friendID, rel.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, revoked.Status)

	// The owner can revoke a fresh grant too.
	rel2, err := svc.Grant(ctx, ownerID, GrantInput{
		Kind:              models.KindDocumentReview,
		SubjectID:         friendID,
		ObjectType:        models.ObjectDocument,
		ObjectID:          "resume",
		RoleOrAccessLevel: "view",
	})
	require.NoError(t, err)
	revoked, err = svc.Revoke(ctx, ownerID, rel2.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, revoked.Status)
}

func TestPauseAndResume(t *testing.T) {
	svc, _ := setupRelationshipService(t)
	ctx := context.Background()

	rel, err := svc.Grant(ctx, ownerID, GrantInput{
		Kind:       models.KindMentorAssignment,
		SubjectID:  friendID,
		ObjectType: models.ObjectPrincipal,
		ObjectID:   ownerID,
	})
	require.NoError(t, err)

	paused, err := svc.Pause(ctx, ownerID, rel.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPaused, paused.Status)

	resumed, err := svc.Resume(ctx, friendID, rel.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, resumed.Status)
}

func TestRegisterOwnership(t *testing.T) {
	svc, _ := setupRelationshipService(t)
	ctx := context.Background()

	// A principal registers ownership only for themselves.
	_, err := svc.RegisterOwnership(ctx, ownerID, OwnershipInput{
		SubjectID:  friendID,
		ObjectType: models.ObjectDocument,
		ObjectID:   "resume",
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	rel, err := svc.RegisterOwnership(ctx, ownerID, OwnershipInput{
		SubjectID:  ownerID,
		ObjectType: models.ObjectDocument,
		ObjectID:   "resume",
	})
	require.NoError(t, err)
	require.Equal(t, models.KindOwnership, rel.Kind)
	require.Equal(t, models.StatusActive, rel.Status)

	// Ownership cannot be minted through the sharing surface.
	_, err = svc.Grant(ctx, ownerID, GrantInput{
		Kind:       models.KindOwnership,
		SubjectID:  ownerID,
		ObjectType: models.ObjectDocument,
		ObjectID:   "other-doc",
	})
	require.Error(t, err)
}

func TestListActiveIsSelfScoped(t *testing.T) {
	svc, _ := setupRelationshipService(t)
	ctx := context.Background()

	rel, err := svc.Grant(ctx, ownerID, GrantInput{
		Kind:       models.KindMentorAssignment,
		SubjectID:  friendID,
		ObjectType: models.ObjectPrincipal,
		ObjectID:   ownerID,
	})
	require.NoError(t, err)

	_, err = svc.ListActive(ctx, otherID, friendID, "")
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	list, err := svc.ListActive(ctx, friendID, friendID, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, rel.ID, list[0].ID)
}

func TestExpiryBoundedGrant(t *testing.T) {
	svc, s := setupRelationshipService(t)
	ctx := context.Background()
	ownDocument(t, s, ownerID, "resume")

	expiry := time.Now().Add(time.Hour)
	rel, err := svc.Grant(ctx, ownerID, GrantInput{
		Kind:              models.KindDocumentReview,
		SubjectID:         friendID,
		ObjectType:        models.ObjectDocument,
		ObjectID:          "resume",
		RoleOrAccessLevel: "view",
		ExpiresAt:         &expiry,
	})
	require.NoError(t, err)
	require.NotNil(t, rel.ExpiresAt)
	require.True(t, rel.LiveAt(time.Now()))
	require.False(t, rel.LiveAt(expiry.Add(time.Second)))
}
