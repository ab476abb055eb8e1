package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pathlight-hq/pathlight/internal/authz"
	"github.com/pathlight-hq/pathlight/internal/models"
	"github.com/pathlight-hq/pathlight/internal/store"
	apperrors "github.com/pathlight-hq/pathlight/pkg/errors"
	"github.com/pathlight-hq/pathlight/pkg/logger"
)

// RelationshipService drives the relationship lifecycle: invitations, direct
// grants, acceptance, and revocation. Every mutation is authority-checked
// against the acting principal and audited.
//
// Authority checks for sharing flows read ownership straight from the store
// facts instead of running a capability evaluation. Whether an owner may share
// is not itself a capability question that depends on sharing; answering it
// from facts keeps invitation flows out of the evaluation graph.
type RelationshipService struct {
	store  *store.RelationshipStore
	engine *authz.Engine
	audit  *AuditService
	log    *zap.Logger
	now    func() time.Time
}

// NewRelationshipService wires the service. The audit service may be nil in
// tests; mutations then go unrecorded.
func NewRelationshipService(s *store.RelationshipStore, engine *authz.Engine, audit *AuditService) (*RelationshipService, error) {
	if s == nil {
		return nil, errors.New("relationship service: store is required")
	}
	if engine == nil {
		return nil, errors.New("relationship service: engine is required")
	}
	return &RelationshipService{
		store:  s,
		engine: engine,
		audit:  audit,
		log:    logger.WithModule("relationships"),
		now:    time.Now,
	}, nil
}

// GrantInput describes an invitation or direct grant.
type GrantInput struct {
	Kind              models.RelationshipKind `json:"kind" validate:"required"`
	SubjectID         string                  `json:"subject_id" validate:"required,uuid"`
	ObjectType        models.ObjectType       `json:"object_type" validate:"required"`
	ObjectID          string                  `json:"object_id" validate:"required"`
	RoleOrAccessLevel string                  `json:"role_or_access_level"`
	Overrides         map[string]bool         `json:"capability_overrides"`
	ExpiresAt         *time.Time              `json:"expires_at"`
}

// Invite creates a pending relationship that the subject must accept before it
// grants anything.
func (s *RelationshipService) Invite(ctx context.Context, actorID string, input GrantInput) (*models.Relationship, error) {
	return s.create(ctx, actorID, input, models.StatusPending)
}

// Grant creates an immediately active relationship, for flows where the
// subject's consent is implicit (the actor is sharing their own resource).
func (s *RelationshipService) Grant(ctx context.Context, actorID string, input GrantInput) (*models.Relationship, error) {
	return s.create(ctx, actorID, input, models.StatusActive)
}

func (s *RelationshipService) create(ctx context.Context, actorID string, input GrantInput, status models.RelationshipStatus) (*models.Relationship, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	if err := validateGrantShape(input); err != nil {
		return nil, err
	}
	if err := s.authorizeCreate(ctx, actorID, input); err != nil {
		return nil, err
	}

	rel, err := s.store.Create(ctx, store.CreateInput{
		Kind:              input.Kind,
		SubjectID:         input.SubjectID,
		ObjectType:        input.ObjectType,
		ObjectID:          input.ObjectID,
		Status:            status,
		RoleOrAccessLevel: input.RoleOrAccessLevel,
		Overrides:         input.Overrides,
		GrantedByID:       actorID,
		ValidFrom:         s.now(),
		ExpiresAt:         input.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "relationship.create", rel, map[string]any{"initial_status": string(status)})
	return rel, nil
}

// validateGrantShape rejects payloads the resolvers would otherwise silently
// ignore: override keys outside the membership's capability context and
// access levels unknown to the delegated kind.
func validateGrantShape(input GrantInput) error {
	membership := input.Kind == models.KindTeamMembership || input.Kind == models.KindGroupMembership
	if !membership && len(input.Overrides) > 0 {
		return apperrors.NewBadRequest("capability overrides apply only to team and group memberships")
	}
	if membership {
		allowed := authz.OverridableCapabilities(input.Kind)
		for key := range input.Overrides {
			if !allowed.Has(authz.Capability(key)) {
				return apperrors.NewBadRequest(fmt.Sprintf("unknown override capability %q for %s", key, input.Kind))
			}
		}
	}
	if input.Kind == models.KindDocumentReview || input.Kind == models.KindAdvisorGrant {
		if !authz.ValidAccessLevel(input.Kind, authz.AccessLevel(input.RoleOrAccessLevel)) {
			return apperrors.NewBadRequest(fmt.Sprintf("access level %q is not valid for %s grants", input.RoleOrAccessLevel, input.Kind))
		}
	}
	return nil
}

// authorizeCreate decides whether the actor may establish this relationship.
// Each kind has its own notion of who holds granting authority.
func (s *RelationshipService) authorizeCreate(ctx context.Context, actorID string, input GrantInput) error {
	switch input.Kind {
	case models.KindOwnership:
		// Ownership is registered at resource creation, never shared out.
		return apperrors.NewBadRequest("ownership is registered when the resource is created")

	case models.KindDocumentReview:
		// Only the document's owner shares it for review. Read from facts:
		// sharing authority must not depend on the evaluation it feeds.
		return s.requireResourceOwner(ctx, actorID, input.ObjectType, input.ObjectID)

	case models.KindAdvisorGrant, models.KindMentorAssignment, models.KindFamilySupport:
		// The person whose resources open up is the only one who can invite.
		if input.ObjectType != models.ObjectPrincipal {
			return apperrors.NewBadRequest(fmt.Sprintf("%s relationships link principals", input.Kind))
		}
		if actorID != strings.TrimSpace(input.ObjectID) {
			return apperrors.ErrForbidden
		}
		return nil

	case models.KindAccountability:
		// Either partner may initiate; the initiator is the subject.
		if input.ObjectType != models.ObjectPrincipal {
			return apperrors.NewBadRequest("accountability partnerships link principals")
		}
		if actorID != strings.TrimSpace(input.SubjectID) {
			return apperrors.ErrForbidden
		}
		return nil

	case models.KindTeamMembership, models.KindGroupMembership:
		// Membership invitations are governed by the inviter's own capability
		// on the team or group, so role overrides apply to them too.
		decision, err := s.engine.Evaluate(ctx, actorID,
			authz.ResourceRef{Type: input.ObjectType, ID: input.ObjectID}, authz.CapInvite)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return apperrors.ErrForbidden
		}
		return nil

	default:
		return apperrors.NewBadRequest(fmt.Sprintf("unknown relationship kind %q", input.Kind))
	}
}

func (s *RelationshipService) requireResourceOwner(ctx context.Context, actorID string, objectType models.ObjectType, objectID string) error {
	owner, err := s.store.ResourceOwner(ctx, objectType, objectID, s.now())
	if err != nil {
		return err
	}
	if owner == nil || owner.SubjectType != models.SubjectPrincipal || owner.SubjectID != actorID {
		return apperrors.ErrForbidden
	}
	return nil
}

// OwnershipInput registers a resource's owner.
type OwnershipInput struct {
	SubjectType models.SubjectType `json:"subject_type"`
	SubjectID   string             `json:"subject_id" validate:"required"`
	ObjectType  models.ObjectType  `json:"object_type" validate:"required"`
	ObjectID    string             `json:"object_id" validate:"required"`
}

// RegisterOwnership records the owning principal or team for a new resource.
// It is called by resource-creating services, with the creator as actor; a
// principal may only register ownership for themselves or a team they
// administer.
func (s *RelationshipService) RegisterOwnership(ctx context.Context, actorID string, input OwnershipInput) (*models.Relationship, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	subjectType := input.SubjectType
	if subjectType == "" {
		subjectType = models.SubjectPrincipal
	}

	switch subjectType {
	case models.SubjectPrincipal:
		if strings.TrimSpace(input.SubjectID) != actorID {
			return nil, apperrors.ErrForbidden
		}
	case models.SubjectTeam:
		decision, err := s.engine.Evaluate(ctx, actorID,
			authz.ResourceRef{Type: models.ObjectTeam, ID: input.SubjectID}, authz.CapManageSettings)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return nil, apperrors.ErrForbidden
		}
	default:
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown subject type %q", subjectType))
	}

	rel, err := s.store.Create(ctx, store.CreateInput{
		Kind:        models.KindOwnership,
		SubjectType: subjectType,
		SubjectID:   input.SubjectID,
		ObjectType:  input.ObjectType,
		ObjectID:    input.ObjectID,
		Status:      models.StatusActive,
		GrantedByID: actorID,
		ValidFrom:   s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "relationship.register_ownership", rel, nil)
	return rel, nil
}

// Accept activates a pending relationship. Only the invited subject may.
func (s *RelationshipService) Accept(ctx context.Context, actorID, relationshipID string) (*models.Relationship, error) {
	return s.respond(ctx, actorID, relationshipID, models.StatusActive, "relationship.accept")
}

// Decline refuses a pending relationship. Only the invited subject may.
func (s *RelationshipService) Decline(ctx context.Context, actorID, relationshipID string) (*models.Relationship, error) {
	return s.respond(ctx, actorID, relationshipID, models.StatusDeclined, "relationship.decline")
}

func (s *RelationshipService) respond(ctx context.Context, actorID, relationshipID string, target models.RelationshipStatus, action string) (*models.Relationship, error) {
	rel, err := s.store.Get(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	if rel.SubjectType != models.SubjectPrincipal || rel.SubjectID != strings.TrimSpace(actorID) {
		return nil, apperrors.ErrForbidden
	}
	if rel.Status != models.StatusPending {
		return nil, apperrors.ErrInvalidTransition.WithInternal(
			fmt.Errorf("respond to %s relationship", rel.Status))
	}

	updated, err := s.store.Transition(ctx, relationshipID, target)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, action, updated, nil)
	return updated, nil
}

// Pause suspends an active relationship without ending it.
func (s *RelationshipService) Pause(ctx context.Context, actorID, relationshipID string) (*models.Relationship, error) {
	return s.transition(ctx, actorID, relationshipID, models.StatusPaused, "relationship.pause")
}

// Resume reactivates a paused relationship.
func (s *RelationshipService) Resume(ctx context.Context, actorID, relationshipID string) (*models.Relationship, error) {
	return s.transition(ctx, actorID, relationshipID, models.StatusActive, "relationship.resume")
}

// End closes out a relationship that ran its natural course.
func (s *RelationshipService) End(ctx context.Context, actorID, relationshipID string) (*models.Relationship, error) {
	return s.transition(ctx, actorID, relationshipID, models.StatusEnded, "relationship.end")
}

// Revoke cancels a relationship before or during its life.
func (s *RelationshipService) Revoke(ctx context.Context, actorID, relationshipID string) (*models.Relationship, error) {
	return s.transition(ctx, actorID, relationshipID, models.StatusCancelled, "relationship.revoke")
}

func (s *RelationshipService) transition(ctx context.Context, actorID, relationshipID string, target models.RelationshipStatus, action string) (*models.Relationship, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	rel, err := s.store.Get(ctx, relationshipID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.mayManage(ctx, actorID, rel)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apperrors.ErrForbidden
	}

	updated, err := s.store.Transition(ctx, relationshipID, target)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, action, updated, map[string]any{"from": string(rel.Status)})
	return updated, nil
}

// mayManage decides whether the actor can transition an existing relationship:
// its subject, the principal whose resources it opens, whoever granted it, or
// a manager of the team or group it belongs to.
func (s *RelationshipService) mayManage(ctx context.Context, actorID string, rel *models.Relationship) (bool, error) {
	if rel.SubjectType == models.SubjectPrincipal && rel.SubjectID == actorID {
		return true, nil
	}
	if rel.GrantedByID != nil && *rel.GrantedByID == actorID {
		return true, nil
	}

	switch rel.ObjectType {
	case models.ObjectPrincipal:
		return rel.ObjectID == actorID, nil

	case models.ObjectTeam:
		decision, err := s.engine.Evaluate(ctx, actorID,
			authz.ResourceRef{Type: models.ObjectTeam, ID: rel.ObjectID}, authz.CapRemoveMember)
		if err != nil {
			return false, err
		}
		return decision.Allowed, nil

	case models.ObjectGroup:
		decision, err := s.engine.Evaluate(ctx, actorID,
			authz.ResourceRef{Type: models.ObjectGroup, ID: rel.ObjectID}, authz.CapModerate)
		if err != nil {
			return false, err
		}
		return decision.Allowed, nil

	default:
		// Resource-scoped grants are managed by the resource's owner.
		owner, err := s.store.ResourceOwner(ctx, rel.ObjectType, rel.ObjectID, s.now())
		if err != nil {
			return false, err
		}
		return owner != nil && owner.SubjectType == models.SubjectPrincipal && owner.SubjectID == actorID, nil
	}
}

// Get loads a single relationship, visible to anyone allowed to manage it or
// named by it.
func (s *RelationshipService) Get(ctx context.Context, actorID, relationshipID string) (*models.Relationship, error) {
	rel, err := s.store.Get(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	allowed, err := s.mayManage(ctx, strings.TrimSpace(actorID), rel)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apperrors.ErrNotFound
	}
	return rel, nil
}

// ListActive collects a principal's live relationships, optionally narrowed to
// one kind. Principals see their own list; anyone else is refused.
func (s *RelationshipService) ListActive(ctx context.Context, actorID, principalID string, kind models.RelationshipKind) ([]models.Relationship, error) {
	if strings.TrimSpace(actorID) != strings.TrimSpace(principalID) {
		return nil, apperrors.ErrForbidden
	}

	iter := s.store.ListActive(principalID, kind)
	var out []models.Relationship
	for iter.Next(ctx) {
		out = append(out, *iter.Relationship())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RelationshipService) recordAudit(ctx context.Context, action string, rel *models.Relationship, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.RecordLifecycle(ctx, action, rel, "success", metadata)
}
