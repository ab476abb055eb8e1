package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pathlight-hq/pathlight/internal/middleware"
	"github.com/pathlight-hq/pathlight/internal/models"
	"github.com/pathlight-hq/pathlight/internal/services"
	apperrors "github.com/pathlight-hq/pathlight/pkg/errors"
	"github.com/pathlight-hq/pathlight/pkg/response"
	"github.com/pathlight-hq/pathlight/pkg/validator"
)

// RelationshipHandler exposes the relationship lifecycle over HTTP.
type RelationshipHandler struct {
	svc *services.RelationshipService
}

// NewRelationshipHandler wires the handler around the relationship service.
func NewRelationshipHandler(svc *services.RelationshipService) *RelationshipHandler {
	return &RelationshipHandler{svc: svc}
}

type grantRequest struct {
	Kind              string          `json:"kind" validate:"required"`
	SubjectID         string          `json:"subject_id" validate:"required,uuid"`
	ObjectType        string          `json:"object_type" validate:"required"`
	ObjectID          string          `json:"object_id" validate:"required"`
	RoleOrAccessLevel string          `json:"role_or_access_level"`
	Overrides         map[string]bool `json:"capability_overrides"`
	ExpiresAt         *time.Time      `json:"expires_at"`
}

func (r grantRequest) toInput() services.GrantInput {
	return services.GrantInput{
		Kind:              models.RelationshipKind(r.Kind),
		SubjectID:         r.SubjectID,
		ObjectType:        models.ObjectType(r.ObjectType),
		ObjectID:          r.ObjectID,
		RoleOrAccessLevel: r.RoleOrAccessLevel,
		Overrides:         r.Overrides,
		ExpiresAt:         r.ExpiresAt,
	}
}

// Invite creates a pending relationship awaiting the subject's consent.
//
// POST /api/relationships/invite
func (h *RelationshipHandler) Invite(c *gin.Context) {
	h.create(c, h.svc.Invite)
}

// Grant creates an immediately active relationship.
//
// POST /api/relationships/grant
func (h *RelationshipHandler) Grant(c *gin.Context) {
	h.create(c, h.svc.Grant)
}

func (h *RelationshipHandler) create(c *gin.Context, fn func(ctx context.Context, actorID string, input services.GrantInput) (*models.Relationship, error)) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}
	if err := validator.ValidateStruct(req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	rel, err := fn(requestContext(c), middleware.PrincipalID(c), req.toInput())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, rel)
}

type ownershipRequest struct {
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id" validate:"required"`
	ObjectType  string `json:"object_type" validate:"required"`
	ObjectID    string `json:"object_id" validate:"required"`
}

// RegisterOwnership records a resource's owner at creation time.
//
// POST /api/relationships/ownership
func (h *RelationshipHandler) RegisterOwnership(c *gin.Context) {
	var req ownershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}
	if err := validator.ValidateStruct(req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	rel, err := h.svc.RegisterOwnership(requestContext(c), middleware.PrincipalID(c), services.OwnershipInput{
		SubjectType: models.SubjectType(req.SubjectType),
		SubjectID:   req.SubjectID,
		ObjectType:  models.ObjectType(req.ObjectType),
		ObjectID:    req.ObjectID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, rel)
}

// Get loads one relationship.
//
// GET /api/relationships/:id
func (h *RelationshipHandler) Get(c *gin.Context) {
	rel, err := h.svc.Get(requestContext(c), middleware.PrincipalID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, rel)
}

// List returns the caller's live relationships.
//
// GET /api/relationships
func (h *RelationshipHandler) List(c *gin.Context) {
	actorID := middleware.PrincipalID(c)
	kind := models.RelationshipKind(c.Query("kind"))

	rels, err := h.svc.ListActive(requestContext(c), actorID, actorID, kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, rels)
}

// Accept activates a pending invitation addressed to the caller.
//
// POST /api/relationships/:id/accept
func (h *RelationshipHandler) Accept(c *gin.Context) {
	h.transition(c, h.svc.Accept)
}

// Decline refuses a pending invitation addressed to the caller.
//
// POST /api/relationships/:id/decline
func (h *RelationshipHandler) Decline(c *gin.Context) {
	h.transition(c, h.svc.Decline)
}

// Pause suspends an active relationship.
//
// POST /api/relationships/:id/pause
func (h *RelationshipHandler) Pause(c *gin.Context) {
	h.transition(c, h.svc.Pause)
}

// Resume reactivates a paused relationship.
//
// POST /api/relationships/:id/resume
func (h *RelationshipHandler) Resume(c *gin.Context) {
	h.transition(c, h.svc.Resume)
}

// End closes a relationship that ran its course.
//
// POST /api/relationships/:id/end
func (h *RelationshipHandler) End(c *gin.Context) {
	h.transition(c, h.svc.End)
}

// Revoke cancels a relationship.
//
// DELETE /api/relationships/:id
func (h *RelationshipHandler) Revoke(c *gin.Context) {
	h.transition(c, h.svc.Revoke)
}

func (h *RelationshipHandler) transition(c *gin.Context, fn func(ctx context.Context, actorID, relationshipID string) (*models.Relationship, error)) {
	rel, err := fn(requestContext(c), middleware.PrincipalID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, rel)
}
