package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pathlight-hq/pathlight/internal/authz"
	"github.com/pathlight-hq/pathlight/internal/middleware"
	"github.com/pathlight-hq/pathlight/internal/models"
	apperrors "github.com/pathlight-hq/pathlight/pkg/errors"
	"github.com/pathlight-hq/pathlight/pkg/response"
	"github.com/pathlight-hq/pathlight/pkg/validator"
)

// DecisionHandler exposes capability evaluation over HTTP.
type DecisionHandler struct {
	engine *authz.Engine
}

// NewDecisionHandler wires the handler around an evaluation engine.
func NewDecisionHandler(engine *authz.Engine) *DecisionHandler {
	return &DecisionHandler{engine: engine}
}

type evaluateRequest struct {
	PrincipalID  string `json:"principal_id" validate:"omitempty,uuid"`
	ResourceType string `json:"resource_type" validate:"required"`
	ResourceID   string `json:"resource_id" validate:"required"`
	Capability   string `json:"capability" validate:"required"`
}

// Evaluate answers a single capability question. A deny is a successful
// response with allowed=false; only malformed queries and store outages
// produce error statuses.
//
// POST /api/decisions/evaluate
func (h *DecisionHandler) Evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}
	if err := validator.ValidateStruct(req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	// Callers ask about themselves unless they name another principal
	// (service-to-service checks).
	principalID := req.PrincipalID
	if principalID == "" {
		principalID = middleware.PrincipalID(c)
	}

	decision, err := h.engine.Evaluate(requestContext(c), principalID,
		authz.ResourceRef{Type: models.ObjectType(req.ResourceType), ID: req.ResourceID},
		authz.Capability(req.Capability))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, decision)
}

type capabilitiesRequest struct {
	PrincipalID  string `json:"principal_id" validate:"omitempty,uuid"`
	ResourceType string `json:"resource_type" validate:"required"`
	ResourceID   string `json:"resource_id" validate:"required"`
}

// Capabilities evaluates the resource family's whole capability set at once,
// for UIs deciding which controls to render.
//
// POST /api/decisions/capabilities
func (h *DecisionHandler) Capabilities(c *gin.Context) {
	var req capabilitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}
	if err := validator.ValidateStruct(req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	principalID := req.PrincipalID
	if principalID == "" {
		principalID = middleware.PrincipalID(c)
	}

	resource := authz.ResourceRef{Type: models.ObjectType(req.ResourceType), ID: req.ResourceID}
	family := authz.FamilyCapabilities(resource.Type)
	if family == nil {
		response.Error(c, apperrors.NewBadRequest("unknown resource type "+req.ResourceType))
		return
	}

	granted := make(map[string]bool)
	for _, capability := range family.Sorted() {
		decision, err := h.engine.Evaluate(requestContext(c), principalID, resource, capability)
		if err != nil {
			response.Error(c, err)
			return
		}
		granted[string(capability)] = decision.Allowed
	}

	response.Success(c, http.StatusOK, gin.H{
		"principal_id": principalID,
		"resource":     resource,
		"capabilities": granted,
	})
}
