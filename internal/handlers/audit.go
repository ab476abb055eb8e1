package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pathlight-hq/pathlight/internal/services"
	apperrors "github.com/pathlight-hq/pathlight/pkg/errors"
	"github.com/pathlight-hq/pathlight/pkg/response"
)

// AuditHandler exposes the decision audit log over HTTP.
type AuditHandler struct {
	svc *services.AuditService
}

// NewAuditHandler wires the handler around the audit service.
func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

func auditFilterFromQuery(c *gin.Context) services.AuditFilter {
	filter := services.AuditFilter{
		PrincipalID:  c.Query("principal_id"),
		ActorID:      c.Query("actor_id"),
		Action:       c.Query("action"),
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
		Result:       c.Query("result"),
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filter.Since = t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			filter.Until = t
		}
	}
	return filter
}

// List returns matching audit entries newest-first.
//
// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	per, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if per < 1 {
		per = 50
	}

	filter := auditFilterFromQuery(c)
	filter.Limit = per
	filter.Offset = (page - 1) * per

	entries, total, err := h.svc.List(requestContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, entries, &response.Meta{
		Page:    page,
		PerPage: per,
		Total:   int(total),
	})
}

// Export streams matching entries as JSON lines.
//
// GET /api/audit/export
func (h *AuditHandler) Export(c *gin.Context) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Content-Disposition", "attachment; filename=audit-export.jsonl")

	if err := h.svc.Export(requestContext(c), auditFilterFromQuery(c), c.Writer); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type holdRequest struct {
	Hold bool `json:"hold"`
}

// SetHold pins or releases an audit entry from retention cleanup.
//
// POST /api/audit/:id/hold
func (h *AuditHandler) SetHold(c *gin.Context) {
	var req holdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	if err := h.svc.SetComplianceHold(requestContext(c), c.Param("id"), req.Hold); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": c.Param("id"), "compliance_hold": req.Hold})
}
