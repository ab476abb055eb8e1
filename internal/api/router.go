package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/pathlight-hq/pathlight/internal/app"
	iauth "github.com/pathlight-hq/pathlight/internal/auth"
	"github.com/pathlight-hq/pathlight/internal/authz"
	"github.com/pathlight-hq/pathlight/internal/handlers"
	"github.com/pathlight-hq/pathlight/internal/middleware"
	"github.com/pathlight-hq/pathlight/internal/services"
)

// Deps bundles the long-lived services the router exposes.
type Deps struct {
	DB            *gorm.DB
	JWT           *iauth.JWTService
	Engine        *authz.Engine
	Relationships *services.RelationshipService
	Audit         *services.AuditService
	Config        *app.Config
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("evaluation engine must be provided")
	}
	if deps.Relationships == nil {
		return nil, fmt.Errorf("relationship service must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Public endpoints
	if deps.Config.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(deps.DB))
	}
	if deps.Config.Monitoring.Prometheus.Enabled {
		endpoint := deps.Config.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	requireAuth := middleware.Auth(deps.JWT)

	api := r.Group("/api")
	api.Use(requireAuth)

	// Decisions
	decisionHandler := handlers.NewDecisionHandler(deps.Engine)
	decisions := api.Group("/decisions")
	{
		decisions.POST("/evaluate", decisionHandler.Evaluate)
		decisions.POST("/capabilities", decisionHandler.Capabilities)
	}

	// Relationships
	relationshipHandler := handlers.NewRelationshipHandler(deps.Relationships)
	relationships := api.Group("/relationships")
	{
		relationships.GET("", relationshipHandler.List)
		relationships.GET("/:id", relationshipHandler.Get)
		relationships.POST("/invite", relationshipHandler.Invite)
		relationships.POST("/grant", relationshipHandler.Grant)
		relationships.POST("/ownership", relationshipHandler.RegisterOwnership)
		relationships.POST("/:id/accept", relationshipHandler.Accept)
		relationships.POST("/:id/decline", relationshipHandler.Decline)
		relationships.POST("/:id/pause", relationshipHandler.Pause)
		relationships.POST("/:id/resume", relationshipHandler.Resume)
		relationships.POST("/:id/end", relationshipHandler.End)
		relationships.DELETE("/:id", relationshipHandler.Revoke)
	}

	// Audit log
	if deps.Audit != nil {
		auditHandler := handlers.NewAuditHandler(deps.Audit)
		audit := api.Group("/audit")
		{
			audit.GET("", auditHandler.List)
			audit.GET("/export", auditHandler.Export)
			audit.POST("/:id/hold", auditHandler.SetHold)
		}
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
