package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pathlight-hq/pathlight/internal/auditctx"
	iauth "github.com/pathlight-hq/pathlight/internal/auth"
	"github.com/pathlight-hq/pathlight/pkg/errors"
	"github.com/pathlight-hq/pathlight/pkg/response"
)

const (
	CtxClaimsKey      = "authClaims"
	CtxPrincipalIDKey = "principalID"
)

// Auth enforces JWT authentication using the supplied JWT service. On success
// the principal's identity is propagated both into gin's context and into the
// request context for audit attribution downstream.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxPrincipalIDKey, claims.PrincipalID)

		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			PrincipalID: claims.PrincipalID,
			Service:     claims.Service,
			IPAddress:   c.ClientIP(),
			UserAgent:   c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// PrincipalID extracts the authenticated principal from gin's context.
func PrincipalID(c *gin.Context) string {
	id, _ := c.Get(CtxPrincipalIDKey)
	s, _ := id.(string)
	return s
}
