package middleware

import (
	"fmt"
	"strings"

	"saaskit/internal/model"
	"saaskit/internal/service"
	"saaskit/pkg/apperror"
	"saaskit/pkg/jwtutil"
	"saaskit/pkg/logger"
	"saaskit/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Keys of the values Auth stores in the echo context
const (
	UserIDKey     = "user_id"
	EmailKey      = "email"
	IsAdminKey    = "is_admin"
	TenantIDKey   = "tenant_id"
	TenantSlugKey = "tenant_slug"
	RoleKey       = "user_role"
)

// Auth validates the bearer JWT from the Authorization header and stores the
// user and tenant claims in the context
func Auth(j *jwtutil.JWTUtil) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				log.Warn("Missing Authorization header")
				return apperror.Unauthorized("missing authorization token")
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Warn("Invalid Authorization header format")
				return apperror.Unauthorized("invalid authorization format, expected Bearer token")
			}

			claims, err := j.ValidateToken(parts[1])
			if err != nil {
				log.Warn("Invalid JWT token", zap.Error(err))
				return apperror.Unauthorized("invalid or expired token")
			}

			c.Set(UserIDKey, claims.UserID)
			c.Set(EmailKey, claims.Email)
			c.Set(IsAdminKey, claims.IsAdmin)

			if claims.TenantID != nil {
				c.Set(TenantIDKey, *claims.TenantID)
				c.Set(TenantSlugKey, claims.TenantSlug)
				c.Set(RoleKey, claims.Role)
				c.Request().Header.Set("X-Tenant-ID", fmt.Sprintf("%d", *claims.TenantID))

				log.Debug("Request authenticated with tenant context",
					zap.Uint("tenant_id", *claims.TenantID),
					zap.String("tenant_slug", claims.TenantSlug),
					zap.String("role", claims.Role))
			}

			return next(c)
		}
	}
}

// UserID returns the authenticated user, 0 when absent
func UserID(c echo.Context) uint {
	id, _ := c.Get(UserIDKey).(uint)
	return id
}

// TenantID returns the tenant of the request, from the token or an API key
func TenantID(c echo.Context) (uint, bool) {
	id, ok := c.Get(TenantIDKey).(uint)
	return id, ok && id != 0
}

// Role returns the caller's role in the current tenant
func Role(c echo.Context) string {
	role, _ := c.Get(RoleKey).(string)
	return role
}

// IsAdmin reports whether the caller is a platform administrator
func IsAdmin(c echo.Context) bool {
	admin, _ := c.Get(IsAdminKey).(bool)
	return admin
}

// RequireTenantContext rejects tokens issued without a tenant and checks the
// token's tenant against the stored membership. The role of the request is
// the stored one, not the claim.
func RequireTenantContext(tenants *service.TenantService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)
			tenantID, ok := TenantID(c)
			if !ok {
				log.Warn("Missing tenant context")
				prometheus.RecordTenantOperation("missing_context")
				return apperror.Forbidden("tenant context required, select a tenant first")
			}

			membership, err := tenants.Access(c.Request().Context(), UserID(c), tenantID)
			if err != nil {
				log.Warn("Tenant access denied",
					zap.Uint("user_id", UserID(c)),
					zap.Uint("tenant_id", tenantID),
					zap.Error(err))
				prometheus.RecordTenantOperation("access_denied")
				return err
			}
			c.Set(RoleKey, membership.Role)
			return next(c)
		}
	}
}

// RequireRole allows callers whose tenant role ranks at least min
func RequireRole(min string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := Role(c)
			if model.RoleRank(role) < model.RoleRank(min) {
				logger.FromContext(c).Warn("Insufficient tenant role",
					zap.String("role", role),
					zap.String("required", min))
				return apperror.Forbidden("insufficient permissions")
			}
			return next(c)
		}
	}
}

// RequireAdmin allows platform administrators only
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !IsAdmin(c) {
			logger.FromContext(c).Warn("Admin access denied", zap.Uint("user_id", UserID(c)))
			return apperror.Forbidden("admin access required")
		}
		return next(c)
	}
}
