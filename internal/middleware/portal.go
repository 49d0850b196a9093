package middleware

import (
	"saaskit/internal/model"
	"saaskit/internal/service"
	"saaskit/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const PortalKey = "portal"

// Portal resolves the published portal served on the request host and scopes
// the request to its tenant
func Portal(portals *service.PortalService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			host := c.Request().Host
			if forwarded := c.Request().Header.Get("X-Forwarded-Host"); forwarded != "" {
				host = forwarded
			}

			portal, err := portals.ResolveHost(c.Request().Context(), host)
			if err != nil {
				logger.FromContext(c).Debug("No portal for host", zap.String("host", host), zap.Error(err))
				return err
			}

			c.Set(PortalKey, portal)
			c.Set(TenantIDKey, portal.TenantID)
			return next(c)
		}
	}
}

// CurrentPortal returns the portal resolved by Portal
func CurrentPortal(c echo.Context) *model.Portal {
	portal, _ := c.Get(PortalKey).(*model.Portal)
	return portal
}
