package handler

import (
	"net/http"

	"saaskit/internal/middleware"
	"saaskit/internal/service"
	"saaskit/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (h *Handler) ListPortals(c echo.Context) error {
	portals, err := h.svc.Portals.List(c.Request().Context(), tenantID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, portals)
}

func (h *Handler) GetPortal(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	portal, err := h.svc.Portals.Get(c.Request().Context(), tenantID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, portal)
}

func (h *Handler) CreatePortal(c echo.Context) error {
	var req service.PortalInput
	if err := bind(c, &req); err != nil {
		return err
	}
	portal, err := h.svc.Portals.Create(c.Request().Context(), tenantID(c), userPtr(c), req)
	if err != nil {
		return err
	}
	logger.FromContext(c).Info("Portal created", zap.Uint("portal_id", portal.ID), zap.String("subdomain", portal.Subdomain))
	return c.JSON(http.StatusCreated, portal)
}

func (h *Handler) UpdatePortal(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req service.PortalInput
	if err := bind(c, &req); err != nil {
		return err
	}
	portal, err := h.svc.Portals.Update(c.Request().Context(), tenantID(c), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, portal)
}

func (h *Handler) DeletePortal(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Portals.Delete(c.Request().Context(), tenantID(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// PortalInfo describes the portal served on the request host
func (h *Handler) PortalInfo(c echo.Context) error {
	portal := middleware.CurrentPortal(c)
	return c.JSON(http.StatusOK, echo.Map{
		"id":          portal.ID,
		"title":       portal.Title,
		"description": portal.Description,
		"theme_color": portal.ThemeColor,
		"subdomain":   portal.Subdomain,
		"domain":      portal.Domain,
	})
}

// PortalContact stores a contact form submission as a CRM contact of the
// portal's tenant
func (h *Handler) PortalContact(c echo.Context) error {
	portal := middleware.CurrentPortal(c)
	var req service.ContactInput
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Source == "" {
		req.Source = "portal:" + portal.Subdomain
	}
	contact, err := h.svc.CRM.CreateContact(c.Request().Context(), portal.TenantID, service.CreatedBy{}, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Thanks, we will be in touch",
		"key":     contact.Key,
	})
}
