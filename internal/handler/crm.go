package handler

import (
	"net/http"

	"saaskit/internal/service"

	"github.com/labstack/echo/v4"
)

// CRMSummary returns the tenant's contact and pipeline dashboard
func (h *Handler) CRMSummary(c echo.Context) error {
	summary, err := h.svc.CRM.Summary(c.Request().Context(), tenantID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) CreateContact(c echo.Context) error {
	var req service.ContactInput
	if err := bind(c, &req); err != nil {
		return err
	}
	contact, err := h.svc.CRM.CreateContact(c.Request().Context(), tenantID(c), service.CreatedBy{UserID: userPtr(c)}, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, contact)
}
