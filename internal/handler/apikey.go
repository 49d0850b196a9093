package handler

import (
	"net/http"

	"saaskit/internal/service"
	"saaskit/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (h *Handler) ListAPIKeys(c echo.Context) error {
	keys, err := h.svc.APIKeys.List(c.Request().Context(), tenantID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, keys)
}

func (h *Handler) GetAPIKey(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	key, err := h.svc.APIKeys.Get(c.Request().Context(), tenantID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, key)
}

// CreateAPIKey issues a key. The plaintext is only ever returned here.
func (h *Handler) CreateAPIKey(c echo.Context) error {
	var req service.APIKeyInput
	if err := bind(c, &req); err != nil {
		return err
	}
	key, plaintext, err := h.svc.APIKeys.Create(c.Request().Context(), tenantID(c), userPtr(c), req)
	if err != nil {
		return err
	}
	logger.FromContext(c).Info("API key created",
		zap.Uint("api_key_id", key.ID),
		zap.Uint("tenant_id", key.TenantID),
		zap.String("prefix", key.Prefix))
	return c.JSON(http.StatusCreated, echo.Map{
		"api_key": key,
		"key":     plaintext,
	})
}

func (h *Handler) UpdateAPIKey(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req service.APIKeyInput
	if err := bind(c, &req); err != nil {
		return err
	}
	key, err := h.svc.APIKeys.Update(c.Request().Context(), tenantID(c), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, key)
}

func (h *Handler) DeleteAPIKey(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.APIKeys.Delete(c.Request().Context(), tenantID(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListAPIKeyLogs(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	page, perPage := pageParams(c)
	logs, pagination, err := h.svc.APIKeys.ListLogs(c.Request().Context(), tenantID(c), id, page, perPage)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paged(logs, pagination))
}

// PostmanCollection exports the API-key row endpoints as a Postman collection
func (h *Handler) PostmanCollection(c echo.Context) error {
	collection, err := h.svc.APISpec.Postman(c.Request().Context(), h.cfg.ServiceName, h.cfg.Server.BaseURL)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+h.cfg.ServiceName+`.postman_collection.json"`)
	return c.JSON(http.StatusOK, collection)
}
