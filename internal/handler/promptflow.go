package handler

import (
	"net/http"
	"strconv"

	"saaskit/internal/service"
	"saaskit/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// flowScope picks the tenant a flow route works in; nil means global flows
type flowScope func(c echo.Context) *uint

func globalScope(echo.Context) *uint { return nil }

func (h *Handler) listFlows(scope flowScope) echo.HandlerFunc {
	return func(c echo.Context) error {
		flows, err := h.svc.PromptFlows.List(c.Request().Context(), scope(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, flows)
	}
}

func (h *Handler) getFlow(scope flowScope) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		flow, err := h.svc.PromptFlows.Get(c.Request().Context(), scope(c), id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, flow)
	}
}

func (h *Handler) createFlow(scope flowScope) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req service.PromptFlowInput
		if err := bind(c, &req); err != nil {
			return err
		}
		flow, err := h.svc.PromptFlows.Create(c.Request().Context(), scope(c), req)
		if err != nil {
			return err
		}
		logger.FromContext(c).Info("Prompt flow created", zap.Uint("flow_id", flow.ID), zap.String("title", flow.Title))
		return c.JSON(http.StatusCreated, flow)
	}
}

func (h *Handler) updateFlow(scope flowScope) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		var req service.PromptFlowInput
		if err := bind(c, &req); err != nil {
			return err
		}
		flow, err := h.svc.PromptFlows.Update(c.Request().Context(), scope(c), id, req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, flow)
	}
}

func (h *Handler) deleteFlow(scope flowScope) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		if err := h.svc.PromptFlows.Delete(c.Request().Context(), scope(c), id); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// ExecuteFlow runs a flow visible to the tenant and charges its credits
func (h *Handler) ExecuteFlow(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req service.ExecuteInput
	if err := bind(c, &req); err != nil {
		return err
	}
	execution, err := h.svc.PromptFlows.Execute(c.Request().Context(), id, tenantPtr(c), userPtr(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, execution)
}

func (h *Handler) ListExecutions(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	page, perPage := pageParams(c)
	executions, pagination, err := h.svc.PromptFlows.ListExecutions(c.Request().Context(), tenantPtr(c), id, page, perPage)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paged(executions, pagination))
}

// FlowVariables lists the placeholders usable by a flow on :entity with
// ?templates=N steps
func (h *Handler) FlowVariables(c echo.Context) error {
	templates, _ := strconv.Atoi(c.QueryParam("templates"))
	if templates <= 0 {
		templates = 1
	}
	variables, err := h.svc.PromptFlows.AvailableVariables(c.Request().Context(), c.Param("entity"), templates)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"variables": variables})
}

// Prompt flows of the caller's tenant; public global flows are readable too
func (h *Handler) ListFlows() echo.HandlerFunc  { return h.listFlows(tenantPtr) }
func (h *Handler) GetFlow() echo.HandlerFunc    { return h.getFlow(tenantPtr) }
func (h *Handler) CreateFlow() echo.HandlerFunc { return h.createFlow(tenantPtr) }
func (h *Handler) UpdateFlow() echo.HandlerFunc { return h.updateFlow(tenantPtr) }
func (h *Handler) DeleteFlow() echo.HandlerFunc { return h.deleteFlow(tenantPtr) }

// Global prompt flows managed by admins
func (h *Handler) AdminListFlows() echo.HandlerFunc  { return h.listFlows(globalScope) }
func (h *Handler) AdminGetFlow() echo.HandlerFunc    { return h.getFlow(globalScope) }
func (h *Handler) AdminCreateFlow() echo.HandlerFunc { return h.createFlow(globalScope) }
func (h *Handler) AdminUpdateFlow() echo.HandlerFunc { return h.updateFlow(globalScope) }
func (h *Handler) AdminDeleteFlow() echo.HandlerFunc { return h.deleteFlow(globalScope) }
