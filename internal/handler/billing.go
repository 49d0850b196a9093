package handler

import (
	"net/http"

	"saaskit/internal/service"
	"saaskit/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type subscribeRequest struct {
	Plan string `json:"plan" validate:"required"`
}

// Usage reports the tenant's plan, period and consumption
func (h *Handler) Usage(c echo.Context) error {
	usage, err := h.svc.Billing.Usage(c.Request().Context(), tenantID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, usage)
}

// ListCredits pages the tenant's credit ledger
func (h *Handler) ListCredits(c echo.Context) error {
	page, perPage := pageParams(c)
	credits, pagination, err := h.svc.Billing.ListCredits(c.Request().Context(), tenantID(c), page, perPage)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paged(credits, pagination))
}

// ListPlans lists the active plans, also served publicly as /pricing
func (h *Handler) ListPlans(c echo.Context) error {
	plans, err := h.svc.Billing.ListPlans(c.Request().Context(), true)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plans)
}

func (h *Handler) AdminListPlans(c echo.Context) error {
	plans, err := h.svc.Billing.ListPlans(c.Request().Context(), false)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plans)
}

// UpsertPlan creates the plan of the given slug or replaces it
func (h *Handler) UpsertPlan(c echo.Context) error {
	var req service.PlanInput
	if err := bind(c, &req); err != nil {
		return err
	}
	plan, err := h.svc.Billing.UpsertPlan(c.Request().Context(), req)
	if err != nil {
		return err
	}
	logger.FromContext(c).Info("Plan saved", zap.String("slug", plan.Slug))
	return c.JSON(http.StatusOK, plan)
}

// Subscribe assigns a plan to the tenant in :id
func (h *Handler) Subscribe(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req subscribeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	subscription, err := h.svc.Billing.Subscribe(c.Request().Context(), id, req.Plan)
	if err != nil {
		return err
	}
	logger.FromContext(c).Info("Tenant subscribed", zap.Uint("tenant_id", id), zap.String("plan", req.Plan))
	return c.JSON(http.StatusOK, subscription)
}

func (h *Handler) CancelSubscription(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Billing.CancelSubscription(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
