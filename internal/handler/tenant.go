package handler

import (
	"net/http"

	"saaskit/internal/middleware"
	"saaskit/internal/service"
	"saaskit/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type memberRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=admin member"`
}

type memberRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin member"`
}

// CreateTenant creates a tenant owned by the caller
func (h *Handler) CreateTenant(c echo.Context) error {
	var req service.TenantInput
	if err := bind(c, &req); err != nil {
		return err
	}
	tenant, err := h.svc.Tenants.Create(c.Request().Context(), middleware.UserID(c), req)
	if err != nil {
		return err
	}
	logger.FromContext(c).Info("Tenant created",
		zap.Uint("tenant_id", tenant.ID),
		zap.String("slug", tenant.Slug))
	return c.JSON(http.StatusCreated, tenant)
}

// ListUserTenants lists the caller's memberships
func (h *Handler) ListUserTenants(c echo.Context) error {
	tenants, err := h.svc.Tenants.ListForUser(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tenants)
}

// GetCurrentTenant returns the tenant of the token with its usage
func (h *Handler) GetCurrentTenant(c echo.Context) error {
	ctx := c.Request().Context()
	tenant, err := h.svc.Tenants.Get(ctx, tenantID(c))
	if err != nil {
		return err
	}
	usage, err := h.svc.Billing.Usage(ctx, tenant.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"tenant": tenant,
		"role":   middleware.Role(c),
		"usage":  usage,
	})
}

func (h *Handler) UpdateCurrentTenant(c echo.Context) error {
	var req service.TenantInput
	if err := bind(c, &req); err != nil {
		return err
	}
	tenant, err := h.svc.Tenants.Update(c.Request().Context(), tenantID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tenant)
}

func (h *Handler) DeleteCurrentTenant(c echo.Context) error {
	id := tenantID(c)
	if err := h.svc.Tenants.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	logger.FromContext(c).Info("Tenant deleted", zap.Uint("tenant_id", id), zap.Uint("user_id", middleware.UserID(c)))
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListMembers(c echo.Context) error {
	members, err := h.svc.Tenants.ListMembers(c.Request().Context(), tenantID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, members)
}

// AddMember adds an existing user to the current tenant by email
func (h *Handler) AddMember(c echo.Context) error {
	var req memberRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	membership, err := h.svc.Tenants.AddMember(c.Request().Context(), tenantID(c), req.Email, req.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, membership)
}

func (h *Handler) UpdateMemberRole(c echo.Context) error {
	userID, err := idParam(c, "user_id")
	if err != nil {
		return err
	}
	var req memberRoleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	membership, err := h.svc.Tenants.UpdateMemberRole(c.Request().Context(), tenantID(c), userID, req.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, membership)
}

func (h *Handler) RemoveMember(c echo.Context) error {
	userID, err := idParam(c, "user_id")
	if err != nil {
		return err
	}
	if err := h.svc.Tenants.RemoveMember(c.Request().Context(), tenantID(c), userID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// AdminListTenants searches every tenant
func (h *Handler) AdminListTenants(c echo.Context) error {
	page, perPage := pageParams(c)
	tenants, pagination, err := h.svc.Tenants.AdminList(c.Request().Context(), c.QueryParam("q"), page, perPage)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paged(tenants, pagination))
}
