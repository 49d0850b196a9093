package handler

import (
	"net/http"

	"saaskit/internal/middleware"
	"saaskit/internal/service"
	"saaskit/pkg/apperror"
	"saaskit/pkg/jwtutil"
	"saaskit/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	TenantID *uint  `json:"tenant_id,omitempty"`
}

type tenantRequest struct {
	TenantID uint `json:"tenant_id" validate:"required"`
}

// issue signs a token for the session and builds the auth response
func (h *Handler) issue(session *service.Session) (echo.Map, error) {
	var tenant *jwtutil.TenantContext
	if session.Tenant != nil {
		tenant = &jwtutil.TenantContext{ID: session.Tenant.ID, Slug: session.Tenant.Slug, Role: session.Role}
	}
	token, err := h.jwt.GenerateToken(session.User.Email, session.User.ID, session.User.IsAdmin, tenant)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "token error")
	}

	response := echo.Map{
		"token": token,
		"user":  session.User,
	}
	if session.Tenant != nil {
		response["tenant"] = echo.Map{
			"id":   session.Tenant.ID,
			"slug": session.Tenant.Slug,
			"name": session.Tenant.Name,
			"role": session.Role,
		}
	}
	return response, nil
}

// Register creates an account, optionally with its first tenant
func (h *Handler) Register(c echo.Context) error {
	var req service.RegisterInput
	if err := bind(c, &req); err != nil {
		return err
	}

	session, err := h.svc.Users.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	response, err := h.issue(session)
	if err != nil {
		return err
	}
	response["message"] = "User registered successfully"
	return c.JSON(http.StatusCreated, response)
}

// Login exchanges credentials for a token, in the requested or default tenant
func (h *Handler) Login(c echo.Context) error {
	log := logger.FromContext(c)

	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	session, err := h.svc.Users.Authenticate(c.Request().Context(), req.Email, req.Password, req.TenantID)
	if err != nil {
		return err
	}
	response, err := h.issue(session)
	if err != nil {
		return err
	}

	fields := []zap.Field{zap.String("email", session.User.Email)}
	if session.Tenant != nil {
		fields = append(fields, zap.Uint("tenant_id", session.Tenant.ID), zap.String("role", session.Role))
	}
	log.Info("User logged in", fields...)
	return c.JSON(http.StatusOK, response)
}

// SwitchTenant issues a token scoped to another tenant of the caller
func (h *Handler) SwitchTenant(c echo.Context) error {
	var req tenantRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	user, err := h.svc.Users.Get(ctx, middleware.UserID(c))
	if err != nil {
		return err
	}
	session, err := h.svc.Users.ResolveTenant(ctx, user, &req.TenantID)
	if err != nil {
		return err
	}
	response, err := h.issue(session)
	if err != nil {
		return err
	}

	logger.FromContext(c).Info("Tenant switched",
		zap.Uint("user_id", user.ID),
		zap.Uint("tenant_id", req.TenantID))
	return c.JSON(http.StatusOK, response)
}

// SetDefaultTenant chooses the tenant used when logging in without one
func (h *Handler) SetDefaultTenant(c echo.Context) error {
	var req tenantRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.Users.SetDefaultTenant(c.Request().Context(), middleware.UserID(c), req.TenantID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":           "Default tenant updated",
		"default_tenant_id": req.TenantID,
	})
}
