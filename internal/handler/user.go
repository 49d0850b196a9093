package handler

import (
	"net/http"

	"saaskit/internal/middleware"
	"saaskit/internal/service"

	"github.com/labstack/echo/v4"
)

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// GetProfile returns the caller with their tenants
func (h *Handler) GetProfile(c echo.Context) error {
	ctx := c.Request().Context()
	user, err := h.svc.Users.Get(ctx, middleware.UserID(c))
	if err != nil {
		return err
	}
	tenants, err := h.svc.Tenants.ListForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user":    user,
		"tenants": tenants,
	})
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	var req service.ProfileInput
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := h.svc.Users.UpdateProfile(c.Request().Context(), middleware.UserID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.Users.ChangePassword(c.Request().Context(), middleware.UserID(c), req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password changed"})
}
