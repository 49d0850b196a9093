package handler

import (
	"net/http"

	"saaskit/internal/service"

	"github.com/labstack/echo/v4"
)

// BlockTypes lists the page-builder blocks with their required fields
func BlockTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, service.BlockTypes())
}

func (h *Handler) ListPages(c echo.Context) error {
	pages, err := h.svc.Pages.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pages)
}

func (h *Handler) GetPage(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	page, err := h.svc.Pages.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) CreatePage(c echo.Context) error {
	var req service.PageInput
	if err := bind(c, &req); err != nil {
		return err
	}
	page, err := h.svc.Pages.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, page)
}

func (h *Handler) UpdatePage(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req service.PageInput
	if err := bind(c, &req); err != nil {
		return err
	}
	page, err := h.svc.Pages.Update(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) DeletePage(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Pages.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// PublishedPage serves a published page; /pages itself is the landing page
func (h *Handler) PublishedPage(c echo.Context) error {
	page, err := h.svc.Pages.GetPublished(c.Request().Context(), c.Param("*"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}
