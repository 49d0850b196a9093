package handler

import (
	"net/http"

	"saaskit/internal/model"
	"saaskit/internal/service"
	"saaskit/pkg/apperror"
	"saaskit/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type reorderRequest struct {
	Names []string `json:"names" validate:"required,min=1"`
}

// activeEntity resolves the :slug path parameter to an active entity
func (h *Handler) activeEntity(c echo.Context) (*model.Entity, error) {
	entity, err := h.svc.Entities.GetBySlug(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return nil, err
	}
	if !entity.Active {
		return nil, apperror.NotFound("entity")
	}
	return entity, nil
}

// ListEntities lists the active entities a tenant can store rows in
func (h *Handler) ListEntities(c echo.Context) error {
	entities, err := h.svc.Entities.List(c.Request().Context(), true)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entities)
}

func (h *Handler) GetEntity(c echo.Context) error {
	entity, err := h.activeEntity(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}

// AdminListEntities lists every entity, inactive ones included
func (h *Handler) AdminListEntities(c echo.Context) error {
	entities, err := h.svc.Entities.List(c.Request().Context(), false)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entities)
}

func (h *Handler) AdminGetEntity(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	entity, err := h.svc.Entities.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}

func (h *Handler) CreateEntity(c echo.Context) error {
	var req service.EntityInput
	if err := bind(c, &req); err != nil {
		return err
	}
	entity, err := h.svc.Entities.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	logger.FromContext(c).Info("Entity created", zap.String("name", entity.Name), zap.Uint("entity_id", entity.ID))
	return c.JSON(http.StatusCreated, entity)
}

func (h *Handler) UpdateEntity(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req service.EntityInput
	if err := bind(c, &req); err != nil {
		return err
	}
	entity, err := h.svc.Entities.Update(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}

// DeleteEntity removes the entity with its properties and every row
func (h *Handler) DeleteEntity(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Entities.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	logger.FromContext(c).Info("Entity deleted", zap.Uint("entity_id", id))
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddProperty(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req service.PropertyInput
	if err := bind(c, &req); err != nil {
		return err
	}
	property, err := h.svc.Entities.AddProperty(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, property)
}

func (h *Handler) UpdateProperty(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req service.PropertyInput
	if err := bind(c, &req); err != nil {
		return err
	}
	property, err := h.svc.Entities.UpdateProperty(c.Request().Context(), id, c.Param("name"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, property)
}

func (h *Handler) DeleteProperty(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Entities.DeleteProperty(c.Request().Context(), id, c.Param("name")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ReorderProperties(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req reorderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	entity, err := h.svc.Entities.ReorderProperties(c.Request().Context(), id, req.Names)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}
