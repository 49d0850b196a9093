package handler

import (
	"net/http"
	"strconv"
	"strings"

	"saaskit/internal/middleware"
	"saaskit/internal/model"
	"saaskit/internal/service"
	"saaskit/pkg/apperror"

	"github.com/labstack/echo/v4"
)

type rowRequest struct {
	Values map[string]any `json:"values" validate:"required"`
}

// rowTarget is the entity and tenant a row request acts on, plus who acts
type rowTarget struct {
	entity   *model.Entity
	tenantID *uint
	by       service.CreatedBy
}

// userRowTarget scopes a JWT request to the caller's tenant
func (h *Handler) userRowTarget(c echo.Context, _ string) (*rowTarget, error) {
	entity, err := h.activeEntity(c)
	if err != nil {
		return nil, err
	}
	return &rowTarget{entity: entity, tenantID: tenantPtr(c), by: service.CreatedBy{UserID: userPtr(c)}}, nil
}

// apiRowTarget scopes an API-key request and checks the key's permission
// for action on the entity
func (h *Handler) apiRowTarget(c echo.Context, action string) (*rowTarget, error) {
	entity, err := h.activeEntity(c)
	if err != nil {
		return nil, err
	}
	if !entity.HasAPI {
		return nil, apperror.NotFound("entity")
	}
	key := middleware.APIKey(c)
	if !h.svc.APIKeys.Can(key, entity.ID, action) {
		return nil, apperror.Forbidden("API key is not allowed to " + action + " " + entity.TitlePlural)
	}
	return &rowTarget{entity: entity, tenantID: &key.TenantID, by: service.CreatedBy{APIKeyID: &key.ID}}, nil
}

type rowTargetFunc func(c echo.Context, action string) (*rowTarget, error)

// listOptions reads q, sort_by, order (asc|desc), page, per_page and
// filter[<property>] query parameters
func listOptions(c echo.Context) service.ListOptions {
	page, perPage := pageParams(c)
	opts := service.ListOptions{
		Query:   c.QueryParam("q"),
		SortBy:  c.QueryParam("sort_by"),
		Desc:    strings.EqualFold(c.QueryParam("order"), "desc"),
		Page:    page,
		PerPage: perPage,
	}
	for key, values := range c.QueryParams() {
		name, found := strings.CutPrefix(key, "filter[")
		if !found || !strings.HasSuffix(name, "]") || len(values) == 0 {
			continue
		}
		name = strings.TrimSuffix(name, "]")
		if name == "" {
			continue
		}
		if opts.Filters == nil {
			opts.Filters = make(map[string]string)
		}
		opts.Filters[name] = values[0]
	}
	return opts
}

func (h *Handler) listRows(target rowTargetFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := target(c, model.ActionRead)
		if err != nil {
			return err
		}
		rows, pagination, err := h.svc.Rows.List(c.Request().Context(), t.entity, t.tenantID, listOptions(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, paged(rows, pagination))
	}
}

// getRow accepts either the numeric id or the row key, e.g. CTC-0001
func (h *Handler) getRow(target rowTargetFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := target(c, model.ActionRead)
		if err != nil {
			return err
		}
		ctx := c.Request().Context()

		var row *model.Row
		param := c.Param("id")
		if folio, ok := parseRowKey(t.entity.Prefix, param); ok {
			row, err = h.svc.Rows.GetByFolio(ctx, t.entity, t.tenantID, folio)
		} else {
			var id uint
			if id, err = idParam(c, "id"); err != nil {
				return err
			}
			row, err = h.svc.Rows.Get(ctx, t.entity, t.tenantID, id)
		}
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, service.ToDTO(t.entity, row))
	}
}

func parseRowKey(prefix, key string) (int, bool) {
	rest, found := strings.CutPrefix(strings.ToUpper(key), prefix+"-")
	if !found {
		return 0, false
	}
	folio, err := strconv.Atoi(rest)
	return folio, err == nil && folio > 0
}

func (h *Handler) createRow(target rowTargetFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := target(c, model.ActionCreate)
		if err != nil {
			return err
		}
		var req rowRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		row, err := h.svc.Rows.Create(c.Request().Context(), t.entity, t.tenantID, t.by, req.Values)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, service.ToDTO(t.entity, row))
	}
}

func (h *Handler) updateRow(target rowTargetFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := target(c, model.ActionUpdate)
		if err != nil {
			return err
		}
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		var req rowRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		row, err := h.svc.Rows.Update(c.Request().Context(), t.entity, t.tenantID, id, req.Values)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, service.ToDTO(t.entity, row))
	}
}

func (h *Handler) deleteRow(target rowTargetFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := target(c, model.ActionDelete)
		if err != nil {
			return err
		}
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		if err := h.svc.Rows.Delete(c.Request().Context(), t.entity, t.tenantID, id); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// Row routes for signed-in tenant members
func (h *Handler) ListRows() echo.HandlerFunc  { return h.listRows(h.userRowTarget) }
func (h *Handler) GetRow() echo.HandlerFunc    { return h.getRow(h.userRowTarget) }
func (h *Handler) CreateRow() echo.HandlerFunc { return h.createRow(h.userRowTarget) }
func (h *Handler) UpdateRow() echo.HandlerFunc { return h.updateRow(h.userRowTarget) }
func (h *Handler) DeleteRow() echo.HandlerFunc { return h.deleteRow(h.userRowTarget) }

// Row routes authenticated with an API key
func (h *Handler) APIListRows() echo.HandlerFunc  { return h.listRows(h.apiRowTarget) }
func (h *Handler) APIGetRow() echo.HandlerFunc    { return h.getRow(h.apiRowTarget) }
func (h *Handler) APICreateRow() echo.HandlerFunc { return h.createRow(h.apiRowTarget) }
func (h *Handler) APIUpdateRow() echo.HandlerFunc { return h.updateRow(h.apiRowTarget) }
func (h *Handler) APIDeleteRow() echo.HandlerFunc { return h.deleteRow(h.apiRowTarget) }
