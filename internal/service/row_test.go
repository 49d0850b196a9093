package service

import (
	"math"
	"testing"
	"time"

	"saaskit/internal/model"
	"saaskit/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rowEnv is an env with the project entity and one tenant
type rowEnv struct {
	*env
	project  *model.Entity
	tenantID uint
	by       CreatedBy
}

func newRowEnv(t *testing.T) *rowEnv {
	t.Helper()
	e := newEnv(t, nil)
	_, err := e.svc.Entities.Create(e.ctx, projectInput())
	require.NoError(t, err)
	owner := e.register(t, "ada@example.com", "Acme")
	return &rowEnv{env: e, project: e.entity(t, "project"), tenantID: owner.Tenant.ID, by: CreatedBy{UserID: &owner.User.ID}}
}

func (e *rowEnv) create(t *testing.T, values map[string]any) RowDTO {
	t.Helper()
	row, err := e.svc.Rows.Create(e.ctx, e.project, &e.tenantID, e.by, values)
	require.NoError(t, err)
	full, err := e.svc.Rows.Get(e.ctx, e.project, &e.tenantID, row.ID)
	require.NoError(t, err)
	return ToDTO(e.project, full)
}

func TestCreateRow(t *testing.T) {
	e := newRowEnv(t)

	first := e.create(t, map[string]any{
		"name":     "Apollo",
		"budget":   "1500.5",
		"billable": true,
		"dueDate":  "2024-05-01",
		"priority": "high",
		"tags":     []any{"client", "urgent", "client"},
		"site":     "https://apollo.example.com",
	})
	assert.Equal(t, 1, first.Folio)
	assert.Equal(t, "PRJ-0001", first.Key)
	assert.Equal(t, "Apollo", first.Values["name"])
	assert.Equal(t, 1500.5, first.Values["budget"])
	assert.Equal(t, true, first.Values["billable"])
	assert.Equal(t, []string{"client", "urgent"}, first.Values["tags"])
	due, ok := first.Values["dueDate"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, "2024-05-01", due.Format(dateLayout))
	require.NotNil(t, first.CreatedByUserID)

	second := e.create(t, map[string]any{"name": "Gemini"})
	assert.Equal(t, 2, second.Folio)
	assert.Nil(t, second.Values["budget"])
	assert.Nil(t, second.Values["tags"])
}

func TestCreateRowValidation(t *testing.T) {
	e := newRowEnv(t)

	tests := map[string]map[string]any{
		"missing required":  {"budget": 10},
		"empty required":    {"name": "  "},
		"unknown property":  {"name": "x", "color": "red"},
		"bad number":        {"name": "x", "budget": "lots"},
		"nan string":        {"name": "x", "budget": "NaN"},
		"infinite string":   {"name": "x", "budget": "+Inf"},
		"nan float":         {"name": "x", "budget": math.NaN()},
		"infinite float":    {"name": "x", "budget": math.Inf(-1)},
		"overflow string":   {"name": "x", "budget": "1e400"},
		"bad boolean":       {"name": "x", "billable": "yes"},
		"bad date":          {"name": "x", "dueDate": "01/05/2024"},
		"bad option":        {"name": "x", "priority": "medium"},
		"bad multi option":  {"name": "x", "tags": []any{"client", "nope"}},
		"bad url":           {"name": "x", "site": "not a url"},
		"non string option": {"name": "x", "tags": []any{1}},
	}
	for name, values := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := e.svc.Rows.Create(e.ctx, e.project, &e.tenantID, e.by, values)
			assert.True(t, apperror.Is(err, apperror.CodeInvalidInput), err)
		})
	}
}

func TestFolioIsPerTenant(t *testing.T) {
	e := newRowEnv(t)
	e.create(t, map[string]any{"name": "Apollo"})
	e.create(t, map[string]any{"name": "Gemini"})

	other := e.register(t, "bob@example.com", "Globex")
	row, err := e.svc.Rows.Create(e.ctx, e.project, &other.Tenant.ID, CreatedBy{}, map[string]any{"name": "Mercury"})
	require.NoError(t, err)
	assert.Equal(t, 1, row.Folio)

	global, err := e.svc.Rows.Create(e.ctx, e.project, nil, CreatedBy{}, map[string]any{"name": "Shared"})
	require.NoError(t, err)
	assert.Equal(t, 1, global.Folio)
	assert.Nil(t, global.TenantID)
}

func TestRowsAreTenantScoped(t *testing.T) {
	e := newRowEnv(t)
	row := e.create(t, map[string]any{"name": "Apollo"})
	other := e.register(t, "bob@example.com", "Globex")

	_, err := e.svc.Rows.Get(e.ctx, e.project, &other.Tenant.ID, row.ID)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))

	_, err = e.svc.Rows.Get(e.ctx, e.project, nil, row.ID)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))

	err = e.svc.Rows.Delete(e.ctx, e.project, &other.Tenant.ID, row.ID)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))

	byFolio, err := e.svc.Rows.GetByFolio(e.ctx, e.project, &e.tenantID, 1)
	require.NoError(t, err)
	assert.Equal(t, row.ID, byFolio.ID)
}

func TestUpdateRow(t *testing.T) {
	e := newRowEnv(t)
	row := e.create(t, map[string]any{"name": "Apollo", "budget": 100, "priority": "low"})

	updated, err := e.svc.Rows.Update(e.ctx, e.project, &e.tenantID, row.ID, map[string]any{
		"budget":   nil,
		"priority": "high",
		"billable": false,
	})
	require.NoError(t, err)
	dto := ToDTO(e.project, updated)
	assert.Equal(t, "Apollo", dto.Values["name"])
	assert.Nil(t, dto.Values["budget"])
	assert.Equal(t, "high", dto.Values["priority"])
	assert.Equal(t, false, dto.Values["billable"])
	assert.Len(t, updated.Values, 3)

	_, err = e.svc.Rows.Update(e.ctx, e.project, &e.tenantID, row.ID, map[string]any{"name": ""})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))
}

func TestDeleteRow(t *testing.T) {
	e := newRowEnv(t)
	row := e.create(t, map[string]any{"name": "Apollo", "budget": 100})

	require.NoError(t, e.svc.Rows.Delete(e.ctx, e.project, &e.tenantID, row.ID))

	var values int64
	require.NoError(t, e.db.Model(&model.RowValue{}).Where("row_id = ?", row.ID).Count(&values).Error)
	assert.Zero(t, values)

	n, err := e.svc.Rows.Count(e.ctx, e.project, &e.tenantID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListRows(t *testing.T) {
	e := newRowEnv(t)
	e.create(t, map[string]any{"name": "Apollo", "budget": 300, "billable": true, "priority": "high", "tags": []any{"client"}, "dueDate": "2024-05-01"})
	e.create(t, map[string]any{"name": "Gemini", "budget": 100, "billable": false, "priority": "low", "tags": []any{"internal"}, "dueDate": "2024-06-01"})
	e.create(t, map[string]any{"name": "Mercury", "budget": 200, "billable": true, "priority": "high", "tags": []any{"client", "urgent"}, "dueDate": "2024-05-01T15:30:00Z"})

	names := func(rows []RowDTO) []any {
		out := make([]any, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.Values["name"])
		}
		return out
	}

	tests := []struct {
		name string
		opts ListOptions
		want []any
	}{
		{"default order", ListOptions{}, []any{"Apollo", "Gemini", "Mercury"}},
		{"folio desc", ListOptions{Desc: true}, []any{"Mercury", "Gemini", "Apollo"}},
		{"sort by number", ListOptions{SortBy: "budget"}, []any{"Gemini", "Mercury", "Apollo"}},
		{"sort by text desc", ListOptions{SortBy: "name", Desc: true}, []any{"Mercury", "Gemini", "Apollo"}},
		{"select filter", ListOptions{Filters: map[string]string{"priority": "HIGH"}}, []any{"Apollo", "Mercury"}},
		{"boolean filter", ListOptions{Filters: map[string]string{"billable": "false"}}, []any{"Gemini"}},
		{"number filter", ListOptions{Filters: map[string]string{"budget": "200"}}, []any{"Mercury"}},
		{"date filter", ListOptions{Filters: map[string]string{"dueDate": "2024-05-01"}}, []any{"Apollo", "Mercury"}},
		{"multi select filter", ListOptions{Filters: map[string]string{"tags": "urgent"}}, []any{"Mercury"}},
		{"combined filters", ListOptions{Filters: map[string]string{"priority": "high", "tags": "client"}, SortBy: "budget"}, []any{"Mercury", "Apollo"}},
		{"search", ListOptions{Query: "MIN"}, []any{"Gemini"}},
		{"search and filter", ListOptions{Query: "o", Filters: map[string]string{"billable": "true"}}, []any{"Apollo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, pagination, err := e.svc.Rows.List(e.ctx, e.project, &e.tenantID, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(rows))
			assert.Equal(t, int64(len(tt.want)), pagination.Total)
		})
	}
}

func TestListRowsPagination(t *testing.T) {
	e := newRowEnv(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		e.create(t, map[string]any{"name": name})
	}

	rows, pagination, err := e.svc.Rows.List(e.ctx, e.project, &e.tenantID, ListOptions{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0].Values["name"])
	assert.Equal(t, Pagination{Page: 2, PerPage: 2, Total: 5, TotalPages: 3}, pagination)
}

func TestListRowsRejectsUnknownFields(t *testing.T) {
	e := newRowEnv(t)

	_, _, err := e.svc.Rows.List(e.ctx, e.project, &e.tenantID, ListOptions{SortBy: "color"})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	_, _, err = e.svc.Rows.List(e.ctx, e.project, &e.tenantID, ListOptions{Filters: map[string]string{"color": "red"}})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	for _, bad := range []string{"many", "NaN", "Inf", "-inf"} {
		_, _, err = e.svc.Rows.List(e.ctx, e.project, &e.tenantID, ListOptions{Filters: map[string]string{"budget": bad}})
		assert.True(t, apperror.Is(err, apperror.CodeInvalidInput), bad)
	}
}

func TestUpdateRowRejectsNonFiniteNumbers(t *testing.T) {
	e := newRowEnv(t)
	row := e.create(t, map[string]any{"name": "Apollo", "budget": 10})

	_, err := e.svc.Rows.Update(e.ctx, e.project, &e.tenantID, row.ID, map[string]any{"budget": "NaN"})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput), err)

	full, err := e.svc.Rows.Get(e.ctx, e.project, &e.tenantID, row.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(10), ToDTO(e.project, full).Values["budget"])
}
