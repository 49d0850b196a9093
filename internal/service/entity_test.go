package service

import (
	"testing"

	"saaskit/internal/model"
	"saaskit/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projectInput() EntityInput {
	return EntityInput{
		Name:   "project",
		Title:  "Project",
		Prefix: "prj",
		Properties: []PropertyInput{
			{Name: "name", Title: "Name", Type: model.PropertyText, IsRequired: true},
			{Name: "budget", Title: "Budget", Type: model.PropertyNumber},
			{Name: "billable", Title: "Billable", Type: model.PropertyBoolean},
			{Name: "dueDate", Title: "Due date", Type: model.PropertyDate},
			{Name: "priority", Title: "Priority", Type: model.PropertySelect, Options: []OptionInput{
				{Value: "low"}, {Value: "high", Name: "High"},
			}},
			{Name: "tags", Title: "Tags", Type: model.PropertyMultiSelect, Options: []OptionInput{
				{Value: "internal"}, {Value: "client"}, {Value: "urgent"},
			}},
			{Name: "site", Title: "Site", Type: model.PropertyURL},
		},
	}
}

func TestCreateEntity(t *testing.T) {
	e := newEnv(t, nil)

	entity, err := e.svc.Entities.Create(e.ctx, projectInput())
	require.NoError(t, err)
	assert.Equal(t, "PRJ", entity.Prefix)
	assert.Equal(t, "Projects", entity.TitlePlural)
	assert.Equal(t, "projects", entity.Slug)
	assert.True(t, entity.HasAPI)
	assert.True(t, entity.Active)

	loaded := e.entity(t, "project")
	require.Len(t, loaded.Properties, 7)
	assert.Equal(t, "name", loaded.Properties[0].Name)
	assert.Equal(t, "site", loaded.Properties[6].Name)
	priority := loaded.Property("priority")
	require.NotNil(t, priority)
	require.Len(t, priority.Options, 2)
	assert.Equal(t, "low", priority.Options[0].Name)

	bySlug, err := e.svc.Entities.GetBySlug(e.ctx, "projects")
	require.NoError(t, err)
	assert.Equal(t, entity.ID, bySlug.ID)
}

func TestCreateEntityWithDisabledFlags(t *testing.T) {
	e := newEnv(t, nil)

	in := projectInput()
	in.HasAPI = ptr(false)
	in.Active = ptr(false)
	_, err := e.svc.Entities.Create(e.ctx, in)
	require.NoError(t, err)

	loaded := e.entity(t, "project")
	assert.False(t, loaded.HasAPI)
	assert.False(t, loaded.Active)

	active, err := e.svc.Entities.List(e.ctx, true)
	require.NoError(t, err)
	for _, entity := range active {
		assert.NotEqual(t, "project", entity.Name)
	}
}

func TestCreateEntityValidation(t *testing.T) {
	e := newEnv(t, nil)

	tests := map[string]func(*EntityInput){
		"bad name":          func(in *EntityInput) { in.Name = "Project" },
		"bad prefix":        func(in *EntityInput) { in.Prefix = "P1" },
		"missing title":     func(in *EntityInput) { in.Title = " " },
		"reserved property": func(in *EntityInput) { in.Properties[0].Name = "folio" },
		"unknown type":      func(in *EntityInput) { in.Properties[1].Type = "money" },
		"select no options": func(in *EntityInput) { in.Properties[4].Options = nil },
		"duplicate option":  func(in *EntityInput) { in.Properties[4].Options = []OptionInput{{Value: "a"}, {Value: "a"}} },
		"duplicate property": func(in *EntityInput) {
			in.Properties = append(in.Properties, PropertyInput{Name: "name", Type: model.PropertyText})
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := projectInput()
			mutate(&in)
			_, err := e.svc.Entities.Create(e.ctx, in)
			assert.True(t, apperror.Is(err, apperror.CodeInvalidInput), err)
		})
	}
}

func TestCreateEntityConflicts(t *testing.T) {
	e := newEnv(t, nil)

	in := projectInput()
	in.Prefix = "CTC"
	_, err := e.svc.Entities.Create(e.ctx, in)
	assert.True(t, apperror.Is(err, apperror.CodeAlreadyExists))

	in = projectInput()
	in.Name = "contact"
	_, err = e.svc.Entities.Create(e.ctx, in)
	assert.True(t, apperror.Is(err, apperror.CodeAlreadyExists))
}

func TestUpdateEntityInvalidatesCache(t *testing.T) {
	e := newEnv(t, nil)
	entity, err := e.svc.Entities.Create(e.ctx, projectInput())
	require.NoError(t, err)
	e.entity(t, "project")

	updated, err := e.svc.Entities.Update(e.ctx, entity.ID, EntityInput{
		Name: "project", Title: "Initiative", TitlePlural: "Initiatives", Prefix: "INI", HasAPI: ptr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "initiatives", updated.Slug)
	assert.False(t, updated.HasAPI)
	assert.Len(t, updated.Properties, 7)

	cached := e.entity(t, "project")
	assert.Equal(t, "Initiative", cached.Title)

	_, err = e.svc.Entities.GetBySlug(e.ctx, "projects")
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestPropertyOperations(t *testing.T) {
	e := newEnv(t, nil)
	entity, err := e.svc.Entities.Create(e.ctx, projectInput())
	require.NoError(t, err)

	added, err := e.svc.Entities.AddProperty(e.ctx, entity.ID, PropertyInput{Name: "owner", Type: model.PropertyEmail})
	require.NoError(t, err)
	assert.Equal(t, 8, added.Order)
	assert.Equal(t, "owner", added.Title)

	_, err = e.svc.Entities.AddProperty(e.ctx, entity.ID, PropertyInput{Name: "owner", Type: model.PropertyText})
	assert.True(t, apperror.Is(err, apperror.CodeAlreadyExists))

	_, err = e.svc.Entities.UpdateProperty(e.ctx, entity.ID, "owner", PropertyInput{Type: model.PropertyText})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	priority, err := e.svc.Entities.UpdateProperty(e.ctx, entity.ID, "priority", PropertyInput{
		Title:      "Urgency",
		IsRequired: true,
		Options:    []OptionInput{{Value: "p1"}, {Value: "p2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Urgency", priority.Title)
	require.Len(t, priority.Options, 2)

	loaded := e.entity(t, "project")
	assert.True(t, loaded.Property("priority").HasOption("p2"))
	assert.False(t, loaded.Property("priority").HasOption("low"))

	require.NoError(t, e.svc.Entities.DeleteProperty(e.ctx, entity.ID, "site"))
	err = e.svc.Entities.DeleteProperty(e.ctx, entity.ID, "site")
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
	assert.Nil(t, e.entity(t, "project").Property("site"))
}

func TestReorderProperties(t *testing.T) {
	e := newEnv(t, nil)
	entity, err := e.svc.Entities.Create(e.ctx, projectInput())
	require.NoError(t, err)

	order := []string{"tags", "name", "budget", "billable", "dueDate", "priority", "site"}
	reordered, err := e.svc.Entities.ReorderProperties(e.ctx, entity.ID, order)
	require.NoError(t, err)
	for i, p := range reordered.Properties {
		assert.Equal(t, order[i], p.Name)
	}

	_, err = e.svc.Entities.ReorderProperties(e.ctx, entity.ID, order[:3])
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	dup := append([]string{}, order...)
	dup[1] = "tags"
	_, err = e.svc.Entities.ReorderProperties(e.ctx, entity.ID, dup)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))
}

func TestDeleteEntityRemovesRows(t *testing.T) {
	e := newEnv(t, nil)
	owner := e.register(t, "ada@example.com", "Acme")
	entity, err := e.svc.Entities.Create(e.ctx, projectInput())
	require.NoError(t, err)

	_, err = e.svc.Rows.Create(e.ctx, e.entity(t, "project"), &owner.Tenant.ID, CreatedBy{}, map[string]any{"name": "Apollo"})
	require.NoError(t, err)

	require.NoError(t, e.svc.Entities.Delete(e.ctx, entity.ID))

	var rows int64
	require.NoError(t, e.db.Model(&model.Row{}).Where("entity_id = ?", entity.ID).Count(&rows).Error)
	assert.Zero(t, rows)

	_, err = e.svc.Entities.GetByName(e.ctx, "project")
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestEnsureDefaultsIsIdempotent(t *testing.T) {
	e := newEnv(t, nil)

	created, err := e.svc.CRM.EnsureDefaults(e.ctx)
	require.NoError(t, err)
	assert.Empty(t, created)

	for _, name := range []string{EntityContact, EntityCompany, EntityOpportunity} {
		e.entity(t, name)
	}
}
