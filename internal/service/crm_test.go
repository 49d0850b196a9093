package service

import (
	"testing"

	"saaskit/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEntities(t *testing.T) {
	defs, err := DefaultEntities()
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, EntityContact, defs[0].Name)
	assert.Equal(t, "CTC", defs[0].Prefix)
	assert.Equal(t, "select", defs[0].Properties[5].Type)
	assert.Len(t, defs[0].Properties[5].Options, 4)
}

func TestCreateContact(t *testing.T) {
	e := newEnv(t, nil)
	owner := e.register(t, "ada@example.com", "Acme")
	by := CreatedBy{UserID: &owner.User.ID}

	contact, err := e.svc.CRM.CreateContact(e.ctx, owner.Tenant.ID, by, ContactInput{
		FirstName: " Grace ", LastName: "Hopper", Email: "Grace@Example.com", Company: "Navy",
	})
	require.NoError(t, err)
	assert.Equal(t, "CTC-0001", contact.Key)
	assert.Equal(t, "Grace", contact.Values["firstName"])
	assert.Equal(t, "grace@example.com", contact.Values["email"])
	assert.Equal(t, "lead", contact.Values["status"])
	assert.Nil(t, contact.Values["phone"])

	_, err = e.svc.CRM.CreateContact(e.ctx, owner.Tenant.ID, by, ContactInput{FirstName: "Copy", Email: "GRACE@example.com"})
	assert.True(t, apperror.Is(err, apperror.CodeAlreadyExists))

	// the same email is fine in another tenant
	other := e.register(t, "bob@example.com", "Globex")
	_, err = e.svc.CRM.CreateContact(e.ctx, other.Tenant.ID, CreatedBy{}, ContactInput{FirstName: "Grace", Email: "grace@example.com"})
	assert.NoError(t, err)

	_, err = e.svc.CRM.CreateContact(e.ctx, owner.Tenant.ID, by, ContactInput{FirstName: "Bad", Email: "nope"})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))
}

func TestCRMSummary(t *testing.T) {
	e := newEnv(t, nil)
	owner := e.register(t, "ada@example.com", "Acme")
	tenantID := owner.Tenant.ID
	by := CreatedBy{UserID: &owner.User.ID}

	for _, c := range []ContactInput{
		{FirstName: "A", Email: "a@example.com"},
		{FirstName: "B", Email: "b@example.com", Status: "customer"},
		{FirstName: "C", Email: "c@example.com", Status: "customer"},
	} {
		_, err := e.svc.CRM.CreateContact(e.ctx, tenantID, by, c)
		require.NoError(t, err)
	}

	companies := e.entity(t, EntityCompany)
	_, err := e.svc.Rows.Create(e.ctx, companies, &tenantID, by, map[string]any{"name": "Acme Widgets"})
	require.NoError(t, err)

	opportunities := e.entity(t, EntityOpportunity)
	for _, o := range []map[string]any{
		{"name": "Deal 1", "value": 1000, "stage": "open"},
		{"name": "Deal 2", "value": 500.5, "stage": "open"},
		{"name": "Deal 3", "value": 700, "stage": "won"},
		{"name": "Deal 4"},
	} {
		_, err := e.svc.Rows.Create(e.ctx, opportunities, &tenantID, by, o)
		require.NoError(t, err)
	}

	// rows of another tenant are not counted
	other := e.register(t, "bob@example.com", "Globex")
	_, err = e.svc.Rows.Create(e.ctx, opportunities, &other.Tenant.ID, CreatedBy{}, map[string]any{"name": "Foreign", "value": 9999, "stage": "open"})
	require.NoError(t, err)

	summary, err := e.svc.CRM.Summary(e.ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Contacts)
	assert.Equal(t, map[string]int64{"lead": 1, "customer": 2}, summary.ContactsByStatus)
	assert.Equal(t, int64(1), summary.Companies)
	assert.Equal(t, int64(4), summary.Opportunities)
	assert.Equal(t, StageSummary{Count: 2, Value: 1500.5}, summary.OpportunitiesByStage["open"])
	assert.Equal(t, StageSummary{Count: 1, Value: 700}, summary.OpportunitiesByStage["won"])
	assert.Equal(t, StageSummary{Count: 1, Value: 0}, summary.OpportunitiesByStage["none"])
	assert.Equal(t, 1500.5, summary.OpenPipelineValue)
}
