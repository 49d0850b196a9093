package service

import (
	"testing"
	"time"

	"saaskit/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPlans(t *testing.T) {
	e := newEnv(t, nil)

	plans, err := e.svc.Billing.ListPlans(e.ctx, true)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "free", plans[0].Slug)
	assert.Equal(t, "enterprise", plans[2].Slug)

	// seeding twice keeps one row per slug
	require.NoError(t, e.svc.Billing.SeedDefaultPlans(e.ctx))
	plans, err = e.svc.Billing.ListPlans(e.ctx, false)
	require.NoError(t, err)
	assert.Len(t, plans, 3)
}

func TestUpsertPlan(t *testing.T) {
	e := newEnv(t, nil)

	plan, err := e.svc.Billing.UpsertPlan(e.ctx, PlanInput{Slug: "Legacy", Title: "Legacy", MonthlyCredits: 5, Active: ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, "legacy", plan.Slug)
	assert.False(t, plan.Active)
	assert.Equal(t, "usd", plan.Currency)

	stored, err := e.svc.Billing.GetPlan(e.ctx, "legacy")
	require.NoError(t, err)
	assert.False(t, stored.Active)

	active, err := e.svc.Billing.ListPlans(e.ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	updated, err := e.svc.Billing.UpsertPlan(e.ctx, PlanInput{Slug: "legacy", Title: "Legacy v2", MonthlyCredits: 50})
	require.NoError(t, err)
	assert.Equal(t, plan.ID, updated.ID)
	assert.True(t, updated.Active)
	assert.Equal(t, 50, updated.MonthlyCredits)

	_, err = e.svc.Billing.UpsertPlan(e.ctx, PlanInput{Slug: "!!", Title: "Nope"})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))
}

func TestSubscribe(t *testing.T) {
	e := newEnv(t, nil)
	owner := e.register(t, "ada@example.com", "Acme")
	tenantID := owner.Tenant.ID

	plan, err := e.svc.Billing.PlanFor(e.ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, "free", plan.Slug)

	sub, err := e.svc.Billing.Subscribe(e.ctx, tenantID, "pro")
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.Plan.Slug)

	plan, err = e.svc.Billing.PlanFor(e.ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, "pro", plan.Slug)

	_, err = e.svc.Billing.UpsertPlan(e.ctx, PlanInput{Slug: "retired", Title: "Retired", Active: ptr(false)})
	require.NoError(t, err)
	_, err = e.svc.Billing.Subscribe(e.ctx, tenantID, "retired")
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	_, err = e.svc.Billing.Subscribe(e.ctx, tenantID, "missing")
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))

	require.NoError(t, e.svc.Billing.CancelSubscription(e.ctx, tenantID))
	plan, err = e.svc.Billing.PlanFor(e.ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, "free", plan.Slug)
}

func TestMissingDefaultPlanIsUnlimited(t *testing.T) {
	e := newEnv(t, nil)
	owner := e.register(t, "ada@example.com", "Acme")
	e.svc.Billing.defaultPlan = "does-not-exist"
	e.svc.Billing.cache.DeletePrefix("plan:")

	usage, err := e.svc.Billing.Usage(e.ctx, owner.Tenant.ID)
	require.NoError(t, err)
	assert.True(t, usage.Credits.Unlimited())
	assert.Equal(t, int64(-1), usage.Credits.Remaining)
	assert.NoError(t, e.svc.Billing.CheckLimit(e.ctx, owner.Tenant.ID, LimitCredits, 1_000_000))
}

func TestConsumeCredits(t *testing.T) {
	e := newEnv(t, nil)
	owner := e.register(t, "ada@example.com", "Acme")
	tenantID := owner.Tenant.ID

	require.NoError(t, e.svc.Billing.Consume(e.ctx, ConsumeInput{
		TenantID: tenantID, UserID: &owner.User.ID, Type: CreditPromptTemplate, ObjectID: "flow:1", Amount: 7,
	}))

	usage, err := e.svc.Billing.Usage(e.ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), usage.Credits.Used)
	assert.Equal(t, int64(3), usage.Credits.Remaining)
	assert.Equal(t, int64(1), usage.Users.Used)

	err = e.svc.Billing.Consume(e.ctx, ConsumeInput{TenantID: tenantID, Type: CreditPromptTemplate, Amount: 4})
	assert.True(t, apperror.Is(err, apperror.CodeInsufficientCredits))

	err = e.svc.Billing.Consume(e.ctx, ConsumeInput{TenantID: tenantID, Type: CreditPromptTemplate, Amount: 0})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	credits, pagination, err := e.svc.Billing.ListCredits(e.ctx, tenantID, 1, 10)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, int64(1), pagination.Total)
	assert.Equal(t, "flow:1", credits[0].ObjectID)
}

func TestCreditsResetWithCalendarMonth(t *testing.T) {
	e := newEnv(t, nil)
	owner := e.register(t, "ada@example.com", "Acme")
	tenantID := owner.Tenant.ID

	january := time.Date(2024, time.January, 20, 12, 0, 0, 0, time.UTC)
	e.svc.Billing.now = func() time.Time { return january }
	require.NoError(t, e.svc.Billing.Consume(e.ctx, ConsumeInput{TenantID: tenantID, Type: CreditPromptTemplate, Amount: 10}))
	assert.True(t, apperror.Is(e.svc.Billing.CheckLimit(e.ctx, tenantID, LimitCredits, 1), apperror.CodeInsufficientCredits))

	e.svc.Billing.now = func() time.Time { return january.AddDate(0, 1, 0) }
	assert.NoError(t, e.svc.Billing.CheckLimit(e.ctx, tenantID, LimitCredits, 10))
}

func TestCurrentPeriodRollsForward(t *testing.T) {
	e := newEnv(t, nil)
	owner := e.register(t, "ada@example.com", "Acme")
	tenantID := owner.Tenant.ID

	subscribed := time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)
	e.svc.Billing.now = func() time.Time { return subscribed }
	_, err := e.svc.Billing.Subscribe(e.ctx, tenantID, "pro")
	require.NoError(t, err)

	start, end, err := e.svc.Billing.CurrentPeriod(e.ctx, tenantID)
	require.NoError(t, err)
	assert.True(t, start.Equal(subscribed), start)
	assert.True(t, end.Equal(subscribed.AddDate(0, 1, 0)), end)

	e.svc.Billing.now = func() time.Time { return time.Date(2024, time.March, 20, 0, 0, 0, 0, time.UTC) }
	start, end, err = e.svc.Billing.CurrentPeriod(e.ctx, tenantID)
	require.NoError(t, err)
	assert.True(t, start.Equal(subscribed.AddDate(0, 2, 0)), start)
	assert.True(t, end.Equal(subscribed.AddDate(0, 3, 0)), end)
}

func TestRowLimit(t *testing.T) {
	e := newEnv(t, nil)
	owner := e.register(t, "ada@example.com", "Acme")
	tenantID := owner.Tenant.ID

	_, err := e.svc.Billing.UpsertPlan(e.ctx, PlanInput{Slug: "tiny", Title: "Tiny", MaxRows: 1})
	require.NoError(t, err)
	_, err = e.svc.Billing.Subscribe(e.ctx, tenantID, "tiny")
	require.NoError(t, err)

	by := CreatedBy{UserID: &owner.User.ID}
	_, err = e.svc.CRM.CreateContact(e.ctx, tenantID, by, ContactInput{FirstName: "Grace", Email: "grace@example.com"})
	require.NoError(t, err)

	_, err = e.svc.CRM.CreateContact(e.ctx, tenantID, by, ContactInput{FirstName: "Alan", Email: "alan@example.com"})
	assert.True(t, apperror.Is(err, apperror.CodeLimitExceeded))

	usage, err := e.svc.Billing.Usage(e.ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Rows.Used)
	assert.Equal(t, int64(0), usage.Rows.Remaining)
}
