package service

import (
	"context"
	"os"
	"testing"

	"saaskit/internal/model"
	"saaskit/internal/promptflow"
	"saaskit/internal/testutil"
	"saaskit/pkg/cache"
	"saaskit/pkg/config"
	"saaskit/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	passwordCost = bcrypt.MinCost
	logger.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

type env struct {
	ctx context.Context
	db  *gorm.DB
	svc *Services
}

func testConfig() *config.Config {
	return &config.Config{
		ServiceName: "saaskit-test",
		Server:      config.ServerConfig{RootDomain: "saaskit.test"},
		Billing:     config.BillingConfig{DefaultPlan: "free"},
		AI:          config.AIConfig{DefaultModel: "gpt-test"},
		Analytics: config.AnalyticsConfig{
			IgnoredPaths: []string{"/admin", "/api"},
			BotMarkers:   []string{"bot", "crawler"},
		},
	}
}

// newEnv returns services on a fresh database with the default plans and
// CRM entities. completer may be nil.
func newEnv(t *testing.T, completer promptflow.Completer) *env {
	t.Helper()

	db := testutil.NewDB(t)
	c := cache.New("test", 0, 0)
	t.Cleanup(c.Close)

	e := &env{ctx: context.Background(), db: db, svc: New(db, testConfig(), c, completer)}
	require.NoError(t, e.svc.Billing.SeedDefaultPlans(e.ctx))
	_, err := e.svc.CRM.EnsureDefaults(e.ctx)
	require.NoError(t, err)
	return e
}

// register creates a user with their own tenant
func (e *env) register(t *testing.T, email, tenantName string) *Session {
	t.Helper()
	session, err := e.svc.Users.Register(e.ctx, RegisterInput{
		Email:      email,
		Password:   "password123",
		FirstName:  "Test",
		LastName:   "User",
		TenantName: tenantName,
	})
	require.NoError(t, err)
	return session
}

func (e *env) entity(t *testing.T, name string) *model.Entity {
	t.Helper()
	entity, err := e.svc.Entities.GetByName(e.ctx, name)
	require.NoError(t, err)
	return entity
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Acme Inc.":          "acme-inc",
		"  Hello   World  ":  "hello-world",
		"Ünïcode & symbols!": "n-code-symbols",
		"---":                "",
		"already-a-slug":     "already-a-slug",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestNewPagination(t *testing.T) {
	p := newPagination(0, 0, 25)
	assert.Equal(t, Pagination{Page: 1, PerPage: defaultPerPage, Total: 25, TotalPages: 3}, p)

	p = newPagination(2, 1000, 0)
	assert.Equal(t, maxPerPage, p.PerPage)
	assert.Equal(t, int64(0), p.TotalPages)
}
