package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"saaskit/internal/service"
	"saaskit/internal/testutil"
	"saaskit/pkg/cache"
	"saaskit/pkg/config"
	"saaskit/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

const projectsYAML = `
- name: project
  slug: projects
  title: Project
  title_plural: Projects
  prefix: PRJ
  properties:
    - {name: name, title: Name, type: text, is_required: true}
    - {name: budget, title: Budget, type: number}
`

func newServices(t *testing.T) *service.Services {
	t.Helper()
	c := cache.New("test", 0, 0)
	t.Cleanup(c.Close)
	return service.New(testutil.NewDB(t), &config.Config{Billing: config.BillingConfig{DefaultPlan: "free"}}, c, nil)
}

func TestParseEntities(t *testing.T) {
	defs, err := ParseEntities([]byte(projectsYAML))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "PRJ", defs[0].Prefix)
	assert.Len(t, defs[0].Properties, 2)

	defs, err = ParseEntities(nil)
	require.NoError(t, err)
	assert.Empty(t, defs)

	_, err = ParseEntities([]byte("- name: project\n  prefix: PRJ\n  colour: red\n"))
	assert.Error(t, err)

	_, err = ParseEntities([]byte("- name: project\n"))
	assert.ErrorContains(t, err, "name and prefix are required")
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t)

	path := filepath.Join(t.TempDir(), "entities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(projectsYAML), 0o600))

	opts := Options{EntitiesFile: path, AdminEmail: "Root@Example.com", AdminPassword: "admin-password"}
	report, err := Run(ctx, svc, opts)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"contact", "company", "opportunity", "project"}, report.Entities)
	assert.NotZero(t, report.AdminID)

	plans, err := svc.Billing.ListPlans(ctx, true)
	require.NoError(t, err)
	assert.Len(t, plans, len(service.DefaultPlans()))

	admin, err := svc.Users.Get(ctx, report.AdminID)
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)
	assert.Equal(t, "root@example.com", admin.Email)

	// A second run creates nothing new
	report, err = Run(ctx, svc, opts)
	require.NoError(t, err)
	assert.Empty(t, report.Entities)
	assert.Equal(t, admin.ID, report.AdminID)
}

func TestRunRejectsShortAdminPassword(t *testing.T) {
	_, err := Run(context.Background(), newServices(t), Options{AdminEmail: "root@example.com", AdminPassword: "short"})
	assert.ErrorContains(t, err, "at least 8")
}

func TestRunMissingFile(t *testing.T) {
	_, err := Run(context.Background(), newServices(t), Options{EntitiesFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}
