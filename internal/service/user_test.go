package service

import (
	"testing"

	"saaskit/internal/model"
	"saaskit/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCreatesUserAndTenant(t *testing.T) {
	e := newEnv(t, nil)

	session := e.register(t, "  Ada@Example.com ", "Acme Inc")
	require.NotNil(t, session.Tenant)
	assert.Equal(t, "ada@example.com", session.User.Email)
	assert.Equal(t, "acme-inc", session.Tenant.Slug)
	assert.Equal(t, model.RoleOwner, session.Role)
	require.NotNil(t, session.User.DefaultTenantID)
	assert.Equal(t, session.Tenant.ID, *session.User.DefaultTenantID)

	membership, err := e.svc.Tenants.Membership(e.ctx, session.User.ID, session.Tenant.ID)
	require.NoError(t, err)
	assert.True(t, membership.IsDefault)
	assert.Equal(t, model.RoleOwner, membership.Role)
}

func TestRegisterWithoutTenant(t *testing.T) {
	e := newEnv(t, nil)

	session := e.register(t, "solo@example.com", "")
	assert.Nil(t, session.Tenant)
	assert.Nil(t, session.User.DefaultTenantID)
}

func TestRegisterRejectsDuplicatesAndShortPasswords(t *testing.T) {
	e := newEnv(t, nil)
	e.register(t, "ada@example.com", "")

	_, err := e.svc.Users.Register(e.ctx, RegisterInput{Email: "ADA@example.com", Password: "password123"})
	assert.True(t, apperror.Is(err, apperror.CodeAlreadyExists))

	_, err = e.svc.Users.Register(e.ctx, RegisterInput{Email: "bob@example.com", Password: "short"})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))
}

func TestAuthenticate(t *testing.T) {
	e := newEnv(t, nil)
	registered := e.register(t, "ada@example.com", "Acme")

	session, err := e.svc.Users.Authenticate(e.ctx, "ADA@example.com", "password123", nil)
	require.NoError(t, err)
	require.NotNil(t, session.Tenant)
	assert.Equal(t, registered.Tenant.ID, session.Tenant.ID)
	assert.Equal(t, model.RoleOwner, session.Role)

	_, err = e.svc.Users.Authenticate(e.ctx, "ada@example.com", "wrong-password", nil)
	assert.True(t, apperror.Is(err, apperror.CodeUnauthorized))

	_, err = e.svc.Users.Authenticate(e.ctx, "nobody@example.com", "password123", nil)
	assert.True(t, apperror.Is(err, apperror.CodeUnauthorized))
}

func TestAuthenticateWithForeignTenant(t *testing.T) {
	e := newEnv(t, nil)
	e.register(t, "ada@example.com", "Acme")
	other := e.register(t, "bob@example.com", "Globex")

	_, err := e.svc.Users.Authenticate(e.ctx, "ada@example.com", "password123", &other.Tenant.ID)
	assert.True(t, apperror.Is(err, apperror.CodeForbidden))
}

func TestResolveTenantIgnoresStaleDefault(t *testing.T) {
	e := newEnv(t, nil)
	session := e.register(t, "ada@example.com", "Acme")
	require.NoError(t, e.svc.Tenants.Delete(e.ctx, session.Tenant.ID))

	user, err := e.svc.Users.Get(e.ctx, session.User.ID)
	require.NoError(t, err)
	stale := session.Tenant.ID
	user.DefaultTenantID = &stale

	resolved, err := e.svc.Users.ResolveTenant(e.ctx, user, nil)
	require.NoError(t, err)
	assert.Nil(t, resolved.Tenant)
}

func TestSetDefaultTenant(t *testing.T) {
	e := newEnv(t, nil)
	ada := e.register(t, "ada@example.com", "Acme")
	second, err := e.svc.Tenants.Create(e.ctx, ada.User.ID, TenantInput{Name: "Second"})
	require.NoError(t, err)

	require.NoError(t, e.svc.Users.SetDefaultTenant(e.ctx, ada.User.ID, second.ID))

	memberships, err := e.svc.Tenants.ListForUser(e.ctx, ada.User.ID)
	require.NoError(t, err)
	require.Len(t, memberships, 2)
	for _, m := range memberships {
		assert.Equal(t, m.Tenant.ID == second.ID, m.IsDefault, m.Tenant.Slug)
	}

	bob := e.register(t, "bob@example.com", "")
	err = e.svc.Users.SetDefaultTenant(e.ctx, bob.User.ID, second.ID)
	assert.True(t, apperror.Is(err, apperror.CodeForbidden))
}

func TestProfileAndPassword(t *testing.T) {
	e := newEnv(t, nil)
	session := e.register(t, "ada@example.com", "")

	user, err := e.svc.Users.UpdateProfile(e.ctx, session.User.ID, ProfileInput{FirstName: " Ada ", LastName: "Lovelace"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.FirstName)

	err = e.svc.Users.ChangePassword(e.ctx, session.User.ID, "not-it", "newpassword1")
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	require.NoError(t, e.svc.Users.ChangePassword(e.ctx, session.User.ID, "password123", "newpassword1"))
	_, err = e.svc.Users.Authenticate(e.ctx, "ada@example.com", "newpassword1", nil)
	assert.NoError(t, err)
}

func TestCreateAdminPromotesExistingUser(t *testing.T) {
	e := newEnv(t, nil)
	session := e.register(t, "ada@example.com", "")

	admin, err := e.svc.Users.CreateAdmin(e.ctx, "ada@example.com", "adminpass1")
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, admin.ID)
	assert.True(t, admin.IsAdmin)

	fresh, err := e.svc.Users.CreateAdmin(e.ctx, "root@example.com", "adminpass1")
	require.NoError(t, err)
	assert.True(t, fresh.IsAdmin)
	assert.NotEqual(t, admin.ID, fresh.ID)
}
