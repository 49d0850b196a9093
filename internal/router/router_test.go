package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"saaskit/internal/handler"
	"saaskit/internal/middleware"
	"saaskit/internal/service"
	"saaskit/internal/testutil"
	"saaskit/pkg/cache"
	"saaskit/pkg/config"
	"saaskit/pkg/jwtutil"
	"saaskit/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

type app struct {
	t   *testing.T
	e   *echo.Echo
	svc *service.Services
}

func newApp(t *testing.T) *app {
	t.Helper()
	db := testutil.NewDB(t)
	c := cache.New("test", 0, 0)
	t.Cleanup(c.Close)

	cfg := &config.Config{
		ServiceName: "saaskit",
		Server:      config.ServerConfig{BaseURL: "http://localhost:8080", RootDomain: "saaskit.test", CORSOrigins: []string{"*"}},
		JWT:         config.JWTConfig{SigningKey: "router-test-key", ExpirationHours: 1},
		Billing:     config.BillingConfig{DefaultPlan: "free"},
	}
	svc := service.New(db, cfg, c, nil)
	require.NoError(t, svc.Billing.SeedDefaultPlans(context.Background()))
	_, err := svc.CRM.EnsureDefaults(context.Background())
	require.NoError(t, err)

	return &app{t: t, e: New(cfg, zap.NewNop(), svc, jwtutil.NewJWTUtil(&cfg.JWT)), svc: svc}
}

type call struct {
	method string
	path   string
	body   any
	header map[string]string
	host   string
}

func (a *app) do(c call) *httptest.ResponseRecorder {
	a.t.Helper()
	var body strings.Builder
	if c.body != nil {
		require.NoError(a.t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(body.String()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	if c.host != "" {
		req.Host = c.host
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) map[string]string {
	return map[string]string{echo.HeaderAuthorization: "Bearer " + token}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// register creates a user, with a tenant when tenantName is set, and
// returns the token
func (a *app) register(email, tenantName string) string {
	a.t.Helper()
	rec := a.do(call{method: http.MethodPost, path: "/auth/register", body: map[string]any{
		"email": email, "password": "correct-horse", "tenant_name": tenantName,
	}})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(a.t, rec)["token"].(string)
}

func (a *app) adminToken() string {
	a.t.Helper()
	_, err := a.svc.Users.CreateAdmin(context.Background(), "root@saaskit.test", "admin-password")
	require.NoError(a.t, err)
	rec := a.do(call{method: http.MethodPost, path: "/auth/login", body: map[string]any{
		"email": "root@saaskit.test", "password": "admin-password",
	}})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(a.t, rec)["token"].(string)
}

func TestHealthAndRequestID(t *testing.T) {
	a := newApp(t)
	rec := a.do(call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "saaskit", decode(t, rec)["service"])
	assert.NotEmpty(t, rec.Header().Get(logger.RequestIDKey))

	rec = a.do(call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestErrorResponses(t *testing.T) {
	a := newApp(t)

	rec := a.do(call{method: http.MethodGet, path: "/api/users/profile"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["error"])

	rec = a.do(call{method: http.MethodPost, path: "/auth/register", body: map[string]any{"email": "not-an-email", "password": "x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{
		"email":    "must be a valid email",
		"password": "must be at least 8",
	}, decode(t, rec)["fields"])

	token := a.register("solo@example.com", "")
	rec = a.do(call{method: http.MethodGet, path: "/api/entities", header: bearer(token)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(call{method: http.MethodGet, path: "/admin/entities", header: bearer(token)})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "admin access required", decode(t, rec)["error"])

	rec = a.do(call{method: http.MethodGet, path: "/no-such-route"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRowsThroughTenantToken(t *testing.T) {
	a := newApp(t)
	token := a.register("ada@example.com", "Acme")

	rec := a.do(call{method: http.MethodGet, path: "/api/users/profile", header: bearer(token)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["tenants"], 1)

	rec = a.do(call{method: http.MethodPost, path: "/api/entities/contacts/rows", header: bearer(token), body: map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(call{method: http.MethodPost, path: "/api/entities/contacts/rows", header: bearer(token), body: map[string]any{
		"values": map[string]any{"firstName": "Grace", "email": "grace@example.com", "status": "lead"},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	key := created["key"].(string)
	id := uint(created["id"].(float64))

	rec = a.do(call{method: http.MethodGet, path: "/api/entities/contacts/rows/" + key, header: bearer(token)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Grace", decode(t, rec)["values"].(map[string]any)["firstName"])

	rec = a.do(call{method: http.MethodGet, path: "/api/entities/contacts/rows?filter[status]=lead", header: bearer(token)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["pagination"].(map[string]any)["total"])

	rec = a.do(call{method: http.MethodPatch, path: fmt.Sprintf("/api/entities/contacts/rows/%d", id), header: bearer(token), body: map[string]any{
		"values": map[string]any{"status": "customer"},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "customer", decode(t, rec)["values"].(map[string]any)["status"])

	rec = a.do(call{method: http.MethodGet, path: "/api/entities/contacts/rows?filter[status]=lead", header: bearer(token)})
	assert.Equal(t, float64(0), decode(t, rec)["pagination"].(map[string]any)["total"])

	// Rows of one tenant are invisible to another
	other := a.register("bob@example.com", "Globex")
	rec = a.do(call{method: http.MethodGet, path: "/api/entities/contacts/rows/" + key, header: bearer(other)})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(call{method: http.MethodDelete, path: fmt.Sprintf("/api/entities/contacts/rows/%d", id), header: bearer(token)})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPIKeyRowAccess(t *testing.T) {
	a := newApp(t)
	token := a.register("ada@example.com", "Acme")

	rec := a.do(call{method: http.MethodGet, path: "/api/entities/contacts", header: bearer(token)})
	require.Equal(t, http.StatusOK, rec.Code)
	contactsID := decode(t, rec)["id"]

	rec = a.do(call{method: http.MethodPost, path: "/api/api-keys", header: bearer(token), body: map[string]any{
		"alias":       "zapier",
		"permissions": []map[string]any{{"entity_id": contactsID, "read": true}},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	plaintext := created["key"].(string)
	keyID := uint(created["api_key"].(map[string]any)["id"].(float64))
	apiKey := map[string]string{middleware.APIKeyHeader: plaintext}

	rec = a.do(call{method: http.MethodGet, path: "/api/v1/entities/contacts/rows"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(call{method: http.MethodGet, path: "/api/v1/entities/contacts/rows", header: apiKey})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(call{method: http.MethodPost, path: "/api/v1/entities/contacts/rows", header: apiKey, body: map[string]any{
		"values": map[string]any{"firstName": "Eve", "email": "eve@example.com"},
	}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The user token does not open the API-key routes
	rec = a.do(call{method: http.MethodGet, path: "/api/v1/entities/contacts/rows", header: bearer(token)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(call{method: http.MethodGet, path: fmt.Sprintf("/api/api-keys/%d/logs", keyID), header: bearer(token)})
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode(t, rec)["data"].([]any)
	require.Len(t, logs, 2)
	assert.Equal(t, float64(http.StatusForbidden), logs[0].(map[string]any)["status"])
	assert.Equal(t, float64(http.StatusOK), logs[1].(map[string]any)["status"])

	rec = a.do(call{method: http.MethodDelete, path: fmt.Sprintf("/api/api-keys/%d", keyID), header: bearer(token)})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(call{method: http.MethodGet, path: "/api/v1/entities/contacts/rows", header: apiKey})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPortalHost(t *testing.T) {
	a := newApp(t)
	token := a.register("ada@example.com", "Acme")

	rec := a.do(call{method: http.MethodPost, path: "/api/portals", header: bearer(token), body: map[string]any{
		"subdomain": "acme", "title": "Acme Support", "is_published": true,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(call{method: http.MethodGet, path: "/portal", host: "acme.saaskit.test"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Acme Support", decode(t, rec)["title"])

	rec = a.do(call{method: http.MethodPost, path: "/portal/contact", host: "acme.saaskit.test", body: map[string]any{
		"first_name": "Lin", "email": "lin@example.com",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["key"])

	rec = a.do(call{method: http.MethodGet, path: "/api/entities/contacts/rows?q=lin", header: bearer(token)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["pagination"].(map[string]any)["total"])

	rec = a.do(call{method: http.MethodGet, path: "/portal", host: "unknown.saaskit.test"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPagesAndAnalytics(t *testing.T) {
	a := newApp(t)
	admin := a.adminToken()

	rec := a.do(call{method: http.MethodPost, path: "/admin/pages", header: bearer(admin), body: map[string]any{
		"slug": "/", "title": "Home", "is_published": true,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(call{method: http.MethodGet, path: "/pages"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Home", decode(t, rec)["title"])

	rec = a.do(call{method: http.MethodGet, path: "/pages/missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(call{method: http.MethodGet, path: "/pricing"})
	require.Equal(t, http.StatusOK, rec.Code)

	view := call{method: http.MethodPost, path: "/analytics/page-view",
		header: map[string]string{"User-Agent": browserUA},
		body:   map[string]any{"url": "https://saaskit.test/pricing?utm_source=news"}}
	rec = a.do(view)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["tracked"])

	var visitor *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == handler.VisitorCookie {
			visitor = ck
		}
	}
	require.NotNil(t, visitor)
	assert.True(t, visitor.HttpOnly)

	// A known visitor keeps its cookie
	view.header["Cookie"] = handler.VisitorCookie + "=" + visitor.Value
	rec = a.do(view)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = a.do(call{method: http.MethodGet, path: "/admin/analytics?period=last-7-days", header: bearer(admin)})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(call{method: http.MethodGet, path: "/admin/api-docs/postman", header: bearer(admin)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "attachment")
}

func TestStaleTenantTokens(t *testing.T) {
	a := newApp(t)
	owner := a.register("ada@example.com", "Acme")
	a.register("bob@example.com", "")

	rec := a.do(call{method: http.MethodPost, path: "/api/tenants/current/members", header: bearer(owner), body: map[string]any{
		"email": "bob@example.com", "role": "admin",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	membership := decode(t, rec)
	bobID := uint(membership["user_id"].(float64))
	tenantID := uint(membership["tenant_id"].(float64))

	rec = a.do(call{method: http.MethodPost, path: "/auth/login", body: map[string]any{
		"email": "bob@example.com", "password": "correct-horse", "tenant_id": tenantID,
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bob := decode(t, rec)["token"].(string)

	portal := call{method: http.MethodPost, path: "/api/portals", header: bearer(bob), body: map[string]any{"subdomain": "bobs", "title": "Bob"}}
	rec = a.do(portal)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// demoted: the admin claim in bob's token no longer counts
	members := fmt.Sprintf("/api/tenants/current/members/%d", bobID)
	rec = a.do(call{method: http.MethodPatch, path: members, header: bearer(owner), body: map[string]any{"role": "member"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	portal.body = map[string]any{"subdomain": "bobs2", "title": "Bob"}
	rec = a.do(portal)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	row := call{method: http.MethodPost, path: "/api/entities/contacts/rows", header: bearer(bob), body: map[string]any{
		"values": map[string]any{"firstName": "Grace", "email": "grace@example.com"},
	}}
	rec = a.do(row)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// removed: the token still names the tenant but grants nothing
	rec = a.do(call{method: http.MethodDelete, path: members, header: bearer(owner)})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	row.body = map[string]any{"values": map[string]any{"firstName": "Lin", "email": "lin@example.com"}}
	rec = a.do(row)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(call{method: http.MethodGet, path: "/api/tenants/current", header: bearer(bob)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// deleted tenant
	rec = a.do(call{method: http.MethodDelete, path: "/api/tenants/current", header: bearer(owner)})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = a.do(call{method: http.MethodGet, path: "/api/entities/contacts/rows", header: bearer(owner)})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPortalAnalyticsUsesHostPortal(t *testing.T) {
	a := newApp(t)
	token := a.register("ada@example.com", "Acme")

	rec := a.do(call{method: http.MethodPost, path: "/api/portals", header: bearer(token), body: map[string]any{
		"subdomain": "acme", "title": "Acme Support", "is_published": true,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	portalID := uint(decode(t, rec)["id"].(float64))
	other := portalID + 100

	ua := map[string]string{"User-Agent": browserUA}
	rec = a.do(call{method: http.MethodPost, path: "/portal/page-view", host: "acme.saaskit.test", header: ua, body: map[string]any{
		"url": "https://acme.saaskit.test/help", "portal_id": other,
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["tracked"])

	rec = a.do(call{method: http.MethodPost, path: "/portal/event", host: "acme.saaskit.test", header: ua, body: map[string]any{
		"action": "open_ticket", "portal_id": other,
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// a portal_id in the body of the public endpoint is ignored
	rec = a.do(call{method: http.MethodPost, path: "/analytics/page-view", header: ua, body: map[string]any{
		"url": "https://saaskit.test/", "portal_id": portalID,
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	overview, err := a.svc.Analytics.Overview(context.Background(), service.PeriodAllTime, &portalID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), overview.PageViews)
	assert.Equal(t, int64(1), overview.Events)
	assert.Equal(t, []service.CountItem{{Name: "/help", Total: 1}}, overview.TopPages)

	spoofed, err := a.svc.Analytics.Overview(context.Background(), service.PeriodAllTime, &other)
	require.NoError(t, err)
	assert.Zero(t, spoofed.PageViews)
	assert.Zero(t, spoofed.Events)

	rec = a.do(call{method: http.MethodPost, path: "/portal/page-view", host: "unknown.saaskit.test", header: ua, body: map[string]any{"url": "/"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
