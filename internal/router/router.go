// Package router assembles the echo server: global middleware, the error
// handler and every route.
package router

import (
	"saaskit/internal/handler"
	"saaskit/internal/middleware"
	"saaskit/internal/model"
	"saaskit/internal/service"
	"saaskit/pkg/config"
	"saaskit/pkg/jwtutil"
	"saaskit/pkg/logger"
	"saaskit/prometheus"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// New builds the HTTP server
func New(cfg *config.Config, log *zap.Logger, svc *service.Services, j *jwtutil.JWTUtil) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = handler.ErrorHandler

	// Apply global middleware - order matters. Metrics wraps the logger so it
	// sees the status of rendered errors.
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, middleware.APIKeyHeader, logger.RequestIDKey},
		ExposeHeaders:    []string{logger.RequestIDKey},
		AllowCredentials: true,
	}))
	e.Use(middleware.RequestIDMiddleware)
	e.Use(prometheus.MetricsMiddleware())
	e.Use(logger.Middleware(log))

	h := handler.New(svc, j, cfg)
	auth := middleware.Auth(j)
	member := []echo.MiddlewareFunc{middleware.RequireTenantContext(svc.Tenants), middleware.RequireRole(model.RoleMember)}
	admin := middleware.RequireRole(model.RoleAdmin)
	owner := middleware.RequireRole(model.RoleOwner)

	e.GET("/health", h.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	// Authentication routes - outside /api since they hand out the tokens
	authGroup := e.Group("/auth")
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)

	// Public marketing surface
	e.GET("/pages", h.PublishedPage)
	e.GET("/pages/*", h.PublishedPage)
	e.GET("/pricing", h.ListPlans)
	analytics := e.Group("/analytics")
	analytics.POST("/page-view", h.TrackPageView)
	analytics.POST("/event", h.TrackEvent)

	portal := e.Group("/portal", middleware.Portal(svc.Portals))
	portal.GET("", h.PortalInfo)
	portal.POST("/contact", h.PortalContact)
	portal.POST("/page-view", h.PortalPageView)
	portal.POST("/event", h.PortalEvent)

	// API routes - all require a user token
	api := e.Group("/api", auth)

	users := api.Group("/users")
	users.GET("/profile", h.GetProfile)
	users.PATCH("/profile", h.UpdateProfile)
	users.POST("/change-password", h.ChangePassword)

	tenantAuth := api.Group("/tenant-auth")
	tenantAuth.POST("/switch", h.SwitchTenant)
	tenantAuth.POST("/default", h.SetDefaultTenant)

	// Tenant management - doesn't require tenant context
	tenants := api.Group("/tenants")
	tenants.POST("", h.CreateTenant)
	tenants.GET("", h.ListUserTenants)

	current := api.Group("/tenants/current", member...)
	current.GET("", h.GetCurrentTenant)
	current.PATCH("", h.UpdateCurrentTenant, admin)
	current.DELETE("", h.DeleteCurrentTenant, owner)
	current.GET("/members", h.ListMembers)
	current.POST("/members", h.AddMember, admin)
	current.PATCH("/members/:user_id", h.UpdateMemberRole, admin)
	current.DELETE("/members/:user_id", h.RemoveMember, admin)

	entities := api.Group("/entities", member...)
	entities.GET("", h.ListEntities)
	entities.GET("/:slug", h.GetEntity)
	entities.GET("/:slug/rows", h.ListRows())
	entities.POST("/:slug/rows", h.CreateRow())
	entities.GET("/:slug/rows/:id", h.GetRow())
	entities.PUT("/:slug/rows/:id", h.UpdateRow())
	entities.PATCH("/:slug/rows/:id", h.UpdateRow())
	entities.DELETE("/:slug/rows/:id", h.DeleteRow())

	crm := api.Group("/crm", member...)
	crm.GET("/summary", h.CRMSummary)
	crm.POST("/contacts", h.CreateContact)

	flows := api.Group("/prompt-flows", member...)
	flows.GET("", h.ListFlows())
	flows.POST("", h.CreateFlow(), admin)
	flows.GET("/variables", h.FlowVariables)
	flows.GET("/variables/:entity", h.FlowVariables)
	flows.GET("/:id", h.GetFlow())
	flows.PUT("/:id", h.UpdateFlow(), admin)
	flows.DELETE("/:id", h.DeleteFlow(), admin)
	flows.POST("/:id/execute", h.ExecuteFlow)
	flows.GET("/:id/executions", h.ListExecutions)

	billing := api.Group("/billing", member...)
	billing.GET("/usage", h.Usage)
	billing.GET("/credits", h.ListCredits)
	billing.GET("/plans", h.ListPlans)

	portals := api.Group("/portals", member...)
	portals.GET("", h.ListPortals)
	portals.POST("", h.CreatePortal, admin)
	portals.GET("/:id", h.GetPortal)
	portals.PUT("/:id", h.UpdatePortal, admin)
	portals.DELETE("/:id", h.DeletePortal, admin)

	keys := api.Group("/api-keys", middleware.RequireTenantContext(svc.Tenants), admin)
	keys.GET("", h.ListAPIKeys)
	keys.POST("", h.CreateAPIKey)
	keys.GET("/:id", h.GetAPIKey)
	keys.PUT("/:id", h.UpdateAPIKey)
	keys.DELETE("/:id", h.DeleteAPIKey)
	keys.GET("/:id/logs", h.ListAPIKeyLogs)

	// Row API for integrations, authenticated with X-Api-Key
	v1 := e.Group("/api/v1/entities", middleware.APIKeyAuth(svc.APIKeys))
	v1.GET("/:slug/rows", h.APIListRows())
	v1.POST("/:slug/rows", h.APICreateRow())
	v1.GET("/:slug/rows/:id", h.APIGetRow())
	v1.PUT("/:slug/rows/:id", h.APIUpdateRow())
	v1.DELETE("/:slug/rows/:id", h.APIDeleteRow())

	// Platform administration
	adm := e.Group("/admin", auth, middleware.RequireAdmin)

	adm.GET("/entities", h.AdminListEntities)
	adm.POST("/entities", h.CreateEntity)
	adm.GET("/entities/:id", h.AdminGetEntity)
	adm.PUT("/entities/:id", h.UpdateEntity)
	adm.DELETE("/entities/:id", h.DeleteEntity)
	adm.POST("/entities/:id/properties", h.AddProperty)
	adm.PUT("/entities/:id/property-order", h.ReorderProperties)
	adm.PUT("/entities/:id/properties/:name", h.UpdateProperty)
	adm.DELETE("/entities/:id/properties/:name", h.DeleteProperty)

	adm.GET("/tenants", h.AdminListTenants)
	adm.POST("/tenants/:id/subscription", h.Subscribe)
	adm.DELETE("/tenants/:id/subscription", h.CancelSubscription)

	adm.GET("/plans", h.AdminListPlans)
	adm.PUT("/plans", h.UpsertPlan)

	adm.GET("/block-types", handler.BlockTypes)
	adm.GET("/pages", h.ListPages)
	adm.POST("/pages", h.CreatePage)
	adm.GET("/pages/:id", h.GetPage)
	adm.PUT("/pages/:id", h.UpdatePage)
	adm.DELETE("/pages/:id", h.DeletePage)

	adm.GET("/prompt-flows", h.AdminListFlows())
	adm.POST("/prompt-flows", h.AdminCreateFlow())
	adm.GET("/prompt-flows/:id", h.AdminGetFlow())
	adm.PUT("/prompt-flows/:id", h.AdminUpdateFlow())
	adm.DELETE("/prompt-flows/:id", h.AdminDeleteFlow())

	adm.GET("/analytics", h.AnalyticsOverview)
	adm.GET("/api-docs/postman", h.PostmanCollection)

	return e
}
