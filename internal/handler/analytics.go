package handler

import (
	"net/http"
	"strconv"
	"time"

	"saaskit/internal/middleware"
	"saaskit/internal/service"
	"saaskit/pkg/apperror"

	"github.com/labstack/echo/v4"
)

// VisitorCookie holds the anonymous visitor id
const VisitorCookie = "saaskit_visitor"

const visitorCookieMaxAge = 365 * 24 * time.Hour

type pageViewRequest struct {
	URL      string `json:"url" validate:"required,max=500"`
	Route    string `json:"route" validate:"max=255"`
	Referrer string `json:"referrer" validate:"max=500"`
}

func visitorCookie(c echo.Context) string {
	cookie, err := c.Cookie(VisitorCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// rememberVisitor sets the visitor cookie when the service issued a new id
func rememberVisitor(c echo.Context, previous string, result *service.TrackResult) {
	if result.Cookie == "" || result.Cookie == previous {
		return
	}
	c.SetCookie(&http.Cookie{
		Name:     VisitorCookie,
		Value:    result.Cookie,
		Path:     "/",
		Expires:  time.Now().Add(visitorCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// TrackPageView records a page view of the visitor in the cookie
func (h *Handler) TrackPageView(c echo.Context) error {
	return h.trackPageView(c, nil)
}

// TrackEvent records a named interaction of the visitor in the cookie
func (h *Handler) TrackEvent(c echo.Context) error {
	return h.trackEvent(c, nil)
}

// PortalPageView records a page view tagged with the portal of the host
func (h *Handler) PortalPageView(c echo.Context) error {
	id := middleware.CurrentPortal(c).ID
	return h.trackPageView(c, &id)
}

// PortalEvent records an event tagged with the portal of the host
func (h *Handler) PortalEvent(c echo.Context) error {
	id := middleware.CurrentPortal(c).ID
	return h.trackEvent(c, &id)
}

func (h *Handler) trackPageView(c echo.Context, portalID *uint) error {
	var req pageViewRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cookie := visitorCookie(c)
	result, err := h.svc.Analytics.TrackPageView(c.Request().Context(), service.VisitInfo{
		Cookie:    cookie,
		URL:       req.URL,
		Route:     req.Route,
		Referrer:  req.Referrer,
		UserAgent: c.Request().UserAgent(),
		PortalID:  portalID,
	})
	if err != nil {
		return err
	}
	rememberVisitor(c, cookie, result)
	return c.JSON(http.StatusOK, echo.Map{"tracked": result.Tracked})
}

func (h *Handler) trackEvent(c echo.Context, portalID *uint) error {
	var req service.EventInput
	if err := bind(c, &req); err != nil {
		return err
	}
	cookie := visitorCookie(c)
	result, err := h.svc.Analytics.TrackEvent(c.Request().Context(), service.VisitInfo{
		Cookie:    cookie,
		Referrer:  c.Request().Referer(),
		UserAgent: c.Request().UserAgent(),
		PortalID:  portalID,
	}, req)
	if err != nil {
		return err
	}
	rememberVisitor(c, cookie, result)
	return c.JSON(http.StatusOK, echo.Map{"tracked": result.Tracked})
}

// AnalyticsOverview returns the dashboard for ?period= and optional
// ?portal_id=
func (h *Handler) AnalyticsOverview(c echo.Context) error {
	var portalID *uint
	if raw := c.QueryParam("portal_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return apperror.Invalid("invalid portal_id").WithField("portal_id", "must be a positive integer")
		}
		v := uint(id)
		portalID = &v
	}
	overview, err := h.svc.Analytics.Overview(c.Request().Context(), c.QueryParam("period"), portalID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, overview)
}
