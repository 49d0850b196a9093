package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"saaskit/internal/model"
	"saaskit/pkg/apperror"
	"saaskit/pkg/config"
	"saaskit/pkg/logger"
	"saaskit/prometheus"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Overview periods
const (
	PeriodLast24Hours = "last-24-hours"
	PeriodLast7Days   = "last-7-days"
	PeriodLast30Days  = "last-30-days"
	PeriodLast90Days  = "last-90-days"
	PeriodAllTime     = "all-time"
)

var periodDurations = map[string]time.Duration{
	PeriodLast24Hours: 24 * time.Hour,
	PeriodLast7Days:   7 * 24 * time.Hour,
	PeriodLast30Days:  30 * 24 * time.Hour,
	PeriodLast90Days:  90 * 24 * time.Hour,
	PeriodAllTime:     0,
}

const topLimit = 10

// VisitInfo describes the request being tracked
type VisitInfo struct {
	Cookie    string
	URL       string
	Route     string
	Referrer  string
	UserAgent string
	PortalID  *uint
}

// EventInput is a named interaction
type EventInput struct {
	Action   string         `json:"action" validate:"required,max=100"`
	Category string         `json:"category" validate:"max=100"`
	Label    string         `json:"label" validate:"max=255"`
	Value    string         `json:"value" validate:"max=255"`
	URL      string         `json:"url" validate:"max=500"`
	Route    string         `json:"route" validate:"max=255"`
	Metadata map[string]any `json:"metadata"`
}

// TrackResult reports the visitor cookie to set and whether anything was
// stored
type TrackResult struct {
	Cookie  string `json:"cookie,omitempty"`
	Tracked bool   `json:"tracked"`
}

// CountItem is one line of a top-N list
type CountItem struct {
	Name  string `json:"name"`
	Total int64  `json:"count"`
}

// DailyCount is the number of page views on a UTC day
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Overview is the analytics dashboard of a period
type Overview struct {
	Period         string       `json:"period"`
	Since          *time.Time   `json:"since,omitempty"`
	UniqueVisitors int64        `json:"unique_visitors"`
	PageViews      int64        `json:"page_views"`
	Events         int64        `json:"events"`
	TopPages       []CountItem  `json:"top_pages"`
	TopSources     []CountItem  `json:"top_sources"`
	TopEvents      []CountItem  `json:"top_events"`
	Daily          []DailyCount `json:"daily"`
}

// AnalyticsService records visitors, page views and events
type AnalyticsService struct {
	db         *gorm.DB
	ignored    []string
	botMarkers []string
	now        func() time.Time
}

// NewAnalyticsService creates an analytics service
func NewAnalyticsService(db *gorm.DB, cfg config.AnalyticsConfig) *AnalyticsService {
	markers := make([]string, 0, len(cfg.BotMarkers))
	for _, m := range cfg.BotMarkers {
		markers = append(markers, strings.ToLower(m))
	}
	return &AnalyticsService{
		db:         db,
		ignored:    cfg.IgnoredPaths,
		botMarkers: markers,
		now:        nowFunc,
	}
}

// IsBot reports whether the user agent contains a bot marker
func (s *AnalyticsService) IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, m := range s.botMarkers {
		if m != "" && strings.Contains(ua, m) {
			return true
		}
	}
	return false
}

func (s *AnalyticsService) ignoredPath(path string) bool {
	for _, prefix := range s.ignored {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

func (s *AnalyticsService) skip(info VisitInfo, path string) bool {
	return s.IsBot(info.UserAgent) || s.ignoredPath(path)
}

// pathOf returns the path and query of a tracked URL
func pathOf(raw string) (string, url.Values) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, url.Values{}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return path, u.Query()
}

// UserAgent is the parsed form of a user agent header
type UserAgent struct {
	Browser string
	OS      string
	Device  string
}

// ParseUserAgent extracts browser, OS and device class
func ParseUserAgent(raw string) UserAgent {
	out := UserAgent{Browser: "Other", OS: "Other", Device: "desktop"}
	if strings.TrimSpace(raw) == "" {
		return out
	}

	ua := useragent.New(raw)
	if name, _ := ua.Browser(); name != "" {
		out.Browser = name
	}

	platform := ua.Platform()
	osName := ua.OS()
	switch {
	case platform == "iPhone", platform == "iPad", platform == "iPod":
		out.OS = "iOS"
	case strings.Contains(osName, "Android"):
		out.OS = "Android"
	case strings.Contains(osName, "Windows"):
		out.OS = "Windows"
	case platform == "Macintosh", strings.Contains(osName, "Mac OS X"):
		out.OS = "macOS"
	case strings.Contains(osName, "Linux"):
		out.OS = "Linux"
	}

	switch {
	case platform == "iPad", strings.Contains(raw, "Tablet"):
		out.Device = "tablet"
	case ua.Mobile():
		out.Device = "mobile"
	case out.OS == "Android":
		// Android tablets omit the Mobile token
		out.Device = "tablet"
	}
	return out
}

// visitor returns the visitor of the cookie, creating one with first-touch
// attribution when the cookie is missing or unknown
func (s *AnalyticsService) visitor(ctx context.Context, info VisitInfo) (*model.AnalyticsUniqueVisitor, error) {
	db := s.db.WithContext(ctx)

	if info.Cookie != "" {
		var v model.AnalyticsUniqueVisitor
		err := db.Where("cookie = ?", info.Cookie).First(&v).Error
		if err == nil {
			return &v, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.DB(err, "visitor")
		}
	}

	_, query := pathOf(info.URL)
	via := query.Get("via")
	if via == "" {
		via = query.Get("ref")
	}
	ua := ParseUserAgent(info.UserAgent)
	v := model.AnalyticsUniqueVisitor{
		Cookie:       uuid.NewString(),
		Via:          via,
		HTTPReferrer: truncate(info.Referrer, 500),
		Browser:      ua.Browser,
		OS:           ua.OS,
		Device:       ua.Device,
		Source:       query.Get("utm_source"),
		Medium:       query.Get("utm_medium"),
		Campaign:     query.Get("utm_campaign"),
		FirstURL:     truncate(info.URL, 500),
		PortalID:     info.PortalID,
	}
	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := db.Create(&v).Error; err != nil {
		return nil, apperror.DB(err, "visitor")
	}
	prometheus.RecordAnalytics("visitor")
	return &v, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// TrackPageView stores a page view of the visitor. Bots and ignored paths are
// skipped.
func (s *AnalyticsService) TrackPageView(ctx context.Context, info VisitInfo) (*TrackResult, error) {
	path, _ := pathOf(info.URL)
	if s.skip(info, path) {
		prometheus.RecordAnalytics("skipped")
		return &TrackResult{Cookie: info.Cookie}, nil
	}

	v, err := s.visitor(ctx, info)
	if err != nil {
		return nil, err
	}

	route := info.Route
	if route == "" {
		route = path
	}
	view := model.AnalyticsPageView{
		UniqueVisitorID: v.ID,
		URL:             truncate(info.URL, 500),
		Route:           truncate(route, 255),
		PortalID:        info.PortalID,
	}
	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := s.db.WithContext(ctx).Create(&view).Error; err != nil {
		return nil, apperror.DB(err, "page view")
	}
	prometheus.RecordAnalytics("page_view")
	return &TrackResult{Cookie: v.Cookie, Tracked: true}, nil
}

// TrackEvent stores a named interaction of the visitor
func (s *AnalyticsService) TrackEvent(ctx context.Context, info VisitInfo, in EventInput) (*TrackResult, error) {
	if strings.TrimSpace(in.Action) == "" {
		return nil, apperror.Invalid("action is required").WithField("action", "is required")
	}
	if in.URL != "" {
		info.URL = in.URL
	}
	if in.Route != "" {
		info.Route = in.Route
	}
	if s.IsBot(info.UserAgent) {
		prometheus.RecordAnalytics("skipped")
		return &TrackResult{Cookie: info.Cookie}, nil
	}

	v, err := s.visitor(ctx, info)
	if err != nil {
		return nil, err
	}

	event := model.AnalyticsEvent{
		UniqueVisitorID: v.ID,
		Action:          in.Action,
		Category:        in.Category,
		Label:           in.Label,
		Value:           in.Value,
		URL:             truncate(info.URL, 500),
		Route:           truncate(info.Route, 255),
		PortalID:        info.PortalID,
	}
	if len(in.Metadata) > 0 {
		data, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidInput, "metadata is not valid JSON")
		}
		event.Metadata = datatypes.JSON(data)
	}
	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, apperror.DB(err, "event")
	}
	prometheus.RecordAnalytics("event")
	return &TrackResult{Cookie: v.Cookie, Tracked: true}, nil
}

// Overview aggregates the dashboard of period, optionally for one portal
func (s *AnalyticsService) Overview(ctx context.Context, period string, portalID *uint) (*Overview, error) {
	if period == "" {
		period = PeriodLast30Days
	}
	window, ok := periodDurations[period]
	if !ok {
		return nil, apperror.Newf(apperror.CodeInvalidInput, "unknown period %q", period).WithField("period", "unknown period")
	}

	now := s.now()
	out := &Overview{Period: period}
	var since time.Time
	if window > 0 {
		since = now.Add(-window)
		out.Since = &since
	}

	scope := func(db *gorm.DB) *gorm.DB {
		if !since.IsZero() {
			db = db.Where("created_at >= ?", since)
		}
		if portalID != nil {
			db = db.Where("portal_id = ?", *portalID)
		}
		return db
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	g, gctx := errgroup.WithContext(ctx)
	db := func() *gorm.DB { return s.db.WithContext(gctx) }

	g.Go(func() error {
		return db().Model(&model.AnalyticsUniqueVisitor{}).Scopes(scope).Count(&out.UniqueVisitors).Error
	})
	g.Go(func() error {
		return db().Model(&model.AnalyticsPageView{}).Scopes(scope).Count(&out.PageViews).Error
	})
	g.Go(func() error {
		return db().Model(&model.AnalyticsEvent{}).Scopes(scope).Count(&out.Events).Error
	})
	g.Go(func() error {
		return db().Model(&model.AnalyticsPageView{}).Scopes(scope).
			Select("route AS name, COUNT(*) AS total").
			Group("route").Order("total DESC, name ASC").Limit(topLimit).
			Scan(&out.TopPages).Error
	})
	g.Go(func() error {
		err := db().Model(&model.AnalyticsUniqueVisitor{}).Scopes(scope).
			Select("source AS name, COUNT(*) AS total").
			Group("source").Order("total DESC, name ASC").Limit(topLimit).
			Scan(&out.TopSources).Error
		for i := range out.TopSources {
			if out.TopSources[i].Name == "" {
				out.TopSources[i].Name = "direct"
			}
		}
		return err
	})
	g.Go(func() error {
		return db().Model(&model.AnalyticsEvent{}).Scopes(scope).
			Select("action AS name, COUNT(*) AS total").
			Group("action").Order("total DESC, name ASC").Limit(topLimit).
			Scan(&out.TopEvents).Error
	})
	g.Go(func() error {
		var stamps []time.Time
		if err := db().Model(&model.AnalyticsPageView{}).Scopes(scope).
			Order("created_at ASC").Pluck("created_at", &stamps).Error; err != nil {
			return err
		}
		out.Daily = dailySeries(stamps, since, now)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.FromCtx(ctx).Error("Failed to build analytics overview", zap.String("period", period), zap.Error(err))
		return nil, apperror.DB(err, "analytics")
	}
	return out, nil
}

// dailySeries buckets stamps per UTC day from since (or the first stamp) to
// now, filling days without views with zero
func dailySeries(stamps []time.Time, since, now time.Time) []DailyCount {
	if since.IsZero() {
		if len(stamps) == 0 {
			return []DailyCount{}
		}
		since = stamps[0]
	}

	counts := make(map[string]int64, len(stamps))
	for _, t := range stamps {
		counts[t.UTC().Format(dateLayout)]++
	}

	since = since.UTC()
	day := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	end := now.UTC()

	var series []DailyCount
	for !day.After(end) {
		key := day.Format(dateLayout)
		series = append(series, DailyCount{Date: key, Count: counts[key]})
		day = day.AddDate(0, 0, 1)
	}
	return series
}
