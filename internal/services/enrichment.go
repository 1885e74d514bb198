package services

import (
	"net/url"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
	"github.com/victoralfred/um_tracker/internal/domain/session"
)

// extractUTM reads campaign parameters from the query of rawURL.
// Parameters that are absent stay empty.
func extractUTM(rawURL string) session.UTM {
	if rawURL == "" {
		return session.UTM{}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return session.UTM{}
	}
	q := u.Query()
	return session.UTM{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Term:     q.Get("utm_term"),
		Content:  q.Get("utm_content"),
	}
}

// pathOf returns the path component of rawURL
func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// pageDimensions describes the page a page view was tracked for. The URL
// keeps the environment's origin with the tracked path.
func pageDimensions(env analytics.Environment, path string) map[analytics.Dimension]interface{} {
	dims := map[analytics.Dimension]interface{}{analytics.DimensionPagePath: path}
	if env == nil || env.URL() == "" {
		return dims
	}
	current := env.URL()
	if pathOf(current) == path {
		dims[analytics.DimensionPageURL] = current
		return dims
	}
	base, err := url.Parse(current)
	if err != nil {
		return dims
	}
	if ref, err := url.Parse(path); err == nil {
		dims[analytics.DimensionPageURL] = base.ResolveReference(ref).String()
	}
	return dims
}

type identity struct {
	userID      string
	anonymousID string
}

// defaultDimensions builds the dimensions every event carries: identity,
// session, attribution, page and client context.
func defaultDimensions(sess session.Session, id identity, env analytics.Environment) map[analytics.Dimension]interface{} {
	dims := map[analytics.Dimension]interface{}{
		analytics.DimensionSessionID:        sess.ID,
		analytics.DimensionIsFirstSession:   sess.IsFirstSession,
		analytics.DimensionSessionStart:     sess.StartedAt.UnixMilli(),
		analytics.DimensionSessionPageCount: sess.PageViewCount,
	}
	if id.userID != "" {
		dims[analytics.DimensionUserID] = id.userID
	}
	if id.anonymousID != "" {
		dims[analytics.DimensionAnonymousID] = id.anonymousID
	}

	setIfPresent := func(d analytics.Dimension, v string) {
		if v != "" {
			dims[d] = v
		}
	}
	setIfPresent(analytics.DimensionUTMSource, sess.UTM.Source)
	setIfPresent(analytics.DimensionUTMMedium, sess.UTM.Medium)
	setIfPresent(analytics.DimensionUTMCampaign, sess.UTM.Campaign)
	setIfPresent(analytics.DimensionUTMTerm, sess.UTM.Term)
	setIfPresent(analytics.DimensionUTMContent, sess.UTM.Content)

	if env == nil {
		// Hosts without an environment still know the tracked path
		setIfPresent(analytics.DimensionPagePath, sess.CurrentPath)
		return dims
	}

	pageURL := env.URL()
	dims[analytics.DimensionPageURL] = pageURL
	dims[analytics.DimensionPagePath] = pathOf(pageURL)
	dims[analytics.DimensionPageTitle] = env.Title()
	dims[analytics.DimensionReferrer] = env.Referrer()

	ua := env.UserAgent()
	dims[analytics.DimensionBrowser] = DetectBrowser(ua)
	dims[analytics.DimensionDevice] = DetectDevice(ua)

	vp := env.Viewport()
	dims[analytics.DimensionViewportWidth] = vp.Width
	dims[analytics.DimensionViewportHeight] = vp.Height
	dims[analytics.DimensionLanguage] = env.Language()

	return dims
}

// filterDimensions keeps allow-listed keys with a defined value
func filterDimensions(dims map[analytics.Dimension]interface{}, cfg analytics.ConfigProvider) map[analytics.Dimension]interface{} {
	out := make(map[analytics.Dimension]interface{}, len(dims))
	for k, v := range dims {
		if v == nil || !cfg.IsDimensionEnabled(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// filterMetrics keeps allow-listed metrics
func filterMetrics(metrics map[analytics.Metric]float64, cfg analytics.ConfigProvider) map[analytics.Metric]float64 {
	out := make(map[analytics.Metric]float64, len(metrics))
	for k, v := range metrics {
		if cfg.IsMetricEnabled(k) {
			out[k] = v
		}
	}
	return out
}

func copyProperties(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
