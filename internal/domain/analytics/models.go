package analytics

import (
	"strconv"
	"time"
)

// EventType represents different types of analytics events
type EventType string

const (
	EventTypePageView            EventType = "page_view"
	EventTypePageExit            EventType = "page_exit"
	EventTypeUserSignup          EventType = "user_signup"
	EventTypeUserLogin           EventType = "user_login"
	EventTypeUserLogout          EventType = "user_logout"
	EventTypeContentView         EventType = "content_view"
	EventTypeContentShare        EventType = "content_share"
	EventTypeContentDownload     EventType = "content_download"
	EventTypeClick               EventType = "click"
	EventTypeFormSubmit          EventType = "form_submit"
	EventTypeScrollDepth         EventType = "scroll_depth"
	EventTypeVideoPlay           EventType = "video_play"
	EventTypeAddToCart           EventType = "add_to_cart"
	EventTypeBeginCheckout       EventType = "begin_checkout"
	EventTypePurchase            EventType = "purchase"
	EventTypeConsultationRequest EventType = "consultation_request"
	EventTypeConsultationBooked  EventType = "consultation_booked"
	EventTypeCampaignClick       EventType = "campaign_click"
	EventTypeNewsletterSignup    EventType = "newsletter_signup"
	EventTypeCustom              EventType = "custom"
)

// EventCategory groups event types
type EventCategory string

const (
	CategoryPage         EventCategory = "page"
	CategoryUser         EventCategory = "user"
	CategoryContent      EventCategory = "content"
	CategoryInteraction  EventCategory = "interaction"
	CategoryCommerce     EventCategory = "commerce"
	CategoryConsultation EventCategory = "consultation"
	CategoryMarketing    EventCategory = "marketing"
	CategoryCustom       EventCategory = "custom"
)

var eventCategories = map[EventType]EventCategory{
	EventTypePageView:            CategoryPage,
	EventTypePageExit:            CategoryPage,
	EventTypeUserSignup:          CategoryUser,
	EventTypeUserLogin:           CategoryUser,
	EventTypeUserLogout:          CategoryUser,
	EventTypeContentView:         CategoryContent,
	EventTypeContentShare:        CategoryContent,
	EventTypeContentDownload:     CategoryContent,
	EventTypeClick:               CategoryInteraction,
	EventTypeFormSubmit:          CategoryInteraction,
	EventTypeScrollDepth:         CategoryInteraction,
	EventTypeVideoPlay:           CategoryInteraction,
	EventTypeAddToCart:           CategoryCommerce,
	EventTypeBeginCheckout:       CategoryCommerce,
	EventTypePurchase:            CategoryCommerce,
	EventTypeConsultationRequest: CategoryConsultation,
	EventTypeConsultationBooked:  CategoryConsultation,
	EventTypeCampaignClick:       CategoryMarketing,
	EventTypeNewsletterSignup:    CategoryMarketing,
	EventTypeCustom:              CategoryCustom,
}

// Category returns the category the event type belongs to
func (t EventType) Category() EventCategory {
	if c, ok := eventCategories[t]; ok {
		return c
	}
	return CategoryCustom
}

// IsValid reports whether t is one of the known event types
func (t EventType) IsValid() bool {
	_, ok := eventCategories[t]
	return ok
}

// IsExit reports whether events of this type are navigation-bound and must
// never be redelivered later.
func (t EventType) IsExit() bool {
	return t == EventTypePageView || t == EventTypePageExit
}

// Dimension is a categorical attribute key attached to events
type Dimension string

const (
	DimensionUserID           Dimension = "user_id"
	DimensionAnonymousID      Dimension = "anonymous_id"
	DimensionSessionID        Dimension = "session_id"
	DimensionIsFirstSession   Dimension = "is_first_session"
	DimensionSessionStart     Dimension = "session_start"
	DimensionSessionPageCount Dimension = "session_page_count"
	DimensionUTMSource        Dimension = "utm_source"
	DimensionUTMMedium        Dimension = "utm_medium"
	DimensionUTMCampaign      Dimension = "utm_campaign"
	DimensionUTMTerm          Dimension = "utm_term"
	DimensionUTMContent       Dimension = "utm_content"
	DimensionPageURL          Dimension = "page_url"
	DimensionPagePath         Dimension = "page_path"
	DimensionPageTitle        Dimension = "page_title"
	DimensionReferrer         Dimension = "referrer"
	DimensionBrowser          Dimension = "browser"
	DimensionDevice           Dimension = "device"
	DimensionViewportWidth    Dimension = "viewport_width"
	DimensionViewportHeight   Dimension = "viewport_height"
	DimensionLanguage         Dimension = "language"
	DimensionContentID        Dimension = "content_id"
	DimensionContentType      Dimension = "content_type"
	DimensionCampaign         Dimension = "campaign"
	DimensionExperiment       Dimension = "experiment"
	DimensionVariant          Dimension = "variant"
)

// Metric is a numeric measurement key attached to events
type Metric string

const (
	MetricLoadTime    Metric = "load_time"
	MetricTimeOnPage  Metric = "time_on_page"
	MetricScrollDepth Metric = "scroll_depth"
	MetricValue       Metric = "value"
	MetricQuantity    Metric = "quantity"
	MetricRevenue     Metric = "revenue"
	MetricDuration    Metric = "duration"
)

// Event represents an enriched analytics event. It is built once by the
// tracking pipeline and must be treated as read-only afterwards.
type Event struct {
	ID         string                    `json:"id"`
	Type       EventType                 `json:"type"`
	Timestamp  time.Time                 `json:"timestamp"`
	UserID     string                    `json:"user_id,omitempty"`
	SessionID  string                    `json:"session_id"`
	Properties map[string]interface{}    `json:"properties,omitempty"`
	Dimensions map[Dimension]interface{} `json:"dimensions,omitempty"`
	Metrics    map[Metric]float64        `json:"metrics,omitempty"`
}

// Clone returns a deep copy of the top-level maps of the event
func (e *Event) Clone() *Event {
	c := *e
	if e.Properties != nil {
		c.Properties = make(map[string]interface{}, len(e.Properties))
		for k, v := range e.Properties {
			c.Properties[k] = v
		}
	}
	if e.Dimensions != nil {
		c.Dimensions = make(map[Dimension]interface{}, len(e.Dimensions))
		for k, v := range e.Dimensions {
			c.Dimensions[k] = v
		}
	}
	if e.Metrics != nil {
		c.Metrics = make(map[Metric]float64, len(e.Metrics))
		for k, v := range e.Metrics {
			c.Metrics[k] = v
		}
	}
	return &c
}

// ConsentCategory names a consent flag
type ConsentCategory string

const (
	ConsentNecessary   ConsentCategory = "necessary"
	ConsentAnalytics   ConsentCategory = "analytics"
	ConsentMarketing   ConsentCategory = "marketing"
	ConsentPreferences ConsentCategory = "preferences"
)

// ConsentStatus holds consent flags. Missing categories count as not granted.
type ConsentStatus map[ConsentCategory]bool

// Merge returns a copy of c with the flags of partial applied on top
func (c ConsentStatus) Merge(partial ConsentStatus) ConsentStatus {
	merged := make(ConsentStatus, len(c)+len(partial))
	for k, v := range c {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	return merged
}

// Granted reports whether the category was granted
func (c ConsentStatus) Granted(category ConsentCategory) bool {
	return c[category]
}

// ProviderConfig describes one analytics backend
type ProviderConfig struct {
	Name    string                 `json:"name" mapstructure:"name"`
	Enabled bool                   `json:"enabled" mapstructure:"enabled"`
	APIKey  string                 `json:"api_key,omitempty" mapstructure:"api_key"`
	Options map[string]interface{} `json:"options,omitempty" mapstructure:"options"`
}

// StringOption returns a string option or def when missing
func (p ProviderConfig) StringOption(key, def string) string {
	if v, ok := p.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// IntOption returns an integer option or def when missing or malformed.
// Numbers decoded from config files may arrive as any numeric kind or as text.
func (p ProviderConfig) IntOption(key string, def int) int {
	switch v := p.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// BoolOption returns a boolean option or def when missing
func (p ProviderConfig) BoolOption(key string, def bool) bool {
	switch v := p.Options[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// DurationOption returns a duration option such as "5s" or def when missing
func (p ProviderConfig) DurationOption(key string, def time.Duration) time.Duration {
	switch v := p.Options[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// SessionSettings controls session continuity
type SessionSettings struct {
	Timeout         time.Duration
	RefreshOnReload bool
}

// SamplingSettings controls event sampling
type SamplingSettings struct {
	Rate       float64
	Consistent bool
}

// RetryPolicy bounds redelivery of failed provider sends
type RetryPolicy struct {
	MaxQueueSize    int
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	FlushInterval   time.Duration
}
