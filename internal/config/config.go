package config

import (
	"time"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
	"github.com/victoralfred/um_tracker/internal/domain/feature"
	"github.com/victoralfred/um_tracker/internal/logging"
)

// Config holds the application configuration
type Config struct {
	// Server settings
	Port        int       `mapstructure:"port"`
	Environment string    `mapstructure:"environment"`
	Version     string    `mapstructure:"version"`
	StartTime   time.Time `mapstructure:"-"`

	// ClientID namespaces persisted state of this tracker instance
	ClientID string `mapstructure:"client_id"`

	// CORS settings
	CORS CORSConfig `mapstructure:"cors"`

	// Metrics
	Metrics MetricsConfig `mapstructure:"metrics"`

	Logging   logging.LogConfig `mapstructure:"logging"`
	Storage   StorageConfig     `mapstructure:"storage"`
	Analytics AnalyticsConfig   `mapstructure:"analytics"`
	Client    ClientConfig      `mapstructure:"client"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	ExposedHeaders   []string      `mapstructure:"exposed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// StorageConfig selects the persistence backend for session and identity
type StorageConfig struct {
	Driver string      `mapstructure:"driver"` // memory or redis
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	DB         int           `mapstructure:"db"`
	Password   string        `mapstructure:"password"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// ClientConfig describes the host the tracker runs in
type ClientConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	Language       string `mapstructure:"language"`
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
}

// AnalyticsConfig holds tracking policy
type AnalyticsConfig struct {
	Enabled             bool                       `mapstructure:"enabled"`
	RequireConsent      bool                       `mapstructure:"require_consent"`
	DebugMode           bool                       `mapstructure:"debug_mode"`
	EnabledEventTypes   []string                   `mapstructure:"enabled_event_types"`
	EnabledDimensions   []string                   `mapstructure:"enabled_dimensions"`
	EnabledMetrics      []string                   `mapstructure:"enabled_metrics"`
	SessionTimeout      time.Duration              `mapstructure:"session_timeout"`
	RefreshOnReload     bool                       `mapstructure:"refresh_on_reload"`
	SamplingRate        float64                    `mapstructure:"sampling_rate"`
	ConsistentSampling  bool                       `mapstructure:"consistent_sampling"`
	MaxEventsPerSession int                        `mapstructure:"max_events_per_session"`
	DispatchTimeout     time.Duration              `mapstructure:"dispatch_timeout"`
	Providers           []analytics.ProviderConfig `mapstructure:"providers"`
	Retry               RetryConfig                `mapstructure:"retry"`
	Flags               []feature.Flag             `mapstructure:"flags"`

	// DefaultConsent lists consent categories granted at startup
	DefaultConsent []string `mapstructure:"default_consent"`
	// FlagGroups are matched by group overrides of flags
	FlagGroups []string `mapstructure:"flag_groups"`
}

// ConsentGrants returns DefaultConsent as consent flags
func (a AnalyticsConfig) ConsentGrants() analytics.ConsentStatus {
	if len(a.DefaultConsent) == 0 {
		return nil
	}
	grants := make(analytics.ConsentStatus, len(a.DefaultConsent))
	for _, category := range a.DefaultConsent {
		grants[analytics.ConsentCategory(category)] = true
	}
	return grants
}

// RetryConfig bounds the retry queue
type RetryConfig struct {
	MaxQueueSize    int           `mapstructure:"max_queue_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	Jitter          float64       `mapstructure:"jitter"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
}

// AllEventTypes lists every known event type
func AllEventTypes() []string {
	return []string{
		string(analytics.EventTypePageView), string(analytics.EventTypePageExit),
		string(analytics.EventTypeUserSignup), string(analytics.EventTypeUserLogin), string(analytics.EventTypeUserLogout),
		string(analytics.EventTypeContentView), string(analytics.EventTypeContentShare), string(analytics.EventTypeContentDownload),
		string(analytics.EventTypeClick), string(analytics.EventTypeFormSubmit), string(analytics.EventTypeScrollDepth), string(analytics.EventTypeVideoPlay),
		string(analytics.EventTypeAddToCart), string(analytics.EventTypeBeginCheckout), string(analytics.EventTypePurchase),
		string(analytics.EventTypeConsultationRequest), string(analytics.EventTypeConsultationBooked),
		string(analytics.EventTypeCampaignClick), string(analytics.EventTypeNewsletterSignup),
		string(analytics.EventTypeCustom),
	}
}

// AllDimensions lists every known dimension
func AllDimensions() []string {
	return []string{
		string(analytics.DimensionUserID), string(analytics.DimensionAnonymousID), string(analytics.DimensionSessionID),
		string(analytics.DimensionIsFirstSession), string(analytics.DimensionSessionStart), string(analytics.DimensionSessionPageCount),
		string(analytics.DimensionUTMSource), string(analytics.DimensionUTMMedium), string(analytics.DimensionUTMCampaign),
		string(analytics.DimensionUTMTerm), string(analytics.DimensionUTMContent),
		string(analytics.DimensionPageURL), string(analytics.DimensionPagePath), string(analytics.DimensionPageTitle), string(analytics.DimensionReferrer),
		string(analytics.DimensionBrowser), string(analytics.DimensionDevice),
		string(analytics.DimensionViewportWidth), string(analytics.DimensionViewportHeight), string(analytics.DimensionLanguage),
		string(analytics.DimensionContentID), string(analytics.DimensionContentType), string(analytics.DimensionCampaign),
		string(analytics.DimensionExperiment), string(analytics.DimensionVariant),
	}
}

// AllMetrics lists every known metric
func AllMetrics() []string {
	return []string{
		string(analytics.MetricLoadTime), string(analytics.MetricTimeOnPage), string(analytics.MetricScrollDepth),
		string(analytics.MetricValue), string(analytics.MetricQuantity), string(analytics.MetricRevenue), string(analytics.MetricDuration),
	}
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Port:        8089,
		Environment: "development",
		Version:     "1.0.0",
		ClientID:    "default",
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			MaxAge:         12 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: logging.DefaultLogConfig(),
		Storage: StorageConfig{
			Driver: "memory",
			Redis: RedisConfig{
				Addr:       "localhost:6379",
				SessionTTL: 24 * time.Hour,
			},
		},
		Client: ClientConfig{
			UserAgent: "um-tracker/1.0",
			Language:  "en-US",
		},
		Analytics: AnalyticsConfig{
			Enabled:             true,
			RequireConsent:      true,
			EnabledEventTypes:   AllEventTypes(),
			EnabledDimensions:   AllDimensions(),
			EnabledMetrics:      AllMetrics(),
			SessionTimeout:      30 * time.Minute,
			SamplingRate:        1.0,
			ConsistentSampling:  true,
			MaxEventsPerSession: 500,
			DispatchTimeout:     5 * time.Second,
			Retry: RetryConfig{
				MaxQueueSize:    1000,
				MaxAttempts:     5,
				InitialInterval: time.Second,
				MaxInterval:     5 * time.Minute,
				Multiplier:      2,
				Jitter:          0.5,
				FlushInterval:   30 * time.Second,
			},
		},
	}
}
