package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
)

// EnvPrefix prefixes environment overrides, e.g. TRACKER_ANALYTICS_SAMPLING_RATE
const EnvPrefix = "TRACKER"

// Load reads configuration from path (optional) and the environment on top
// of Default().
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ZeroFields = true
	}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.StartTime = time.Now()
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	a := c.Analytics
	if a.SamplingRate < 0 {
		return fmt.Errorf("analytics.sampling_rate must not be negative")
	}
	if a.SessionTimeout <= 0 {
		return fmt.Errorf("analytics.session_timeout must be positive")
	}
	if a.MaxEventsPerSession <= 0 {
		return fmt.Errorf("analytics.max_events_per_session must be positive")
	}
	if a.Retry.MaxQueueSize <= 0 || a.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("analytics.retry limits must be positive")
	}
	for _, category := range a.DefaultConsent {
		switch analytics.ConsentCategory(category) {
		case analytics.ConsentNecessary, analytics.ConsentAnalytics, analytics.ConsentMarketing, analytics.ConsentPreferences:
		default:
			return fmt.Errorf("unknown consent category %q", category)
		}
	}
	switch c.Storage.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

// setDefaults registers scalar keys so environment variables can override
// them even when the config file does not mention them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("port", d.Port)
	v.SetDefault("environment", d.Environment)
	v.SetDefault("version", d.Version)
	v.SetDefault("client_id", d.ClientID)

	v.SetDefault("cors.allowed_origins", d.CORS.AllowedOrigins)
	v.SetDefault("cors.max_age", d.CORS.MaxAge)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.mask_pii", d.Logging.MaskPII)
	v.SetDefault("logging.pii_fields", d.Logging.PIIFields)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.redis.addr", d.Storage.Redis.Addr)
	v.SetDefault("storage.redis.db", d.Storage.Redis.DB)
	v.SetDefault("storage.redis.session_ttl", d.Storage.Redis.SessionTTL)

	v.SetDefault("client.user_agent", d.Client.UserAgent)
	v.SetDefault("client.language", d.Client.Language)

	a := d.Analytics
	v.SetDefault("analytics.enabled", a.Enabled)
	v.SetDefault("analytics.require_consent", a.RequireConsent)
	v.SetDefault("analytics.debug_mode", a.DebugMode)
	v.SetDefault("analytics.enabled_event_types", a.EnabledEventTypes)
	v.SetDefault("analytics.enabled_dimensions", a.EnabledDimensions)
	v.SetDefault("analytics.enabled_metrics", a.EnabledMetrics)
	v.SetDefault("analytics.session_timeout", a.SessionTimeout)
	v.SetDefault("analytics.refresh_on_reload", a.RefreshOnReload)
	v.SetDefault("analytics.sampling_rate", a.SamplingRate)
	v.SetDefault("analytics.consistent_sampling", a.ConsistentSampling)
	v.SetDefault("analytics.max_events_per_session", a.MaxEventsPerSession)
	v.SetDefault("analytics.dispatch_timeout", a.DispatchTimeout)
	v.SetDefault("analytics.default_consent", a.DefaultConsent)
	v.SetDefault("analytics.flag_groups", a.FlagGroups)
	v.SetDefault("analytics.retry.max_queue_size", a.Retry.MaxQueueSize)
	v.SetDefault("analytics.retry.max_attempts", a.Retry.MaxAttempts)
	v.SetDefault("analytics.retry.initial_interval", a.Retry.InitialInterval)
	v.SetDefault("analytics.retry.max_interval", a.Retry.MaxInterval)
	v.SetDefault("analytics.retry.multiplier", a.Retry.Multiplier)
	v.SetDefault("analytics.retry.jitter", a.Retry.Jitter)
	v.SetDefault("analytics.retry.flush_interval", a.Retry.FlushInterval)
}
