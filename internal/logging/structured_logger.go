package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const redacted = "***REDACTED***"

// LogConfig defines logger configuration
type LogConfig struct {
	Level      string        `mapstructure:"level"`
	Format     string        `mapstructure:"format"` // json or console
	Output     string        `mapstructure:"output"` // stdout, stderr, file, buffer
	FilePath   string        `mapstructure:"file_path"`
	Buffer     *bytes.Buffer `mapstructure:"-"`
	MaskPII    bool          `mapstructure:"mask_pii"`
	PIIFields  []string      `mapstructure:"pii_fields"`
	MaxSize    int           `mapstructure:"max_size"` // MB
	MaxBackups int           `mapstructure:"max_backups"`
	MaxAge     int           `mapstructure:"max_age"` // days
	Component  string        `mapstructure:"component"`
}

// DefaultLogConfig returns the configuration used when none is supplied
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:     "info",
		Format:    "json",
		Output:    "stdout",
		MaskPII:   true,
		PIIFields: []string{"user_id", "anonymous_id", "ip_address"},
	}
}

// New builds a zap logger from config
func New(config LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	writer, err := setupWriter(&config)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "console", "text":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var core zapcore.Core = zapcore.NewCore(encoder, zapcore.AddSync(writer), level)
	if config.MaskPII && len(config.PIIFields) > 0 {
		core = newMaskingCore(core, config.PIIFields)
	}

	logger := zap.New(core, zap.AddCaller())
	if config.Component != "" {
		logger = logger.With(zap.String("component", config.Component))
	}
	return logger, nil
}

func setupWriter(config *LogConfig) (io.Writer, error) {
	switch config.Output {
	case "stderr":
		return os.Stderr, nil
	case "buffer":
		if config.Buffer == nil {
			config.Buffer = &bytes.Buffer{}
		}
		return config.Buffer, nil
	case "file":
		if config.FilePath == "" {
			return nil, fmt.Errorf("file path required for file output")
		}
		// Create directory if needed
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
			return nil, err
		}
		// Setup log rotation
		return &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
		}, nil
	default:
		return os.Stdout, nil
	}
}

// maskingCore replaces the value of PII fields before they reach the encoder
type maskingCore struct {
	zapcore.Core
	piiFields map[string]bool
}

func newMaskingCore(core zapcore.Core, fields []string) zapcore.Core {
	pii := make(map[string]bool, len(fields))
	for _, f := range fields {
		pii[f] = true
	}
	return &maskingCore{Core: core, piiFields: pii}
}

func (c *maskingCore) With(fields []zapcore.Field) zapcore.Core {
	return &maskingCore{Core: c.Core.With(c.mask(fields)), piiFields: c.piiFields}
}

func (c *maskingCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *maskingCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(entry, c.mask(fields))
}

func (c *maskingCore) mask(fields []zapcore.Field) []zapcore.Field {
	var masked []zapcore.Field
	for i, f := range fields {
		if !c.piiFields[f.Key] {
			continue
		}
		if masked == nil {
			masked = make([]zapcore.Field, len(fields))
			copy(masked, fields)
		}
		masked[i] = zap.String(f.Key, redacted)
	}
	if masked == nil {
		return fields
	}
	return masked
}
