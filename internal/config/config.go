package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pdf-compressor-go/internal/compressor"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// PDF_COMPRESSOR_COMPRESSION_TARGET_SIZE.
const EnvPrefix = "PDF_COMPRESSOR"

// Config represents the main configuration structure
type Config struct {
	Compression CompressionConfig `mapstructure:"compression"`
	Extraction  ExtractionConfig  `mapstructure:"extraction"`
	Packaging   PackagingConfig   `mapstructure:"packaging"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains the byte budgets and quality search parameters
type CompressionConfig struct {
	TargetSize         int64 `mapstructure:"target_size"`
	CombinedTargetSize int64 `mapstructure:"combined_target_size"`
	MaxItemSize        int64 `mapstructure:"max_item_size"` // 0 disables the per-image cap
	InitialQuality     int   `mapstructure:"initial_quality"`
	ProbeQuality       int   `mapstructure:"probe_quality"`
	MinQuality         int   `mapstructure:"min_quality"`
	QualityStep        int   `mapstructure:"quality_step"`
	Workers            int   `mapstructure:"workers"`
}

// ExtractionConfig controls how images are obtained from a PDF
type ExtractionConfig struct {
	Mode         string  `mapstructure:"mode"` // render, embedded
	DPI          float64 `mapstructure:"dpi"`
	MaxDimension int     `mapstructure:"max_dimension"` // 0 keeps the source resolution
	MaxPages     int     `mapstructure:"max_pages"`     // 0 means no limit
}

// PackagingConfig controls the delivered archive
type PackagingConfig struct {
	Format    string `mapstructure:"format"`     // zip, pdf
	ZipMethod string `mapstructure:"zip_method"` // store, deflate, zstd
}

// ServerConfig contains HTTP service settings
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	APIKey         string        `mapstructure:"api_key"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxUploadMB    int64         `mapstructure:"max_upload_mb"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Compression: CompressionConfig{
			TargetSize:         compressor.DefaultTargetSize,
			CombinedTargetSize: compressor.DefaultCombinedTargetSize,
			MaxItemSize:        0,
			InitialQuality:     compressor.DefaultInitialQuality,
			ProbeQuality:       compressor.DefaultProbeQuality,
			MinQuality:         compressor.DefaultMinQuality,
			QualityStep:        compressor.DefaultQualityStep,
			Workers:            4,
		},
		Extraction: ExtractionConfig{
			Mode:         "render",
			DPI:          72,
			MaxDimension: 0,
			MaxPages:     0,
		},
		Packaging: PackagingConfig{
			Format:    "zip",
			ZipMethod: "deflate",
		},
		Server: ServerConfig{
			Port:           8000,
			AllowedOrigins: []string{"https://shaukat.tech"},
			MaxUploadMB:    50,
			RequestTimeout: 2 * time.Minute,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   3 * time.Minute,
			IdleTimeout:    120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "logs/pdf-compressor.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
			Console:    true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()
	v := viper.New()

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pdf-compressor")
		v.AddConfigPath("/etc/pdf-compressor")
	}

	// Enable environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, config)

	// The service has always been deployed with bare API_KEY and PORT
	_ = v.BindEnv("server.api_key", EnvPrefix+"_SERVER_API_KEY", "API_KEY")
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// Unmarshal config
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate and normalize config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults registers every key so AutomaticEnv can override it even when
// no config file mentions it.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("compression.target_size", c.Compression.TargetSize)
	v.SetDefault("compression.combined_target_size", c.Compression.CombinedTargetSize)
	v.SetDefault("compression.max_item_size", c.Compression.MaxItemSize)
	v.SetDefault("compression.initial_quality", c.Compression.InitialQuality)
	v.SetDefault("compression.probe_quality", c.Compression.ProbeQuality)
	v.SetDefault("compression.min_quality", c.Compression.MinQuality)
	v.SetDefault("compression.quality_step", c.Compression.QualityStep)
	v.SetDefault("compression.workers", c.Compression.Workers)

	v.SetDefault("extraction.mode", c.Extraction.Mode)
	v.SetDefault("extraction.dpi", c.Extraction.DPI)
	v.SetDefault("extraction.max_dimension", c.Extraction.MaxDimension)
	v.SetDefault("extraction.max_pages", c.Extraction.MaxPages)

	v.SetDefault("packaging.format", c.Packaging.Format)
	v.SetDefault("packaging.zip_method", c.Packaging.ZipMethod)

	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.api_key", c.Server.APIKey)
	v.SetDefault("server.allowed_origins", c.Server.AllowedOrigins)
	v.SetDefault("server.max_upload_mb", c.Server.MaxUploadMB)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", c.Server.IdleTimeout)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
	v.SetDefault("logging.console", c.Logging.Console)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate budgets
	if c.Compression.TargetSize <= 0 {
		return fmt.Errorf("compression.target_size must be positive, got %d", c.Compression.TargetSize)
	}
	if c.Compression.CombinedTargetSize <= 0 {
		return fmt.Errorf("compression.combined_target_size must be positive, got %d", c.Compression.CombinedTargetSize)
	}
	if c.Compression.MaxItemSize < 0 {
		return fmt.Errorf("compression.max_item_size must not be negative, got %d", c.Compression.MaxItemSize)
	}

	// Validate quality search
	if c.Compression.QualityStep <= 0 {
		c.Compression.QualityStep = compressor.DefaultQualityStep
	}
	if err := c.Compression.QualityParams().Validate(); err != nil {
		return fmt.Errorf("compression: %w", err)
	}
	if c.Compression.Workers <= 0 {
		c.Compression.Workers = 4
	}

	// Validate extraction mode
	c.Extraction.Mode = strings.ToLower(c.Extraction.Mode)
	validModes := map[string]bool{
		"render":   true,
		"embedded": true,
	}
	if !validModes[c.Extraction.Mode] {
		return fmt.Errorf("invalid extraction mode: %s (valid: render, embedded)", c.Extraction.Mode)
	}
	if c.Extraction.DPI <= 0 {
		c.Extraction.DPI = 72
	}
	if c.Extraction.MaxDimension < 0 {
		c.Extraction.MaxDimension = 0
	}

	// Validate packaging
	c.Packaging.Format = strings.ToLower(c.Packaging.Format)
	validFormats := map[string]bool{
		"zip": true,
		"pdf": true,
	}
	if !validFormats[c.Packaging.Format] {
		return fmt.Errorf("invalid packaging format: %s (valid: zip, pdf)", c.Packaging.Format)
	}
	c.Packaging.ZipMethod = strings.ToLower(c.Packaging.ZipMethod)
	validMethods := map[string]bool{
		"store":   true,
		"deflate": true,
		"zstd":    true,
	}
	if !validMethods[c.Packaging.ZipMethod] {
		return fmt.Errorf("invalid zip method: %s (valid: store, deflate, zstd)", c.Packaging.ZipMethod)
	}

	// Validate server settings
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 50
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 2 * time.Minute
	}

	// Validate logging settings
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// QualityParams returns the quality search parameters for the engine
func (c CompressionConfig) QualityParams() compressor.QualityParams {
	return compressor.QualityParams{
		InitialQuality: c.InitialQuality,
		ProbeQuality:   c.ProbeQuality,
		MinQuality:     c.MinQuality,
		QualityStep:    c.QualityStep,
	}
}

// MaxUploadBytes returns the upload limit in bytes
func (s ServerConfig) MaxUploadBytes() int64 {
	return s.MaxUploadMB * 1024 * 1024
}
