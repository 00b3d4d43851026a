package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Configuration struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cloudinary CloudinaryConfig `mapstructure:"cloudinary"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Email      EmailConfig      `mapstructure:"email"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	HealthPort   string        `mapstructure:"health_port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres"; DSN is the driver-specific
	// connection string (file path for sqlite).
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type CloudinaryConfig struct {
	CloudName string `mapstructure:"cloud_name"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Folder    string `mapstructure:"folder"`
}

type DeliveryConfig struct {
	// AllowedAssetHosts is the trusted host allow-list for stored asset
	// URLs. A record pointing anywhere else is never fetched.
	AllowedAssetHosts []string      `mapstructure:"allowed_asset_hosts"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	FetchMaxBytes     int64         `mapstructure:"fetch_max_bytes"`
	RenderPoolSize    int           `mapstructure:"render_pool_size"`
	RenderTimeout     time.Duration `mapstructure:"render_timeout"`
	Landscape         bool          `mapstructure:"landscape"`
	TemplatePath      string        `mapstructure:"template_path"`
	MaxBatchSize      int           `mapstructure:"max_batch_size"`
}

type RateLimitConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisURI      string        `mapstructure:"redis_uri"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPassword string        `mapstructure:"redis_password"`
	Window        time.Duration `mapstructure:"window"`
	// per-route-class budgets within a window
	View     int `mapstructure:"view"`
	Preview  int `mapstructure:"preview"`
	Download int `mapstructure:"download"`
	Batch    int `mapstructure:"batch"`
	List     int `mapstructure:"list"`
	Search   int `mapstructure:"search"`
}

type AdminConfig struct {
	// PasswordHash is a bcrypt hash. Password is accepted as a plaintext
	// fallback for local development only.
	PasswordHash   string        `mapstructure:"password_hash"`
	Password       string        `mapstructure:"password"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	AllowedIPs     []string      `mapstructure:"allowed_ips"`
}

type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Sender   string `mapstructure:"sender"`
}

type LoggingConfig struct {
	Environment string `mapstructure:"environment"`
	Level       string `mapstructure:"level"`
}

// LoadConfig reads config.yaml (if present) and environment overrides
// (CERTAMO_SERVER_PORT and friends), then applies defaults.
func LoadConfig(path string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("certamo")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only walks keys viper already knows, so every key must be
	// registered here or env-only overrides would be dropped.
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// missing file is fine, env + defaults still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.health_port", "8086")
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "certificates.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("cloudinary.cloud_name", "")
	v.SetDefault("cloudinary.api_key", "")
	v.SetDefault("cloudinary.api_secret", "")
	v.SetDefault("cloudinary.folder", "certificates")

	v.SetDefault("delivery.allowed_asset_hosts", []string{"res.cloudinary.com", "cloudinary.com"})
	v.SetDefault("delivery.fetch_timeout", 3*time.Second)
	v.SetDefault("delivery.fetch_max_bytes", 5<<20)
	v.SetDefault("delivery.render_pool_size", 2)
	v.SetDefault("delivery.render_timeout", 15*time.Second)
	v.SetDefault("delivery.landscape", true)
	v.SetDefault("delivery.template_path", "template.svg")
	v.SetDefault("delivery.max_batch_size", 1000)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.redis_uri", "")
	v.SetDefault("rate_limit.redis_db", 0)
	v.SetDefault("rate_limit.redis_password", "")
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.view", 10)
	v.SetDefault("rate_limit.preview", 30)
	v.SetDefault("rate_limit.download", 20)
	v.SetDefault("rate_limit.batch", 10)
	v.SetDefault("rate_limit.list", 60)
	v.SetDefault("rate_limit.search", 30)

	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.session_timeout", 24*time.Hour)
	v.SetDefault("admin.allowed_ips", []string{})

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", "587")
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.sender", "")

	v.SetDefault("logging.environment", "development")
	v.SetDefault("logging.level", "info")
}

// Validate reports non-fatal configuration problems worth surfacing at
// startup.
func (cfg *Configuration) Validate() []string {
	var warnings []string

	if cfg.Admin.PasswordHash == "" && (cfg.Admin.Password == "" || cfg.Admin.Password == "admin123") {
		warnings = append(warnings, "admin password missing or using a default value")
	}
	if cfg.Cloudinary.CloudName == "" || cfg.Cloudinary.APIKey == "" {
		warnings = append(warnings, "cloudinary credentials not configured, generation is disabled")
	}
	if cfg.Email.Enabled && cfg.Email.SMTPHost == "" {
		warnings = append(warnings, "email enabled but no SMTP host configured")
	}
	if !cfg.RateLimit.Enabled {
		warnings = append(warnings, "rate limiting disabled")
	}
	return warnings
}

func LogConfig(cfg *Configuration, logger *zap.Logger) {
	logger.Info("Application configuration",
		zap.String("port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.Strings("allowed_asset_hosts", cfg.Delivery.AllowedAssetHosts),
		zap.Duration("fetch_timeout", cfg.Delivery.FetchTimeout),
		zap.Int64("fetch_max_bytes", cfg.Delivery.FetchMaxBytes),
		zap.Int("render_pool_size", cfg.Delivery.RenderPoolSize),
		zap.Duration("render_timeout", cfg.Delivery.RenderTimeout),
		zap.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		zap.Bool("email_enabled", cfg.Email.Enabled),
	)
}
