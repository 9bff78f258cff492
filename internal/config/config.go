package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string        `mapstructure:"PORT"`
	Env           string        `mapstructure:"ENV"`
	DatabaseURL   string        `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir string        `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins   []string      `mapstructure:"CORS_ORIGINS"`
	JWTSigningKey string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTTTL        time.Duration `mapstructure:"JWT_TTL"`
	AIServiceURL  string        `mapstructure:"AI_SERVICE_URL"`
	AIAnalyzeURL  string        `mapstructure:"AI_ANALYZE_URL"`
	AITimeout     time.Duration `mapstructure:"AI_TIMEOUT"`
	AIRetryCount  int           `mapstructure:"AI_RETRY_COUNT"`
	ImageStore    string        `mapstructure:"IMAGE_STORE"`
	UploadDir     string        `mapstructure:"UPLOAD_DIR"`
	MaxUploadSize string        `mapstructure:"MAX_UPLOAD_SIZE"`
	RedisURL      string        `mapstructure:"REDIS_URL"`
	NotifyStream  string        `mapstructure:"NOTIFY_STREAM"`
	Timezone      string        `mapstructure:"TIMEZONE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("AI_SERVICE_URL", "http://localhost:5000/predict")
	v.SetDefault("AI_TIMEOUT", "30s")
	v.SetDefault("AI_RETRY_COUNT", 0)
	v.SetDefault("IMAGE_STORE", "filesystem")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("MAX_UPLOAD_SIZE", "10M")
	v.SetDefault("NOTIFY_STREAM", "retinascan:notifications")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"MIGRATIONS_DIR", "CORS_ORIGINS", "JWT_SIGNING_KEY", "JWT_TTL",
		"AI_SERVICE_URL", "AI_ANALYZE_URL", "AI_TIMEOUT", "AI_RETRY_COUNT",
		"IMAGE_STORE", "UPLOAD_DIR", "MAX_UPLOAD_SIZE", "REDIS_URL",
		"NOTIFY_STREAM", "TIMEZONE",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: requests without a bearer token are treated as an admin user.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAnalyzeURL returns the case-analysis endpoint. When AI_ANALYZE_URL
// is unset it is derived from AI_SERVICE_URL by swapping the /predict path.
func (c *Config) ResolvedAnalyzeURL() string {
	if c.AIAnalyzeURL != "" {
		return c.AIAnalyzeURL
	}
	if strings.HasSuffix(c.AIServiceURL, "/predict") {
		return strings.TrimSuffix(c.AIServiceURL, "/predict") + "/analyze-case"
	}
	return strings.TrimRight(c.AIServiceURL, "/") + "/analyze-case"
}

// Location returns the time zone used for calendar-day statistics.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.JWTSigningKey != "" && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 characters, got %d", len(c.JWTSigningKey))
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive, got %s", c.JWTTTL)
	}
	if c.AIServiceURL == "" {
		return fmt.Errorf("AI_SERVICE_URL is required")
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be positive, got %s", c.AITimeout)
	}
	if c.AIRetryCount < 0 {
		return fmt.Errorf("AI_RETRY_COUNT must not be negative, got %d", c.AIRetryCount)
	}
	switch c.ImageStore {
	case "memory":
	case "filesystem":
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR is required when IMAGE_STORE is \"filesystem\"")
		}
	default:
		return fmt.Errorf("IMAGE_STORE must be \"memory\" or \"filesystem\", got %q", c.ImageStore)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
