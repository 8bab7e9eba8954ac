package boot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env     string `env:"ENV,default=dev"`
	BaseURL string `env:"BASE_URL,default=http://localhost:8080"`
	DataDir string `env:"DATA_DIR,default=data"`
	Server  struct {
		Port        string `env:"PORT,default=8080"`
		MetricsPort string `env:"METRICS_PORT,default=8081"`
		Origins     string `env:"ALLOWED_ORIGINS,default=*"`
		BodyLimit   string `env:"BODY_LIMIT,default=110M"`
	}
	Database struct {
		Driver string `env:"DB_DRIVER,default=sqlite3"`
		URL    string `env:"DATABASE_URL"`
	}
	Auth struct {
		Issuer             string        `env:"TOKEN_ISSUER,default=quill"`
		TokenTTL           time.Duration `env:"TOKEN_TTL,default=24h"`
		SigningKeyFile     string        `env:"SIGNING_KEY_FILE"`
		SigningKeyPassword string        `env:"SIGNING_KEY_PASSWORD"`
		RegistrationStatus string        `env:"REGISTRATION_STATUS,default=active"`
		FailOpen           bool          `env:"AUTH_FAIL_OPEN,default=false"`
	}
	Verification struct {
		CodeLength     int           `env:"VERIFICATION_CODE_LENGTH,default=6"`
		TTL            time.Duration `env:"VERIFICATION_TTL,default=10m"`
		MaxAttempts    int           `env:"VERIFICATION_MAX_ATTEMPTS,default=5"`
		ResendCooldown time.Duration `env:"VERIFICATION_RESEND_COOLDOWN,default=60s"`
		MaxResends     int           `env:"VERIFICATION_MAX_RESENDS,default=3"`
	}
	Mail struct {
		Host     string `env:"SMTP_HOST"`
		Port     int    `env:"SMTP_PORT,default=587"`
		Username string `env:"SMTP_USERNAME"`
		Password string `env:"SMTP_PASSWORD"`
		From     string `env:"MAIL_FROM,default=no-reply@quill.local"`
	}
	Media struct {
		Backend   string `env:"MEDIA_BACKEND,default=local"`
		Dir       string `env:"MEDIA_DIR"`
		URLPrefix string `env:"MEDIA_URL_PREFIX,default=/media"`
		S3        struct {
			Bucket    string `env:"S3_BUCKET"`
			Region    string `env:"S3_REGION,default=us-east-1"`
			Endpoint  string `env:"S3_ENDPOINT"`
			AccessKey string `env:"S3_ACCESS_KEY"`
			SecretKey string `env:"S3_SECRET_KEY"`
		}
	}
	Redis struct {
		URL string `env:"REDIS_URL"`
	}
	Relay struct {
		Shards     int `env:"RELAY_SHARDS,default=16"`
		BufferSize int `env:"RELAY_BUFFER_SIZE,default=256"`
	}
}

// Load reads an optional .env file then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	config := &Config{}
	if err := envconfig.Process(context.Background(), config); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	return config, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}

func (c *Config) DataDirectory() string {
	return c.DataDir
}

// DatabaseURL defaults to a sqlite file in the data directory.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return "file:" + strings.TrimRight(c.DataDir, "/") + "/quill.db?_foreign_keys=on&_busy_timeout=5000"
}

func (c *Config) MediaDirectory() string {
	if c.Media.Dir != "" {
		return c.Media.Dir
	}
	return strings.TrimRight(c.DataDir, "/") + "/media"
}

func (c *Config) AllowedOrigins() []string {
	origins := strings.Split(c.Server.Origins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}
