package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"

	ImagesDocument = "document"
	ImagesGCS      = "gcs"
)

type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Backend selects the document store: memory, firestore or postgres.
	Backend string `envconfig:"STORE_BACKEND" default:"memory"`

	DBDSN      string `envconfig:"DB_DSN"`
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"postgres"`
	DBPassword string `envconfig:"DB_PASSWORD" default:"postgres"`
	DBName     string `envconfig:"DB_NAME" default:"jeanstore"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	ProjectID       string `envconfig:"GOOGLE_CLOUD_PROJECT"`
	CredentialsFile string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`

	// Images selects where uploads go: document (base64 in the store) or gcs.
	Images      string `envconfig:"IMAGE_BACKEND" default:"document"`
	ImageBucket string `envconfig:"IMAGE_BUCKET"`
	MaxImageMB  int64  `envconfig:"MAX_IMAGE_MB" default:"5"`
	Placeholder string `envconfig:"IMAGE_PLACEHOLDER" default:"/images/placeholder.jpg"`

	FirebaseAPIKey     string `envconfig:"FIREBASE_API_KEY"`
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`
	BaseURL            string `envconfig:"BASE_URL" default:"http://localhost:8080"`
	HTTPAddr           string `envconfig:"HTTP_ADDR" default:":8080"`

	SendGridAPIKey string `envconfig:"SENDGRID_API_KEY"`
	MailFrom       string `envconfig:"MAIL_FROM"`
	MailFromName   string `envconfig:"MAIL_FROM_NAME" default:"Jean Store"`

	StatePath  string        `envconfig:"STATE_PATH" default:"data/state.json"`
	CacheTTL   time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	LoginRoute string        `envconfig:"LOGIN_ROUTE" default:"/login"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.Images = strings.ToLower(strings.TrimSpace(c.Images))
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendPostgres:
	case BackendFirestore:
		if c.ProjectID == "" {
			return errors.New("GOOGLE_CLOUD_PROJECT is required for the firestore backend")
		}
	default:
		return errors.Errorf("unknown STORE_BACKEND %q", c.Backend)
	}
	switch c.Images {
	case ImagesDocument:
	case ImagesGCS:
		if c.ImageBucket == "" {
			return errors.New("IMAGE_BUCKET is required for gcs images")
		}
	default:
		return errors.Errorf("unknown IMAGE_BACKEND %q", c.Images)
	}
	if c.MaxImageMB <= 0 {
		return errors.New("MAX_IMAGE_MB must be positive")
	}
	return nil
}

func (c *Config) Production() bool {
	env := strings.ToLower(c.AppEnv)
	return env == "production" || env == "prod"
}

func (c *Config) MaxImageBytes() int64 { return c.MaxImageMB << 20 }

// DSN returns DB_DSN, or composes one from the DB_* parts.
func (c *Config) DSN() string {
	if dsn := strings.TrimSpace(c.DBDSN); dsn != "" {
		return dsn
	}
	return "host=" + c.DBHost + " user=" + c.DBUser + " password=" + c.DBPassword +
		" dbname=" + c.DBName + " port=" + c.DBPort + " sslmode=" + c.DBSSLMode
}

// GoogleOAuthEnabled reports whether Google sign-in credentials are configured.
func (c *Config) GoogleOAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}
