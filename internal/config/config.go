// Package config loads the service configuration from the environment.
package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/zeebo/errs"
)

// Error is the error class for configuration failures.
var Error = errs.Class("config")

// Storage providers understood by the service.
const (
	ProviderGCS = "gcs"
	ProviderS3  = "s3"
)

// Config holds the runtime configuration. It is loaded once at startup and
// treated as read-only afterwards.
type Config struct {
	// Bucket and APIKey are required; the service cannot do anything useful
	// without them. They are checked by Validate rather than by the loader so
	// that command line flags can still supply them.
	Bucket string `env:"GCP_BUCKET_NAME"`
	APIKey string `env:"API_KEY"`

	Port int `env:"PORT" env-default:"8080"`

	Instance Instance

	Provider    string        `env:"STORAGE_PROVIDER" env-default:"gcs"`
	SignTimeout time.Duration `env:"SIGN_TIMEOUT" env-default:"10s"`

	DefaultExpirationMinutes int `env:"DEFAULT_EXPIRATION_MINUTES" env-default:"5"`
	MaxExpirationMinutes     int `env:"MAX_EXPIRATION_MINUTES" env-default:"10080"`

	GCS GCSConfig
	S3  S3Config

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:","`

	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"json"`
}

// Instance describes the hosting environment. The values are reported by the
// health endpoint and carry no other meaning.
type Instance struct {
	Name     string `env:"K_SERVICE" env-default:"local" json:"instance"`
	Revision string `env:"K_REVISION" env-default:"local" json:"revision"`
	Region   string `env:"CLOUD_RUN_REGION" env-default:"unknown" json:"region"`
}

// GCSConfig optionally pins the identity used to sign GCS URLs. Both fields
// must be set together.
type GCSConfig struct {
	AccessID       string `env:"GCS_SIGNER_ACCESS_ID"`
	PrivateKeyFile string `env:"GCS_SIGNER_PRIVATE_KEY_FILE"`
}

// S3Config locates the S3 service used when Provider is "s3".
type S3Config struct {
	Region   string `env:"AWS_REGION" env-default:"us-east-1"`
	Endpoint string `env:"AWS_S3_ENDPOINT"`
}

// Load reads configuration from a .env file in the working directory (if
// present) and the environment. Variables already set in the environment win
// over the .env file. The returned Config has not been validated.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, Error.Wrap(err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, Error.Wrap(err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Bucket == "":
		return Error.New("GCP_BUCKET_NAME environment variable is required")
	case c.APIKey == "":
		return Error.New("API_KEY environment variable is required")
	case c.Port <= 0 || c.Port > 65535:
		return Error.New("invalid port %d", c.Port)
	}
	return c.ValidateSigning()
}

// ValidateSigning checks only the values needed to talk to the storage
// authority.
func (c *Config) ValidateSigning() error {
	switch {
	case c.Bucket == "":
		return Error.New("GCP_BUCKET_NAME environment variable is required")
	case c.SignTimeout <= 0:
		return Error.New("sign timeout must be positive, got %s", c.SignTimeout)
	case c.DefaultExpirationMinutes <= 0:
		return Error.New("default expiration must be positive, got %d minutes", c.DefaultExpirationMinutes)
	case c.MaxExpirationMinutes < c.DefaultExpirationMinutes:
		return Error.New("max expiration (%d minutes) is below the default (%d minutes)",
			c.MaxExpirationMinutes, c.DefaultExpirationMinutes)
	case (c.GCS.AccessID == "") != (c.GCS.PrivateKeyFile == ""):
		return Error.New("GCS_SIGNER_ACCESS_ID and GCS_SIGNER_PRIVATE_KEY_FILE must be set together")
	}

	switch c.Provider {
	case ProviderGCS, ProviderS3:
	default:
		return Error.New("unknown storage provider %q", c.Provider)
	}
	return nil
}

// DefaultExpiration is the signed URL lifetime used when a request does not
// ask for one.
func (c *Config) DefaultExpiration() time.Duration {
	return time.Duration(c.DefaultExpirationMinutes) * time.Minute
}

// MaxExpiration is the longest signed URL lifetime a request may ask for.
func (c *Config) MaxExpiration() time.Duration {
	return time.Duration(c.MaxExpirationMinutes) * time.Minute
}
