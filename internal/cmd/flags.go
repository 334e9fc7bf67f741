package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tomasbasham/signed-url/internal/config"
	"github.com/tomasbasham/signed-url/internal/logging"
	"github.com/tomasbasham/signed-url/internal/storage"
)

// StorageFlags are the command line overrides shared by every command that
// talks to the storage authority. A flag only takes effect when it is set
// explicitly; otherwise the environment value stands.
type StorageFlags struct {
	Bucket      string
	Provider    string
	SignTimeout time.Duration
	LogLevel    string
	LogFormat   string
}

// AddFlags registers the flags on fs.
func (f *StorageFlags) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&f.Bucket, "bucket", "b", "", "Bucket to sign URLs for (default: $GCP_BUCKET_NAME)")
	fs.StringVar(&f.Provider, "provider", config.ProviderGCS, "Storage provider, one of gcs or s3 (default: $STORAGE_PROVIDER)")
	fs.DurationVar(&f.SignTimeout, "sign-timeout", 10*time.Second, "Upper bound on a single signing call (default: $SIGN_TIMEOUT)")
	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level, one of debug, info, warn or error (default: $LOG_LEVEL)")
	fs.StringVar(&f.LogFormat, "log-format", logging.FormatJSON, "Log format, one of json or console (default: $LOG_FORMAT)")
}

// Apply copies explicitly set flags over cfg.
func (f *StorageFlags) Apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("bucket") {
		cfg.Bucket = f.Bucket
	}
	if fs.Changed("provider") {
		cfg.Provider = f.Provider
	}
	if fs.Changed("sign-timeout") {
		cfg.SignTimeout = f.SignTimeout
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.LogLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = f.LogFormat
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise logger: %w", err)
	}
	return logger, nil
}

// newSigner builds the storage authority selected by cfg. Credentials are
// resolved from the environment by the provider SDK.
func newSigner(ctx context.Context, cfg *config.Config) (storage.Signer, error) {
	switch cfg.Provider {
	case config.ProviderS3:
		signer, err := storage.NewS3Signer(ctx, storage.S3Config{
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialise S3 signer: %w", err)
		}
		return signer, nil

	default:
		var opts []storage.GCSOption
		if cfg.GCS.AccessID != "" {
			key, err := os.ReadFile(cfg.GCS.PrivateKeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read signing key: %w", err)
			}
			opts = append(opts, storage.WithSigningIdentity(cfg.GCS.AccessID, key))
		}

		signer, err := storage.NewGCSSigner(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise GCS signer: %w", err)
		}
		return signer, nil
	}
}
