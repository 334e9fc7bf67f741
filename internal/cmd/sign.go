package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/signed-url/internal/config"
	"github.com/tomasbasham/signed-url/internal/storage"
)

type SignOptions struct {
	cfg *config.Config

	ObjectName string
	Expiration time.Duration
	StorageFlags

	iooption.IOStreams
}

var (
	signLong = templates.LongDesc(`
		Mint a signed upload URL for a single object and print it.

		The URL permits one PUT of the object until it expires. No API key is
		needed; the caller's own cloud credentials are used for signing.`)

	signExample = templates.Examples(`
		# Mint a URL valid for the default 5 minutes
		signurl sign uploads/report.pdf --bucket my-bucket

		# Mint a URL for an S3-compatible store
		AWS_S3_ENDPOINT=http://localhost:9000 signurl sign file.txt --provider s3 --bucket my-bucket`)
)

func NewSignOptions(streams iooption.IOStreams) *SignOptions {
	return &SignOptions{
		IOStreams: streams,
	}
}

func NewSignCommand(o *SignOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "sign OBJECT",
		DisableFlagsInUseLine: true,
		Short:                 "Mint a signed upload URL for an object",
		Long:                  signLong,
		Example:               signExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&o.Expiration, "expiration", "e", 5*time.Minute, "How long the URL stays valid (default: $DEFAULT_EXPIRATION_MINUTES)")
	o.StorageFlags.AddFlags(cmd.Flags())

	return cmd
}

func (o *SignOptions) Complete(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("object name is required")
	}
	o.ObjectName = args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	o.StorageFlags.Apply(cmd.Flags(), cfg)

	if !cmd.Flags().Changed("expiration") {
		o.Expiration = cfg.DefaultExpiration()
	}

	o.cfg = cfg
	return nil
}

func (o *SignOptions) Validate() error {
	if len(o.ObjectName) == 0 {
		return fmt.Errorf("object name is required")
	}
	if o.Expiration <= 0 || o.Expiration > o.cfg.MaxExpiration() {
		return fmt.Errorf("expiration must be positive and at most %s, got %s", o.cfg.MaxExpiration(), o.Expiration)
	}
	return o.cfg.ValidateSigning()
}

func (o *SignOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(o.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	signer, err := newSigner(ctx, o.cfg)
	if err != nil {
		return err
	}
	if closer, ok := signer.(io.Closer); ok {
		defer closer.Close()
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.SignTimeout)
	defer cancel()

	result, err := signer.SignUpload(ctx, &storage.SignRequest{
		Bucket:     o.cfg.Bucket,
		ObjectName: o.ObjectName,
		Expiration: o.Expiration,
	})
	if err != nil {
		logger.Error("failed to generate signed URL",
			zap.String("bucket", o.cfg.Bucket),
			zap.String("object_name", o.ObjectName),
			zap.Error(err),
		)
		return fmt.Errorf("signing failed: %w", err)
	}

	fmt.Fprintln(o.Out, result.SignedURL)
	fmt.Fprintf(o.ErrOut, "Expires at %s\n", result.ExpiresAt.Format(time.RFC3339))
	return nil
}
