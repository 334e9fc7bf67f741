package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/signed-url/internal/config"
	"github.com/tomasbasham/signed-url/internal/server"
)

type ServeOptions struct {
	cfg *config.Config

	Port int
	StorageFlags

	iooption.IOStreams
}

var (
	serveLong = templates.LongDesc(`
		Start the signed URL HTTP server.

		GCP_BUCKET_NAME and API_KEY must be set (or supplied as flags where
		available); the server refuses to start without them.`)

	serveExample = templates.Examples(`
		# Start on the port given by $PORT, or 8080
		signurl serve

		# Start on a custom port with a specific bucket
		signurl serve --port 9090 --bucket my-upload-bucket`)
)

func NewServeOptions(streams iooption.IOStreams) *ServeOptions {
	return &ServeOptions{
		IOStreams: streams,
	}
}

func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the signed URL HTTP server",
		Long:    serveLong,
		Example: serveExample,
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

	cmd.Flags().IntVarP(&o.Port, "port", "p", 8080, "Port to listen on (default: $PORT)")
	o.StorageFlags.AddFlags(cmd.Flags())

	return cmd
}

// Complete loads the configuration from the environment and applies any
// explicitly set flags on top.
func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cmd.Flags().Changed("port") {
		cfg.Port = o.Port
	}
	o.StorageFlags.Apply(cmd.Flags(), cfg)

	o.cfg = cfg
	return nil
}

func (o *ServeOptions) Validate() error {
	if o.cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	return o.cfg.Validate()
}

func (o *ServeOptions) Run() error {
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

	srv := server.New(logger, signer, o.cfg)

	addr := fmt.Sprintf(":%d", o.cfg.Port)
	logger.Info("starting signed URL server",
		zap.String("address", addr),
		zap.String("provider", o.cfg.Provider),
		zap.String("bucket", o.cfg.Bucket),
		zap.String("instance", o.cfg.Instance.Name),
		zap.String("revision", o.cfg.Instance.Revision),
		zap.String("region", o.cfg.Instance.Region),
	)
	return srv.Run(ctx, addr)
}
