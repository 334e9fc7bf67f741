package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		Mint time-limited signed upload URLs for objects in a storage bucket.

		The serve command exposes an HTTP API guarded by a shared API key. The
		sign command mints a single URL from the command line.`)

	rootExamples = templates.Examples(`
		# Serve the HTTP API using GCP_BUCKET_NAME and API_KEY from the environment
		signurl serve

		# Mint one URL valid for 15 minutes
		signurl sign uploads/report.pdf --bucket my-bucket --expiration 15m`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// SignURLOptions defines the options for the `signurl` command.
type SignURLOptions struct {
	iooption.IOStreams
}

// NewSignURLOptions provides an initialised SignURLOptions instance.
func NewSignURLOptions(streams iooption.IOStreams) *SignURLOptions {
	return &SignURLOptions{
		IOStreams: streams,
	}
}

// NewRootCommand creates the `signurl` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewSignURLOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `signurl` command and its nested
// children.
func NewRootCommandWithArgs(o *SignURLOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "signurl [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Signed upload URL service",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	cmd.AddCommand(NewServeCommand(NewServeOptions(o.IOStreams)))
	cmd.AddCommand(NewSignCommand(NewSignOptions(o.IOStreams)))

	// The global normalisation function ensures that all flags specified meet
	// the desired format, warning about and changing users' input if
	// necessary.
	printerOpts := printer.WarningPrinterOptions{Color: true}
	warner := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(warner))

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
