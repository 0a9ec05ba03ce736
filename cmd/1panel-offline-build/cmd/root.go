package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/1panel-offline/internal/config"
	"github.com/oshokin/1panel-offline/internal/logger"
	"github.com/oshokin/1panel-offline/internal/service/builder"
	"github.com/oshokin/1panel-offline/internal/version"
)

var (
	// options collects flag values for the builder.
	options builder.Options
	// logLevel is the console log level.
	logLevel string

	// rootCmd represents the base command for building offline bundles.
	rootCmd = &cobra.Command{
		Use:   "1panel-offline-build",
		Short: "Build offline installation bundles for 1Panel.",
		Long: `Downloads the 1Panel release package, a static Docker build and docker-compose
for every requested architecture, patches install.sh to install them without
network access and packs the result into one archive per architecture and source.

Archives are written to <output>/<version>/<source>/ together with checksums.txt
and manifest.yaml. Downloads are cached in <output>/cache and reused on the next run.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			_, err := builder.Run(ctx, &options)

			return err
		},
	}
)

// Execute runs the 1panel-offline-build CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.Flags()

	flags.StringVarP(&options.ConfigPath, "config", "c", "",
		"path to configuration file (default "+config.DefaultConfigFilename+" if present)")
	flags.StringVar(&options.Channel, "channel", "", "release channel: stable, beta or dev")
	flags.StringVar(&options.Version, "version", "", "panel version, e.g. v2.0.10 (default: latest of the channel)")
	flags.BoolVar(&options.Confirm, "confirm", false, "ask before building a looked-up latest version")
	flags.StringVar(&options.Source, "source", "official", "release source: official, custom or both")
	flags.StringVar(&options.Repo, "repo", "", "owner/name of the custom release repository")
	flags.StringVar(&options.DockerVersion, "docker-version", "", "preferred Docker version")
	flags.StringVar(&options.ComposeVersion, "compose-version", "", "preferred docker-compose version")
	flags.StringSliceVar(&options.Architectures, "arch", nil,
		"architectures, space or comma separated; repeatable (default amd64,arm64)")
	flags.BoolVar(&options.AllowMissing, "allow-missing", false, "record failed architectures as skipped and continue")
	flags.BoolVar(&options.LenientPatch, "lenient-patch", false, "skip install.sh edits whose anchor is missing")
	flags.StringVarP(&options.OutputDir, "output", "o", "", "output directory (default "+config.DefaultOutputDir+")")
	flags.BoolVar(&options.Flat, "flat", false, "omit the source directory and name for single-source builds")
	flags.StringVar(&options.UpgraderDir, "upgrader-dir", "",
		"directory with 1panel-offline-upgrade-linux-<arch> binaries to embed (default: next to this executable)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
}
