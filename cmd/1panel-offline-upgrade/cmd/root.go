package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/1panel-offline/internal/logger"
	"github.com/oshokin/1panel-offline/internal/service/upgrader"
	"github.com/oshokin/1panel-offline/internal/version"
)

const logFilename = "upgrade.log"

var (
	// options collects flag values for the upgrader.
	options upgrader.Options
	// logFile receives a copy of every log line.
	logFile string
	// logLevel is the log level for console and file.
	logLevel string

	// rootCmd represents the base command for upgrading an installed panel.
	rootCmd = &cobra.Command{
		Use:   "1panel-offline-upgrade",
		Short: "Upgrade an installed 1Panel from an offline bundle.",
		Long: `Backs up the installed binaries, 1pctl and language files, replaces them with
the ones from the bundle, keeps the existing port, credentials, entrance and
language, records the new version in the panel databases and restarts the services.

A failure while replacing files restores the backup. Set ` + upgrader.BaseDirEnv + ` to use an
installation base directory other than the one recorded in 1pctl.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			if options.BundleDir == "" {
				executable, err := os.Executable()
				if err != nil {
					return fmt.Errorf("locate bundle: %w", err)
				}

				options.BundleDir = filepath.Dir(executable)
			}

			if logFile == "" {
				logFile = filepath.Join(options.BundleDir, logFilename)
			}

			log, closeLog, err := logger.NewWithFile(level, logFile)
			if err != nil {
				return err
			}

			defer func() {
				_ = closeLog()
			}()

			logger.SetLogger(log)

			options.BaseDir = os.Getenv(upgrader.BaseDirEnv)

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			ctx = logger.ToContext(ctx, log)

			result, err := upgrader.Run(ctx, &options)
			if err != nil {
				return err
			}

			logger.InfoKV(ctx, "Backup of the previous installation", "path", result.BackupDir, "log", logFile)

			return nil
		},
	}
)

// Execute runs the 1panel-offline-upgrade CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.Flags()

	flags.StringVarP(&options.BundleDir, "bundle", "b", "", "unpacked offline bundle (default: directory of this executable)")
	flags.StringVar(&logFile, "log-file", "", "persistent log file (default: <bundle>/"+logFilename+")")
	flags.StringVar(&options.Version, "version", "", "target version (default: taken from the bundle)")
	flags.BoolVar(&options.Force, "force", false, "allow installing an older version")
	flags.DurationVar(&options.VerifyTimeout, "verify-timeout", upgrader.DefaultVerifyTimeout,
		"how long to wait for 1panel-core to appear after start")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
}
