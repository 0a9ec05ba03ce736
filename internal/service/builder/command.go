package builder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/oshokin/1panel-offline/internal/config"
	"github.com/oshokin/1panel-offline/internal/domain/bundle"
	"github.com/oshokin/1panel-offline/internal/logger"
	"github.com/oshokin/1panel-offline/internal/service/assembler"
	"github.com/oshokin/1panel-offline/internal/service/downloader"
	"github.com/oshokin/1panel-offline/internal/service/patcher"
)

var (
	// ErrNothingBuilt is returned when no (source, architecture) pair produced an archive.
	ErrNothingBuilt = errors.New("no bundle was built")
	// errFlatNeedsSingleSource is returned for --flat with both sources.
	errFlatNeedsSingleSource = errors.New("flat layout requires a single source")
	// errNoArchitectures is returned when the architecture list parses to nothing.
	errNoArchitectures = errors.New("no architecture requested")
)

// DefaultArchitectures are built when no --arch flag is given.
//
//nolint:gochecknoglobals // Read-only defaults.
var DefaultArchitectures = []string{bundle.ArchAMD64, bundle.ArchARM64}

// Options contains inputs for the builder entry point. Empty strings keep the
// values from the configuration file.
type Options struct {
	// ConfigPath is an optional YAML configuration file.
	ConfigPath string
	// Channel is the release channel.
	Channel string
	// Version is the panel version; empty triggers the latest lookup.
	Version string
	// Confirm asks the operator before building a looked-up version.
	Confirm bool
	// Source is official, custom or both.
	Source string
	// Repo is the owner/name of the custom release repository.
	Repo string
	// DockerVersion overrides the preferred Docker version.
	DockerVersion string
	// ComposeVersion overrides the preferred docker-compose version.
	ComposeVersion string
	// Architectures are raw --arch values, each space or comma separated.
	Architectures []string
	// AllowMissing records failed pairs as skipped instead of aborting.
	AllowMissing bool
	// LenientPatch skips missing installer anchors instead of failing.
	LenientPatch bool
	// OutputDir overrides the output root.
	OutputDir string
	// Flat drops the source directory from output paths.
	Flat bool
	// UpgraderDir holds prebuilt upgrade tools to embed.
	UpgraderDir string
	// Confirmer overrides the interactive prompt.
	Confirmer Confirmer
	// HTTPClient overrides the client used for every request.
	HTTPClient *http.Client
}

// builder runs one build. Callers use Run.
type builder struct {
	cfg           *config.Config
	opts          *Options
	sources       []bundle.Source
	architectures []string
	client        *http.Client
}

// Run executes the build and returns its report. The report is returned
// together with an error when the run stopped part way.
func Run(ctx context.Context, opts *Options) (*Report, error) {
	ctx = logger.WithName(ctx, "1panel-offline-build")

	b, err := newBuilder(opts)
	if err != nil {
		return nil, err
	}

	version, err := b.resolveVersion(ctx)
	if err != nil {
		return nil, err
	}

	report, err := b.build(ctx, version)
	if report != nil {
		report.Log(ctx)
	}

	if err != nil {
		return report, fmt.Errorf("build failed: %w", err)
	}

	logger.Info(ctx, "Build completed successfully")

	return report, nil
}

// newBuilder loads configuration, applies flag overrides and validates every
// configuration input before any network access.
func newBuilder(opts *Options) (*builder, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg, opts)

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	sources, err := bundle.ParseSources(opts.Source)
	if err != nil {
		return nil, err
	}

	if opts.Flat && len(sources) > 1 {
		return nil, errFlatNeedsSingleSource
	}

	raw := opts.Architectures
	if len(raw) == 0 {
		raw = DefaultArchitectures
	}

	architectures, err := bundle.ParseArchitectures(raw...)
	if err != nil {
		return nil, err
	}

	if len(architectures) == 0 {
		return nil, errNoArchitectures
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Download.Timeout}
	}

	return &builder{
		cfg:           cfg,
		opts:          opts,
		sources:       sources,
		architectures: architectures,
		client:        client,
	}, nil
}

func applyOverrides(cfg *config.Config, opts *Options) {
	if opts.Channel != "" {
		cfg.Channel = opts.Channel
	}

	if opts.Version != "" {
		cfg.Version = opts.Version
	}

	if opts.Repo != "" {
		cfg.CustomRepo = opts.Repo
	}

	if opts.DockerVersion != "" {
		cfg.Docker.Version = opts.DockerVersion
	}

	if opts.ComposeVersion != "" {
		cfg.Compose.Version = opts.ComposeVersion
	}

	if opts.OutputDir != "" {
		// A cache that follows the output root moves with it.
		if cfg.CacheDir == filepath.Join(cfg.OutputDir, "cache") {
			cfg.CacheDir = ""
		}

		cfg.OutputDir = opts.OutputDir
	}

	if opts.UpgraderDir != "" {
		cfg.UpgraderDir = opts.UpgraderDir
	}
}

// build assembles every requested pair sequentially.
func (b *builder) build(ctx context.Context, version string) (*Report, error) {
	layout := assembler.Layout{
		OutputDir: b.cfg.OutputDir,
		Version:   version,
		Flat:      b.opts.Flat,
	}

	asm := assembler.New(b.cfg,
		assembler.Release{Channel: b.cfg.Channel, Version: version},
		layout,
		assembler.WithPatcher(patcher.New(patcher.WithLenient(b.opts.LenientPatch))),
		assembler.WithDownloader(downloader.New(
			downloader.WithHTTPClient(b.client),
			downloader.WithRetries(b.cfg.Download.Retries, b.cfg.Download.RetryDelay),
		)),
	)

	report := NewReport(b.cfg.Channel, version, layout.VersionRoot())

	logger.InfoKV(ctx, "Starting build",
		"version", version,
		"channel", b.cfg.Channel,
		"architectures", b.architectures,
		"sources", b.sources,
		"allow_missing", b.opts.AllowMissing)

	for _, arch := range b.architectures {
		for _, source := range b.sources {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			entry, err := asm.Assemble(ctx, source, arch)
			if err == nil {
				report.Add(*entry)

				continue
			}

			if !b.opts.AllowMissing {
				return report, fmt.Errorf("%s/%s: %w", source, arch, err)
			}

			logger.WarnKV(ctx, "Bundle skipped", "source", source, "arch", arch, "error", err)
			report.Add(bundle.Entry{
				Source: source,
				Arch:   arch,
				Status: bundle.StatusSkipped,
				Reason: err.Error(),
			})
		}
	}

	if len(report.Built()) == 0 {
		return report, ErrNothingBuilt
	}

	if err := report.WriteChecksums(); err != nil {
		return report, err
	}

	if err := report.WriteManifest(); err != nil {
		return report, err
	}

	return report, nil
}
