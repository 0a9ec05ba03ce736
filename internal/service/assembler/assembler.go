package assembler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/1panel-offline/internal/archive"
	"github.com/oshokin/1panel-offline/internal/assets"
	"github.com/oshokin/1panel-offline/internal/config"
	"github.com/oshokin/1panel-offline/internal/domain/bundle"
	"github.com/oshokin/1panel-offline/internal/fileutil"
	"github.com/oshokin/1panel-offline/internal/logger"
	"github.com/oshokin/1panel-offline/internal/service/downloader"
	"github.com/oshokin/1panel-offline/internal/service/patcher"
	"github.com/oshokin/1panel-offline/internal/service/resolver"
)

// UpgraderName is the file name of the host upgrade tool inside a bundle.
const UpgraderName = "1panel-offline-upgrade"

var errNoInstaller = errors.New("panel package has no install.sh")

// Release pins the panel version being bundled.
type Release struct {
	Channel string
	Version string
}

// Layout computes output paths for one build.
type Layout struct {
	// OutputDir is the output root, usually "build".
	OutputDir string
	// Version is the panel version.
	Version string
	// Flat drops the source from paths; only valid for single-source builds.
	Flat bool
}

// VersionRoot is the directory that receives checksums.txt.
func (l Layout) VersionRoot() string {
	return filepath.Join(l.OutputDir, l.Version)
}

// Name returns the bundle base name, also used as the archive's top directory.
func (l Layout) Name(source bundle.Source, arch string) string {
	if l.Flat {
		return fmt.Sprintf("1panel-%s-offline-linux-%s", l.Version, arch)
	}

	return fmt.Sprintf("1panel-%s-%s-offline-linux-%s", l.Version, source, arch)
}

// Dir returns the directory holding the staging tree and the archive.
func (l Layout) Dir(source bundle.Source) string {
	if l.Flat {
		return l.VersionRoot()
	}

	return filepath.Join(l.VersionRoot(), string(source))
}

// StagingDir returns the exclusive working directory of one pair.
func (l Layout) StagingDir(source bundle.Source, arch string) string {
	return filepath.Join(l.Dir(source), l.Name(source, arch))
}

// ArchivePath returns the final archive location of one pair.
func (l Layout) ArchivePath(source bundle.Source, arch string) string {
	return l.StagingDir(source, arch) + ".tar.gz"
}

// Assembler builds bundles.
type Assembler struct {
	cfg        *config.Config
	resolver   *resolver.Resolver
	downloader *downloader.Downloader
	patcher    *patcher.Patcher
	release    Release
	layout     Layout
	// upgraderDir is searched for upgrade tools when the configuration names none.
	upgraderDir string
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithPatcher replaces the default strict patcher.
func WithPatcher(p *patcher.Patcher) Option {
	return func(a *Assembler) {
		a.patcher = p
	}
}

// WithDownloader replaces the downloader built from the configuration.
func WithDownloader(d *downloader.Downloader) Option {
	return func(a *Assembler) {
		a.downloader = d
	}
}

// WithDefaultUpgraderDir replaces the directory searched for upgrade tools
// when the configuration names none. It defaults to the running executable's
// directory.
func WithDefaultUpgraderDir(dir string) Option {
	return func(a *Assembler) {
		a.upgraderDir = dir
	}
}

// New creates an Assembler for one release.
func New(cfg *config.Config, release Release, layout Layout, opts ...Option) *Assembler {
	a := &Assembler{
		cfg:      cfg,
		resolver: resolver.New(cfg),
		downloader: downloader.New(
			downloader.WithRetries(cfg.Download.Retries, cfg.Download.RetryDelay),
			downloader.WithTimeout(cfg.Download.Timeout),
		),
		patcher:     patcher.New(),
		release:     release,
		layout:      layout,
		upgraderDir: executableDir(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Layout returns the output layout in use.
func (a *Assembler) Layout() Layout {
	return a.layout
}

// Assemble produces the archive for one pair. A returned error means nothing
// usable was produced; the entry is only returned on success.
func (a *Assembler) Assemble(ctx context.Context, source bundle.Source, arch string) (*bundle.Entry, error) {
	profile, err := bundle.LookupProfile(arch)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithKV(logger.WithKV(ctx, "source", source), "arch", profile.Tag)

	staging := a.layout.StagingDir(source, profile.Tag)
	if err = os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("clean staging directory: %w", err)
	}

	if err = os.MkdirAll(staging, fileutil.DirMode); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	logger.InfoKV(ctx, "Assembling bundle", "staging", staging)

	panel, err := a.fetchPanel(ctx, source, profile)
	if err != nil {
		return nil, err
	}

	docker, err := a.downloader.Fetch(ctx, a.resolver.DockerPackage(profile), func(v string) string {
		return filepath.Join(a.cfg.CacheDir, fmt.Sprintf("docker-%s-%s.tgz", v, profile.Tag))
	})
	if err != nil {
		return nil, fmt.Errorf("fetch docker: %w", err)
	}

	compose, err := a.downloader.Fetch(ctx, a.resolver.ComposeBinary(profile), func(v string) string {
		return filepath.Join(a.cfg.CacheDir, fmt.Sprintf("docker-compose-%s-%s", v, profile.Tag))
	})
	if err != nil {
		return nil, fmt.Errorf("fetch docker-compose: %w", err)
	}

	// The cache may have been touched by another process since Fetch.
	if err = archive.Validate(panel.Path); err != nil {
		_ = os.Remove(panel.Path)

		return nil, fmt.Errorf("panel package: %w", err)
	}

	if err = archive.Extract(panel.Path, staging, 1); err != nil {
		return nil, fmt.Errorf("extract panel package: %w", err)
	}

	entry := &bundle.Entry{
		Source:         source,
		Arch:           profile.Tag,
		DockerVersion:  docker.Version,
		ComposeVersion: compose.Version,
	}

	entry.DatabaseClient = a.addDatabaseClient(ctx, profile, staging)

	if err = a.addOfflineArtifacts(docker.Path, compose.Path, staging); err != nil {
		return nil, err
	}

	entry.Upgrader = a.addUpgrader(ctx, profile, staging)

	installer := filepath.Join(staging, patcher.InstallScriptName)
	if !fileutil.Exists(installer) {
		return nil, errNoInstaller
	}

	result, err := a.patcher.Patch(ctx, installer)
	if err != nil {
		return nil, fmt.Errorf("patch install.sh: %w", err)
	}

	logger.InfoKV(ctx, "Installer processed", "status", result.Status, "applied", len(result.Applied), "missing", len(result.Missing))

	name := a.layout.Name(source, profile.Tag)
	archivePath := a.layout.ArchivePath(source, profile.Tag)

	if err = archive.Create(staging, archivePath, name); err != nil {
		return nil, fmt.Errorf("compress bundle: %w", err)
	}

	entry.Status = bundle.StatusBuilt
	entry.ArchivePath = archivePath

	logger.InfoKV(ctx, "Bundle ready", "archive", archivePath)

	return entry, nil
}

func (a *Assembler) fetchPanel(ctx context.Context, source bundle.Source, profile bundle.Profile) (*downloader.Result, error) {
	artifact, err := a.resolver.PanelPackage(source, a.release.Channel, a.release.Version, profile)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(a.cfg.CacheDir, string(source), resolver.PanelPackageName(a.release.Version, profile))

	result, err := a.downloader.Fetch(ctx, artifact, downloader.Fixed(path))
	if err != nil {
		return nil, fmt.Errorf("fetch panel package: %w", err)
	}

	return result, nil
}

// addDatabaseClient embeds the sqlite3 client when one can be obtained.
func (a *Assembler) addDatabaseClient(ctx context.Context, profile bundle.Profile, staging string) bundle.Outcome {
	artifact := a.resolver.DatabaseClient(profile)
	if artifact == nil {
		logger.InfoKV(ctx, "No sqlite3 client build for this architecture")

		return bundle.Skipped("no sqlite3 build for " + profile.Tag)
	}

	result, err := a.downloader.Fetch(ctx, artifact, func(v string) string {
		return filepath.Join(a.cfg.CacheDir, fmt.Sprintf("sqlite3-%s-%s", v, profile.Tag))
	})
	if err != nil {
		logger.WarnKV(ctx, "sqlite3 client not bundled", "error", err)

		return bundle.Skipped(err.Error())
	}

	if err = fileutil.CopyFile(result.Path, filepath.Join(staging, patcher.DatabaseClientName), 0o755); err != nil {
		logger.WarnKV(ctx, "sqlite3 client not bundled", "error", err)

		return bundle.Skipped(err.Error())
	}

	return bundle.Included()
}

func (a *Assembler) addOfflineArtifacts(dockerPath, composePath, staging string) error {
	if err := fileutil.CopyFile(dockerPath, filepath.Join(staging, patcher.DockerArchiveName), 0o644); err != nil {
		return fmt.Errorf("copy docker package: %w", err)
	}

	if err := fileutil.CopyFile(composePath, filepath.Join(staging, patcher.ComposeBinaryName), 0o755); err != nil {
		return fmt.Errorf("copy docker-compose: %w", err)
	}

	if err := assets.WriteDockerService(filepath.Join(staging, patcher.DockerServiceName)); err != nil {
		return err
	}

	return assets.WriteUpgradeScript(filepath.Join(staging, patcher.UpgradeScriptName))
}

// addUpgrader copies a prebuilt upgrade tool for the architecture from the
// configured directory, or from the default one when none is configured.
func (a *Assembler) addUpgrader(ctx context.Context, profile bundle.Profile, staging string) bundle.Outcome {
	dir := a.cfg.UpgraderDir
	if dir == "" {
		dir = a.upgraderDir
	}

	if dir == "" {
		logger.WarnKV(ctx, "Upgrader not bundled, upgrade.sh will not run", "reason", "no upgrader directory")

		return bundle.Skipped("no upgrader directory")
	}

	src := filepath.Join(dir, fmt.Sprintf("%s-linux-%s", UpgraderName, profile.Tag))
	if !fileutil.Exists(src) {
		logger.WarnKV(ctx, "Upgrader not bundled, upgrade.sh will not run", "path", src)

		return bundle.Skipped("missing " + src)
	}

	if err := fileutil.CopyFile(src, filepath.Join(staging, UpgraderName), 0o755); err != nil {
		logger.WarnKV(ctx, "Upgrader not bundled", "error", err)

		return bundle.Skipped(err.Error())
	}

	return bundle.Included()
}

func executableDir() string {
	path, err := os.Executable()
	if err != nil {
		return ""
	}

	return filepath.Dir(path)
}
