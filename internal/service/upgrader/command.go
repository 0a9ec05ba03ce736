package upgrader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/1panel-offline/internal/logger"
	"github.com/oshokin/1panel-offline/internal/repository/panelconf"
	"github.com/oshokin/1panel-offline/internal/repository/settings"
)

var (
	// ErrPreflight is returned when the host or the bundle is not ready; nothing was changed.
	ErrPreflight = errors.New("preflight check failed")
	// ErrRolledBack is returned when replacing artifacts failed and the backup was restored.
	ErrRolledBack = errors.New("upgrade failed and was rolled back")
	// errRollbackFailed is returned when the backup could not be restored.
	errRollbackFailed = errors.New("rollback failed")
	// errUnknownVersion is returned when no bundle version can be determined.
	errUnknownVersion = errors.New("cannot determine the bundle version, use --version")
)

// Step names the upgrade states in order.
type Step string

//nolint:revive // Step names are self-describing.
const (
	StepPreflight      Step = "preflight"
	StepBackup         Step = "backup"
	StepStopServices   Step = "stop-services"
	StepReplace        Step = "replace-artifacts"
	StepRewriteConfig  Step = "rewrite-config"
	StepMigrateVersion Step = "migrate-version"
	StepInstallUnits   Step = "install-units"
	StepStartServices  Step = "start-services"
	StepVerify         Step = "verify"
	StepDone           Step = "done"
)

// DefaultVerifyTimeout is how long Verify waits for the core process.
const DefaultVerifyTimeout = 15 * time.Second

//nolint:gochecknoglobals // Compiled once.
var bundleNamePattern = regexp.MustCompile(`^1panel-(v?\d+\.\d+\.\d+.*?)(?:-official|-custom)?-offline-linux-[a-z0-9]+$`)

// Options contains inputs for the upgrader entry point.
type Options struct {
	// BundleDir is the unpacked offline bundle.
	BundleDir string
	// BaseDir overrides the installation base directory.
	BaseDir string
	// Version overrides the version detected from the bundle.
	Version string
	// Force skips the downgrade guard.
	Force bool
	// Root prefixes every host path; empty means "/".
	Root string
	// Services overrides the detected service manager.
	Services ServiceManager
	// Processes overrides the process table.
	Processes ProcessLister
	// Migrator overrides the database migrator.
	Migrator *settings.Migrator
	// IsRoot overrides the privilege check.
	IsRoot func() bool
	// Now overrides the clock used for the backup name.
	Now func() time.Time
	// VerifyTimeout bounds the wait for the core process after start.
	VerifyTimeout time.Duration
}

// Result describes a finished upgrade.
type Result struct {
	// Version is the installed version after the upgrade.
	Version string
	// PreviousVersion is the version found before the upgrade.
	PreviousVersion string
	// BackupDir holds the pre-upgrade artifacts.
	BackupDir string
	// InitSystem is the detected service manager.
	InitSystem InitSystem
	// Warnings collects non-fatal problems.
	Warnings []string
	// Steps lists the states that were completed.
	Steps []Step
}

// upgrader holds the state of one run. Callers use Run.
type upgrader struct {
	opts      *Options
	host      *Host
	bundleDir string
	installed *panelconf.Document
	ctl       *panelconf.FileRepository
	services  ServiceManager
	processes ProcessLister
	migrator  *settings.Migrator
	result    *Result
	backedUp  []string
}

// Run executes the upgrade.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "1panel-offline-upgrade")

	u := newUpgrader(opts)

	if err := u.preflight(ctx); err != nil {
		return u.result, err
	}

	if err := acquireMarker(u.host.MarkerPath()); err != nil {
		return u.result, fmt.Errorf("%w: %w", ErrPreflight, err)
	}

	defer releaseMarker(u.host.MarkerPath())

	if err := u.run(ctx); err != nil {
		logger.ErrorKV(ctx, "Upgrade failed", "error", err)

		return u.result, err
	}

	u.done(StepDone)
	logger.InfoKV(ctx, "Upgrade completed",
		"version", u.result.Version,
		"previous_version", u.result.PreviousVersion,
		"backup", u.result.BackupDir,
		"warnings", len(u.result.Warnings))

	return u.result, nil
}

func newUpgrader(opts *Options) *upgrader {
	processes := opts.Processes
	if processes == nil {
		processes = ps.Processes
	}

	return &upgrader{
		opts:      opts,
		host:      NewHost(opts.Root),
		bundleDir: opts.BundleDir,
		processes: processes,
		result:    &Result{},
	}
}

func (u *upgrader) run(ctx context.Context) error {
	now := time.Now
	if u.opts.Now != nil {
		now = u.opts.Now
	}

	u.result.BackupDir = u.host.BackupDir(now())

	logger.InfoKV(ctx, "Backing up current installation", "path", u.result.BackupDir)

	if err := u.backup(); err != nil {
		return fmt.Errorf("%s: %w", StepBackup, err)
	}

	u.done(StepBackup)

	u.stopServices(ctx)
	u.done(StepStopServices)

	if err := u.replace(ctx); err != nil {
		return u.rollback(ctx, StepReplace, err)
	}

	u.done(StepReplace)

	if err := u.rewriteConfig(ctx); err != nil {
		return u.rollback(ctx, StepRewriteConfig, err)
	}

	u.done(StepRewriteConfig)

	u.migrateVersion(ctx)
	u.done(StepMigrateVersion)

	u.installUnits(ctx)
	u.done(StepInstallUnits)

	u.startServices(ctx)
	u.done(StepStartServices)

	u.verify(ctx)
	u.done(StepVerify)

	return nil
}

func (u *upgrader) done(step Step) {
	u.result.Steps = append(u.result.Steps, step)
}

func (u *upgrader) warn(ctx context.Context, message string, err error) {
	logger.WarnKV(ctx, message, "error", err)
	u.result.Warnings = append(u.result.Warnings, fmt.Sprintf("%s: %v", message, err))
}

// preflight checks privileges, the prior install and the bundle. It never
// changes the host.
func (u *upgrader) preflight(ctx context.Context) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrPreflight, fmt.Sprintf(format, args...))
	}

	isRoot := u.opts.IsRoot
	if isRoot == nil {
		isRoot = func() bool { return os.Geteuid() == 0 }
	}

	if !isRoot() {
		return fail("must be run as root")
	}

	if u.bundleDir == "" {
		return fail("bundle directory is not set")
	}

	for _, name := range append(Binaries(), CtlScript) {
		if !isFile(filepath.Join(u.bundleDir, name)) {
			return fail("bundle is missing %s", name)
		}
	}

	if !isDir(filepath.Join(u.bundleDir, LangDir)) {
		return fail("bundle is missing %s/", LangDir)
	}

	u.ctl = panelconf.NewFileRepository(u.host.CtlPath())

	installed, err := u.ctl.Load(ctx)
	if err != nil {
		if errors.Is(err, panelconf.ErrNotFound) {
			return fail("no existing installation: %s not found", u.ctl.Path())
		}

		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}

	u.installed = installed
	u.host.BaseDir = u.host.Path(u.baseDir())
	u.result.PreviousVersion = installed.Value(panelconf.KeyVersion)

	target, err := u.targetVersion()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}

	u.result.Version = target

	if err = u.checkDowngrade(ctx); err != nil {
		return err
	}

	if isUpgradeRunningNow(ctx, u.host.MarkerPath(), u.processes) {
		return fmt.Errorf("%w: %w", ErrPreflight, errUpgradeRunning)
	}

	u.result.InitSystem = DetectInitSystem(u.host)

	u.services = u.opts.Services
	if u.services == nil {
		u.services = NewServiceManager(u.result.InitSystem, nil)
	}

	u.migrator = u.opts.Migrator
	if u.migrator == nil {
		clients := []string{"sqlite3"}
		if bundled := filepath.Join(u.bundleDir, SQLiteName); isFile(bundled) {
			clients = append([]string{bundled}, clients...)
		}

		u.migrator = settings.NewMigrator(settings.WithClients(clients...))
	}

	u.done(StepPreflight)

	logger.InfoKV(ctx, "Preflight passed",
		"bundle", u.bundleDir,
		"base_dir", u.host.BaseDir,
		"from", u.result.PreviousVersion,
		"to", u.result.Version,
		"init", u.result.InitSystem)

	return nil
}

// baseDir picks the environment override, then 1pctl, then the default.
func (u *upgrader) baseDir() string {
	if u.opts.BaseDir != "" {
		return u.opts.BaseDir
	}

	if base := u.installed.Value(panelconf.KeyBaseDir); base != "" {
		return base
	}

	return DefaultBaseDir
}

// targetVersion uses the explicit version, the bundle directory name or the
// bundled 1pctl, in that order.
func (u *upgrader) targetVersion() (string, error) {
	candidates := []string{u.opts.Version}

	abs, err := filepath.Abs(u.bundleDir)
	if err == nil {
		if match := bundleNamePattern.FindStringSubmatch(filepath.Base(abs)); match != nil {
			candidates = append(candidates, match[1])
		}
	}

	if bundled, loadErr := panelconf.NewFileRepository(filepath.Join(u.bundleDir, CtlScript)).Load(context.Background()); loadErr == nil {
		candidates = append(candidates, bundled.Value(panelconf.KeyVersion))
	}

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}

		if _, err = semver.NewVersion(candidate); err != nil {
			continue
		}

		return "v" + strings.TrimPrefix(candidate, "v"), nil
	}

	return "", errUnknownVersion
}

func (u *upgrader) checkDowngrade(ctx context.Context) error {
	current, err := semver.NewVersion(u.result.PreviousVersion)
	if err != nil {
		logger.WarnKV(ctx, "Installed version is not comparable, skipping downgrade check", "version", u.result.PreviousVersion)

		return nil
	}

	target, err := semver.NewVersion(u.result.Version)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}

	if target.LessThan(current) && !u.opts.Force {
		return fmt.Errorf("%w: bundle %s is older than installed %s, use --force to downgrade",
			ErrPreflight, u.result.Version, u.result.PreviousVersion)
	}

	return nil
}
