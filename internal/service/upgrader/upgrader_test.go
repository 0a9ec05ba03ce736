package upgrader

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/1panel-offline/internal/repository/panelconf"
	"github.com/oshokin/1panel-offline/internal/repository/settings"
	"github.com/oshokin/1panel-offline/internal/testutil"
)

const (
	oldVersion = "v2.0.5"
	newVersion = "v2.0.10"
)

type fakeServices struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeServices) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)

	return nil
}

func (f *fakeServices) Reload(context.Context) error { return f.record("reload") }

func (f *fakeServices) Enable(_ context.Context, s string) error { return f.record("enable " + s) }

func (f *fakeServices) Start(_ context.Context, s string) error { return f.record("start " + s) }

func (f *fakeServices) Stop(_ context.Context, s string) error { return f.record("stop " + s) }

func (f *fakeServices) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

type fakeProcess struct {
	pid  int
	name string
}

func (p fakeProcess) Pid() int           { return p.pid }
func (p fakeProcess) PPid() int          { return 1 }
func (p fakeProcess) Executable() string { return p.name }

func processes(names ...string) ProcessLister {
	return func() ([]ps.Process, error) {
		list := make([]ps.Process, 0, len(names))
		for i, name := range names {
			list = append(list, fakeProcess{pid: 1000 + i, name: name})
		}

		return list, nil
	}
}

type fixture struct {
	root     string
	bundle   string
	services *fakeServices
	opts     *Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	bundle := filepath.Join(t.TempDir(), "1panel-"+newVersion+"-official-offline-linux-amd64")

	testutil.InstallPanel(t, root, oldVersion)
	testutil.UnpackedBundle(t, bundle, newVersion)

	services := &fakeServices{}

	return &fixture{
		root:     root,
		bundle:   bundle,
		services: services,
		opts: &Options{
			BundleDir: bundle,
			Root:      root,
			Services:  services,
			Processes: processes(CoreBinary, AgentBinary),
			Migrator:  settings.NewMigrator(settings.WithClients()),
			IsRoot:    func() bool { return true },
			Now:       func() time.Time { return time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC) },
		},
	}
}

func (f *fixture) bin(name string) string {
	return filepath.Join(f.root, "usr", "local", "bin", name)
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(raw)
}

func TestRun_UpgradesAndPreservesSettings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	result, err := Run(ctx, f.opts)
	require.NoError(t, err)
	require.Equal(t, newVersion, result.Version)
	require.Equal(t, oldVersion, result.PreviousVersion)
	require.Equal(t, InitSystemd, result.InitSystem)
	require.Empty(t, result.Warnings)
	require.Equal(t, []Step{
		StepPreflight, StepBackup, StepStopServices, StepReplace, StepRewriteConfig,
		StepMigrateVersion, StepInstallUnits, StepStartServices, StepVerify, StepDone,
	}, result.Steps)

	require.Equal(t, "new-core-"+newVersion, readFile(t, f.bin(CoreBinary)))
	require.Equal(t, "new-agent-"+newVersion, readFile(t, f.bin(AgentBinary)))
	require.Equal(t, "hello: new\n", readFile(t, f.bin("lang/en.yaml")))
	require.NoFileExists(t, f.bin("lang/old.yml"))

	doc, err := panelconf.NewFileRepository(f.bin(CtlScript)).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "18080", doc.Value(panelconf.KeyPort))
	require.Equal(t, "admin", doc.Value(panelconf.KeyUsername))
	require.Equal(t, "p@ss word", doc.Value(panelconf.KeyPassword))
	require.Equal(t, "secret-door", doc.Value(panelconf.KeyEntrance))
	require.Equal(t, "zh", doc.Value(panelconf.KeyLanguage))
	require.Equal(t, "false", doc.Value(panelconf.KeyChangeUserInfo))
	require.Equal(t, newVersion, doc.Value(panelconf.KeyVersion))

	for _, db := range []string{"core.db", "agent.db"} {
		got, err := settings.ReadSystemVersion(ctx, filepath.Join(f.root, "opt", "1panel", "db", db))
		require.NoError(t, err)
		require.Equal(t, newVersion, got)
	}

	backup := filepath.Join(f.root, "opt", "1panel", "backup", "upgrade-20261019083000")
	require.Equal(t, backup, result.BackupDir)
	require.Equal(t, "old-core", readFile(t, filepath.Join(backup, CoreBinary)))
	require.Equal(t, testutil.InstalledPctl(oldVersion), readFile(t, filepath.Join(backup, CtlScript)))
	require.FileExists(t, filepath.Join(backup, "lang", "old.yml"))

	unit := filepath.Join(f.root, "etc", "systemd", "system", "1panel-core.service")
	require.Contains(t, readFile(t, unit), "(bundled)")
	require.FileExists(t, filepath.Join(f.root, "etc", "systemd", "system", "1panel-agent.service"))

	require.Equal(t, []string{
		"stop 1panel-agent", "stop 1panel-core",
		"reload", "enable 1panel-core", "enable 1panel-agent",
		"start 1panel-core", "start 1panel-agent",
	}, f.services.Calls())

	require.NoFileExists(t, filepath.Join(f.root, "opt", "1panel", MarkerFilename))
}

func TestRun_PreflightChangesNothing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
	}{
		{
			name: "not root",
			setup: func(_ *testing.T, f *fixture) {
				f.opts.IsRoot = func() bool { return false }
			},
		},
		{
			name: "no prior install",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, os.Remove(f.bin(CtlScript)))
			},
		},
		{
			name: "bundle without agent",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, os.Remove(filepath.Join(f.bundle, AgentBinary)))
			},
		},
		{
			name: "bundle without lang",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, os.RemoveAll(filepath.Join(f.bundle, LangDir)))
			},
		},
		{
			name: "downgrade",
			setup: func(_ *testing.T, f *fixture) {
				f.opts.Version = "v2.0.1"
			},
		},
		{
			name: "fresh marker",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, os.WriteFile(filepath.Join(f.root, "opt", "1panel", MarkerFilename), nil, 0o600))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			tt.setup(t, f)

			_, err := Run(context.Background(), f.opts)
			require.ErrorIs(t, err, ErrPreflight)

			require.Equal(t, "old-core", readFile(t, f.bin(CoreBinary)))
			require.NoDirExists(t, filepath.Join(f.root, "opt", "1panel", "backup"))
			require.Empty(t, f.services.Calls())
		})
	}
}

func TestRun_ForceAllowsDowngrade(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.opts.Version = "v2.0.1"
	f.opts.Force = true

	result, err := Run(context.Background(), f.opts)
	require.NoError(t, err)
	require.Equal(t, "v2.0.1", result.Version)
}

func TestRun_ReplaceFailureRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// A non-empty directory where go-update parks the old agent makes the swap fail.
	blocker := f.bin("." + AgentBinary + ".old")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "keep"), 0o755))

	result, err := Run(context.Background(), f.opts)
	require.ErrorIs(t, err, ErrRolledBack)

	require.Equal(t, "old-core", readFile(t, f.bin(CoreBinary)))
	require.Equal(t, "old-agent", readFile(t, f.bin(AgentBinary)))
	require.Equal(t, testutil.InstalledPctl(oldVersion), readFile(t, f.bin(CtlScript)))
	require.FileExists(t, f.bin("lang/old.yml"))
	require.DirExists(t, result.BackupDir)

	calls := f.services.Calls()
	require.Equal(t, []string{"start 1panel-core", "start 1panel-agent"}, calls[len(calls)-2:])
	require.NotContains(t, result.Steps, StepReplace)

	require.NoFileExists(t, filepath.Join(f.root, "opt", "1panel", MarkerFilename))
}

func TestRun_MigrationFailureIsWarning(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.root, "opt", "1panel", "db", "agent.db")))

	result, err := Run(context.Background(), f.opts)
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "agent.db")
}

func TestRun_VerifyWarnsWhenCoreIsDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.opts.Processes = processes(AgentBinary)

	result, err := Run(context.Background(), f.opts)
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "not running")
}

func TestRun_BaseDirOverride(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.opts.BaseDir = "/data"

	result, err := Run(context.Background(), f.opts)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(f.root, "data", "1panel", "backup", "upgrade-20261019083000"), result.BackupDir)
	// The databases live under /opt, so both updates are reported as warnings.
	require.Len(t, result.Warnings, 2)
}

func TestTargetVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dir  string
		ctl  bool
		want string
	}{
		{dir: "1panel-v2.0.10-official-offline-linux-amd64", want: "v2.0.10"},
		{dir: "1panel-v2.0.10-offline-linux-arm64", want: "v2.0.10"},
		{dir: "1panel-v2.1.0-beta.1-custom-offline-linux-loong64", want: "v2.1.0-beta.1"},
		// Falls back to ORIGINAL_VERSION of the bundled 1pctl.
		{dir: "bundle", ctl: true, want: "v0.0.0"},
		{dir: "bundle"},
	}

	for _, tt := range tests {
		dir := filepath.Join(t.TempDir(), tt.dir)
		require.NoError(t, os.MkdirAll(dir, 0o755))

		if tt.ctl {
			require.NoError(t, os.WriteFile(filepath.Join(dir, CtlScript), []byte(testutil.Pctl), 0o755))
		}

		u := &upgrader{opts: &Options{}, bundleDir: dir}

		got, err := u.targetVersion()
		if tt.want == "" {
			require.ErrorIs(t, err, errUnknownVersion)

			continue
		}

		require.NoError(t, err)
		require.Equal(t, tt.want, got, tt.dir)
	}
}

func TestDetectInitSystemAndUnits(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	host := NewHost(root)
	require.Equal(t, InitSysV, DetectInitSystem(host))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sbin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sbin", "openrc-run"), nil, 0o755))
	require.Equal(t, InitOpenRC, DetectInitSystem(host))

	units := Units(host, InitOpenRC)
	require.Len(t, units, 2)
	require.Equal(t, filepath.Join(root, "etc", "init.d"), units[0].Dir)
	require.Equal(t, CoreBinary, units[0].Name)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "run", "systemd", "system"), 0o755))
	require.Equal(t, InitSystemd, DetectInitSystem(host))
}

func TestExecServiceManager(t *testing.T) {
	t.Parallel()

	var calls []string

	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		call := name
		for _, arg := range args {
			call += " " + arg
		}

		calls = append(calls, call)

		return nil, nil
	}

	ctx := context.Background()

	systemd := NewServiceManager(InitSystemd, run)
	require.NoError(t, systemd.Reload(ctx))
	require.NoError(t, systemd.Enable(ctx, CoreBinary))
	require.NoError(t, systemd.Start(ctx, CoreBinary))

	openrc := NewServiceManager(InitOpenRC, run)
	require.NoError(t, openrc.Reload(ctx))
	require.NoError(t, openrc.Enable(ctx, AgentBinary))
	require.NoError(t, openrc.Stop(ctx, AgentBinary))

	require.Equal(t, []string{
		"systemctl daemon-reload",
		"systemctl enable 1panel-core",
		"systemctl start 1panel-core",
		"rc-update add 1panel-agent default",
		"rc-service 1panel-agent stop",
	}, calls)
}
