package assembler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oshokin/1panel-offline/internal/archive"
	"github.com/oshokin/1panel-offline/internal/domain/bundle"
	"github.com/oshokin/1panel-offline/internal/logger"
	"github.com/oshokin/1panel-offline/internal/service/patcher"
	"github.com/oshokin/1panel-offline/internal/testutil"
)

const testVersion = "v2.0.10"

func TestLayout(t *testing.T) {
	t.Parallel()

	nested := Layout{OutputDir: "build", Version: testVersion}
	require.Equal(t,
		filepath.Join("build", testVersion, "official", "1panel-v2.0.10-official-offline-linux-arm64.tar.gz"),
		nested.ArchivePath(bundle.SourceOfficial, "arm64"))
	require.Equal(t, filepath.Join("build", testVersion), nested.VersionRoot())

	flat := Layout{OutputDir: "build", Version: testVersion, Flat: true}
	require.Equal(t,
		filepath.Join("build", testVersion, "1panel-v2.0.10-offline-linux-arm64.tar.gz"),
		flat.ArchivePath(bundle.SourceOfficial, "arm64"))
}

func TestAssemble_BuildsPatchedBundle(t *testing.T) {
	t.Parallel()

	srv := testutil.NewArtifactServer(t)
	cfg := testutil.Config(t, srv, t.TempDir())
	testutil.Publish(t, srv, cfg, testVersion, "amd64")

	layout := Layout{OutputDir: cfg.OutputDir, Version: testVersion}
	a := New(cfg, Release{Channel: cfg.Channel, Version: testVersion}, layout)

	entry, err := a.Assemble(context.Background(), bundle.SourceOfficial, "amd64")
	require.NoError(t, err)
	require.True(t, entry.Built())
	require.Equal(t, cfg.Docker.Version, entry.DockerVersion)
	require.Equal(t, cfg.Compose.Version, entry.ComposeVersion)
	require.True(t, entry.DatabaseClient.Included)
	require.False(t, entry.Upgrader.Included)
	require.Equal(t, layout.ArchivePath(bundle.SourceOfficial, "amd64"), entry.ArchivePath)

	names, err := archive.List(entry.ArchivePath)
	require.NoError(t, err)

	prefix := layout.Name(bundle.SourceOfficial, "amd64") + "/"
	for _, want := range []string{
		"install.sh", "1panel-core", "1panel-agent", "1pctl", "lang/en.yaml",
		"docker.tgz", "docker-compose", "docker.service", "upgrade.sh", "sqlite3",
	} {
		require.Contains(t, names, prefix+want)
	}

	installer, err := os.ReadFile(filepath.Join(layout.StagingDir(bundle.SourceOfficial, "amd64"), "install.sh"))
	require.NoError(t, err)
	require.Contains(t, string(installer), patcher.Sentinel)

	compose, err := os.Stat(filepath.Join(layout.StagingDir(bundle.SourceOfficial, "amd64"), "docker-compose"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), compose.Mode().Perm())
}

func TestAssemble_SecondRunUsesCache(t *testing.T) {
	t.Parallel()

	srv := testutil.NewArtifactServer(t)
	cfg := testutil.Config(t, srv, t.TempDir())
	testutil.Publish(t, srv, cfg, testVersion, "arm64")

	a := New(cfg, Release{Channel: cfg.Channel, Version: testVersion}, Layout{OutputDir: cfg.OutputDir, Version: testVersion})

	_, err := a.Assemble(context.Background(), bundle.SourceOfficial, "arm64")
	require.NoError(t, err)

	hits := srv.TotalHits()

	entry, err := a.Assemble(context.Background(), bundle.SourceOfficial, "arm64")
	require.NoError(t, err)
	require.True(t, entry.Built())
	require.Equal(t, hits, srv.TotalHits())
}

func TestAssemble_MissingSQLiteIsNotFatal(t *testing.T) {
	t.Parallel()

	srv := testutil.NewArtifactServer(t)
	cfg := testutil.Config(t, srv, t.TempDir())
	testutil.Publish(t, srv, cfg, testVersion, "loong64")

	a := New(cfg, Release{Channel: cfg.Channel, Version: testVersion}, Layout{OutputDir: cfg.OutputDir, Version: testVersion})

	entry, err := a.Assemble(context.Background(), bundle.SourceOfficial, "loong64")
	require.NoError(t, err)
	require.False(t, entry.DatabaseClient.Included)
	require.NotEmpty(t, entry.DatabaseClient.Reason)

	names, err := archive.List(entry.ArchivePath)
	require.NoError(t, err)

	for _, name := range names {
		require.False(t, strings.HasSuffix(name, "/sqlite3"), name)
	}
}

func TestAssemble_EmbedsUpgrader(t *testing.T) {
	t.Parallel()

	srv := testutil.NewArtifactServer(t)
	cfg := testutil.Config(t, srv, t.TempDir())
	testutil.Publish(t, srv, cfg, testVersion, "amd64")

	cfg.UpgraderDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.UpgraderDir, UpgraderName+"-linux-amd64"), []byte("bin"), 0o755))

	a := New(cfg, Release{Channel: cfg.Channel, Version: testVersion}, Layout{OutputDir: cfg.OutputDir, Version: testVersion})

	entry, err := a.Assemble(context.Background(), bundle.SourceOfficial, "amd64")
	require.NoError(t, err)
	require.True(t, entry.Upgrader.Included)

	names, err := archive.List(entry.ArchivePath)
	require.NoError(t, err)
	require.Contains(t, names, "1panel-v2.0.10-official-offline-linux-amd64/"+UpgraderName)
}

func TestAssemble_UpgraderFromDefaultDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		binary   bool
		included bool
	}{
		{name: "next to the builder", binary: true, included: true},
		{name: "absent", binary: false, included: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := testutil.NewArtifactServer(t)
			cfg := testutil.Config(t, srv, t.TempDir())
			testutil.Publish(t, srv, cfg, testVersion, "amd64")
			require.Empty(t, cfg.UpgraderDir)

			dir := t.TempDir()
			if tt.binary {
				require.NoError(t, os.WriteFile(filepath.Join(dir, UpgraderName+"-linux-amd64"), []byte("bin"), 0o755))
			}

			core, logs := observer.New(zapcore.WarnLevel)
			ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

			a := New(cfg, Release{Channel: cfg.Channel, Version: testVersion},
				Layout{OutputDir: cfg.OutputDir, Version: testVersion}, WithDefaultUpgraderDir(dir))

			entry, err := a.Assemble(ctx, bundle.SourceOfficial, "amd64")
			require.NoError(t, err)
			require.True(t, entry.Built())
			require.Equal(t, tt.included, entry.Upgrader.Included)

			warnings := logs.FilterMessage("Upgrader not bundled, upgrade.sh will not run").Len()
			if tt.included {
				require.Zero(t, warnings)
				require.FileExists(t, filepath.Join(a.Layout().StagingDir(bundle.SourceOfficial, "amd64"), UpgraderName))
			} else {
				require.Equal(t, 1, warnings)
				require.Contains(t, entry.Upgrader.Reason, dir)
			}
		})
	}
}

func TestAssemble_MissingPanelPackageFails(t *testing.T) {
	t.Parallel()

	srv := testutil.NewArtifactServer(t)
	cfg := testutil.Config(t, srv, t.TempDir())

	layout := Layout{OutputDir: cfg.OutputDir, Version: testVersion}
	a := New(cfg, Release{Channel: cfg.Channel, Version: testVersion}, layout)

	_, err := a.Assemble(context.Background(), bundle.SourceOfficial, "amd64")
	require.Error(t, err)
	require.NoFileExists(t, layout.ArchivePath(bundle.SourceOfficial, "amd64"))
}

func TestAssemble_UnsupportedArch(t *testing.T) {
	t.Parallel()

	srv := testutil.NewArtifactServer(t)
	cfg := testutil.Config(t, srv, t.TempDir())

	a := New(cfg, Release{Channel: cfg.Channel, Version: testVersion}, Layout{OutputDir: cfg.OutputDir, Version: testVersion})

	_, err := a.Assemble(context.Background(), bundle.SourceOfficial, "mips")
	require.ErrorIs(t, err, bundle.ErrUnsupportedArch)
}

func TestAssemble_StrictPatchFailureProducesNoArchive(t *testing.T) {
	t.Parallel()

	srv := testutil.NewArtifactServer(t)
	cfg := testutil.Config(t, srv, t.TempDir())
	testutil.Publish(t, srv, cfg, testVersion, "amd64")

	profile, err := bundle.LookupProfile("amd64")
	require.NoError(t, err)

	root := "1panel-" + testVersion + "-linux-amd64/"
	srv.Handle(testutil.PanelPath(bundle.SourceOfficial, cfg.Channel, testVersion, profile), testutil.TarGz(t, map[string]string{
		root + "install.sh":  "#!/bin/bash\necho no anchors here\n",
		root + "1panel-core": "core",
	}))

	layout := Layout{OutputDir: cfg.OutputDir, Version: testVersion}
	a := New(cfg, Release{Channel: cfg.Channel, Version: testVersion}, layout)

	_, err = a.Assemble(context.Background(), bundle.SourceOfficial, "amd64")
	require.ErrorIs(t, err, patcher.ErrAnchorNotFound)
	require.NoFileExists(t, layout.ArchivePath(bundle.SourceOfficial, "amd64"))
}
