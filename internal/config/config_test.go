package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and format validations.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))

	cfg := Default()
	cfg.Channel = "nightly"
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.CustomRepo = "not a repo"
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Docker.UpstreamURL = "https://example.com/docker.tgz"
	require.Error(t, Validate(cfg))

	cfg = &Config{CustomRepo: "someone/1Panel", OutputDir: "out"}
	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultChannel, cfg.Channel)
	require.Equal(t, filepath.Join("out", "cache"), cfg.CacheDir)
	require.Positive(t, cfg.Download.Retries)
}

// TestLoad_MissingDefaultIsFine ensures the implicit config file is optional
// while an explicit one is required.
func TestLoad_MissingDefaultIsFine(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Docker.Version, cfg.Docker.Version)

	_, err = Load("missing.yaml")
	require.Error(t, err)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := Default()
	cfg.CustomRepo = "someone/1Panel"
	cfg.Docker.Version = "27.0.3"
	cfg.Compose.Version = "v2.30.0"
	cfg.Download.RetryDelay = time.Second

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "someone/1Panel", loaded.CustomRepo)
	require.Equal(t, "27.0.3", loaded.Docker.Version)
	require.Equal(t, "2.30.0", loaded.Compose.Version)
	require.Equal(t, time.Second, loaded.Download.RetryDelay)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestExpand verifies placeholder substitution.
func TestExpand(t *testing.T) {
	t.Parallel()

	got := Expand(defaultDockerUpstream, map[string]string{
		PlaceholderArch:    "x86_64",
		PlaceholderVersion: "27.5.1",
	})
	require.Equal(t, "https://download.docker.com/linux/static/stable/x86_64/docker-27.5.1.tgz", got)
}

// TestLoad_MirrorsReplaceDefaults checks that a file's mirror table is not merged into the built-in one.
func TestLoad_MirrorsReplaceDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	contents := "docker:\n  mirrors:\n    amd64:\n      - https://mirror.example/{arch}/docker-{version}.tgz\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{
		"amd64": {"https://mirror.example/{arch}/docker-{version}.tgz"},
	}, cfg.Docker.Mirrors)
	require.Equal(t, Default().Compose.Mirrors, cfg.Compose.Mirrors)
}
