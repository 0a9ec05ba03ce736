package testutil

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/1panel-offline/internal/config"
	"github.com/oshokin/1panel-offline/internal/domain/bundle"
)

// Sizes of the fake binaries served by Publish.
const (
	ComposeMinSize = 64
	SQLiteMinSize  = 32
)

// TestRepo is the custom repository used by Config.
const TestRepo = "acme/1panel"

// Config returns a validated build configuration whose every URL points at srv
// and whose output goes to outputDir. Mirrors are disabled.
func Config(t testing.TB, srv *ArtifactServer, outputDir string) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.OfficialBaseURL = srv.URL
	cfg.CustomBaseURL = srv.URL + "/gh"
	cfg.CustomRepo = TestRepo
	cfg.Docker.UpstreamURL = srv.URL + "/docker/{arch}/docker-{version}.tgz"
	cfg.Docker.Mirrors = map[string][]string{}
	cfg.Compose.UpstreamURL = srv.URL + "/compose/v{version}/docker-compose-linux-{arch}"
	cfg.Compose.Mirrors = map[string][]string{}
	cfg.Compose.MinSize = ComposeMinSize
	cfg.SQLite.URL = srv.URL + "/sqlite/{version}/sqlite3-{arch}"
	cfg.SQLite.MinSize = SQLiteMinSize
	cfg.Download.Retries = 1
	cfg.Download.RetryDelay = 0
	cfg.OutputDir = outputDir
	cfg.CacheDir = filepath.Join(outputDir, "cache")

	require.NoError(t, config.Validate(cfg))

	return cfg
}

// PanelPath returns the request path of a panel package.
func PanelPath(source bundle.Source, channel, version string, profile bundle.Profile) string {
	name := "1panel-" + version + "-linux-" + profile.App + ".tar.gz"

	if source == bundle.SourceCustom {
		return "/gh/" + TestRepo + "/releases/download/" + version + "/" + name
	}

	return "/" + channel + "/" + version + "/release/" + name
}

// DockerPath returns the request path of a Docker static package.
func DockerPath(version string, profile bundle.Profile) string {
	return "/docker/" + profile.Docker + "/docker-" + version + ".tgz"
}

// ComposePath returns the request path of a docker-compose binary.
func ComposePath(version string, profile bundle.Profile) string {
	return "/compose/v" + version + "/docker-compose-linux-" + profile.Compose
}

// SQLitePath returns the request path of a sqlite3 client.
func SQLitePath(version string, profile bundle.Profile) string {
	return "/sqlite/" + version + "/sqlite3-" + profile.SQLite
}

// Publish registers the panel package for every source and the default
// Docker, docker-compose and sqlite3 artifacts for arch on srv.
func Publish(t testing.TB, srv *ArtifactServer, cfg *config.Config, version, arch string) {
	t.Helper()

	profile, err := bundle.LookupProfile(arch)
	require.NoError(t, err)

	panel := PanelPackage(t, version, profile.App)
	srv.Handle(PanelPath(bundle.SourceOfficial, cfg.Channel, version, profile), panel)
	srv.Handle(PanelPath(bundle.SourceCustom, cfg.Channel, version, profile), panel)
	srv.Handle(DockerPath(cfg.Docker.Version, profile), DockerPackage(t, cfg.Docker.Version))
	srv.Handle(ComposePath(cfg.Compose.Version, profile), []byte(strings.Repeat("c", 2*ComposeMinSize)))

	if profile.HasSQLite() {
		srv.Handle(SQLitePath(cfg.SQLite.Version, profile), []byte(strings.Repeat("s", 2*SQLiteMinSize)))
	}
}

// PublishLatest answers the channel's latest endpoint with version.
func PublishLatest(srv *ArtifactServer, channel, version string) {
	srv.Handle("/"+channel+"/latest", []byte(version+"\n"))
}
