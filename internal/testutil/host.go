package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite" // register the sqlite driver
)

// InstalledPctl returns the 1pctl of an installed panel with customised settings.
func InstalledPctl(version string) string {
	return strings.NewReplacer(
		"ORIGINAL_PORT=9999", "ORIGINAL_PORT=18080",
		"ORIGINAL_VERSION=v0.0.0", "ORIGINAL_VERSION="+version,
		"ORIGINAL_ENTRANCE=entrance", "ORIGINAL_ENTRANCE=secret-door",
		"ORIGINAL_USERNAME=username", "ORIGINAL_USERNAME=admin",
		"ORIGINAL_PASSWORD=password", `ORIGINAL_PASSWORD="p@ss word"`,
		"LANGUAGE=en", "LANGUAGE=zh\nCHANGE_USER_INFO=false",
	).Replace(Pctl)
}

// InstallPanel lays out an installed panel of version under root: binaries,
// 1pctl and lang in /usr/local/bin, databases in /opt/1panel/db and a systemd
// marker directory.
func InstallPanel(t testing.TB, root, version string) {
	t.Helper()

	bin := filepath.Join(root, "usr", "local", "bin")
	writeFiles(t, bin, map[string]string{
		"1panel-core":  "old-core",
		"1panel-agent": "old-agent",
		"1pctl":        InstalledPctl(version),
		"lang/en.yaml": "hello: old\n",
		"lang/old.yml": "stale: true\n",
	})

	for _, name := range []string{"core.db", "agent.db"} {
		CreateSettingsDB(t, filepath.Join(root, "opt", "1panel", "db", name), version)
	}

	require.NoError(t, os.MkdirAll(filepath.Join(root, "run", "systemd", "system"), 0o755))
}

// UnpackedBundle writes an extracted offline bundle of version into dir.
func UnpackedBundle(t testing.TB, dir, version string) {
	t.Helper()

	writeFiles(t, dir, map[string]string{
		"1panel-core":                            "new-core-" + version,
		"1panel-agent":                           "new-agent-" + version,
		"1pctl":                                  Pctl,
		"install.sh":                             InstallScript,
		"lang/en.yaml":                           "hello: new\n",
		"1panel-core.service":                    "[Unit]\nDescription=1Panel core\n",
		"1panel-agent.service":                   "[Unit]\nDescription=1Panel agent\n",
		"initscript/systemd/1panel-core.service": "[Unit]\nDescription=1Panel core (bundled)\n",
		"initscript/openrc/1panel-core":          "#!/sbin/openrc-run\n",
		"initscript/openrc/1panel-agent":         "#!/sbin/openrc-run\n",
	})
}

// CreateSettingsDB creates a panel database with a settings table holding version.
func CreateSettingsDB(t testing.TB, path, version string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	_, err = db.Exec(`CREATE TABLE settings (id INTEGER PRIMARY KEY, key TEXT NOT NULL, value TEXT, about TEXT)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO settings (key, value) VALUES ('SystemVersion', ?), ('ServerPort', '18080')`, version)
	require.NoError(t, err)
}

func writeFiles(t testing.TB, dir string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

		mode := os.FileMode(0o644)
		if filepath.Ext(name) == "" {
			mode = 0o755
		}

		require.NoError(t, os.WriteFile(path, []byte(content), mode))
	}
}
