package upgrader

import (
	"os"
	"path/filepath"
	"time"
)

// Panel artifact names shared by the bundle and the host.
const (
	CoreBinary  = "1panel-core"
	AgentBinary = "1panel-agent"
	CtlScript   = "1pctl"
	LangDir     = "lang"
	InitDir     = "initscript"
	SQLiteName  = "sqlite3"

	// DefaultBaseDir is used when neither the environment nor 1pctl names one.
	DefaultBaseDir = "/opt"
	// BaseDirEnv overrides the installation base directory.
	BaseDirEnv = "PANEL_BASE_DIR"

	backupTimeLayout = "20060102150405"
)

// Services are the panel units managed during the upgrade, in start order.
func Services() []string {
	return []string{CoreBinary, AgentBinary}
}

// Binaries are replaced with go-update.
func Binaries() []string {
	return []string{CoreBinary, AgentBinary}
}

// Host describes where the panel lives on this machine. Every path is already
// joined with Root.
type Host struct {
	// Root prefixes every absolute host path; "/" on a real host.
	Root string
	// BinDir holds binaries, 1pctl and lang.
	BinDir string
	// BaseDir is the installation base, e.g. /opt.
	BaseDir string
}

// NewHost creates a Host under root with the default binary directory.
func NewHost(root string) *Host {
	if root == "" {
		root = "/"
	}

	return &Host{
		Root:   root,
		BinDir: filepath.Join(root, "usr", "local", "bin"),
	}
}

// Path joins an absolute host path with Root.
func (h *Host) Path(abs string) string {
	return filepath.Join(h.Root, abs)
}

// CtlPath is the installed 1pctl.
func (h *Host) CtlPath() string {
	return filepath.Join(h.BinDir, CtlScript)
}

// PanelDir is <base>/1panel.
func (h *Host) PanelDir() string {
	return filepath.Join(h.BaseDir, "1panel")
}

// BackupDir returns the backup location for an upgrade started at now.
func (h *Host) BackupDir(now time.Time) string {
	return filepath.Join(h.PanelDir(), "backup", "upgrade-"+now.Format(backupTimeLayout))
}

// Databases are the SQLite files holding SystemVersion.
func (h *Host) Databases() []string {
	return []string{
		filepath.Join(h.PanelDir(), "db", "core.db"),
		filepath.Join(h.PanelDir(), "db", "agent.db"),
	}
}

// MarkerPath is the upgrade lock marker.
func (h *Host) MarkerPath() string {
	return filepath.Join(h.PanelDir(), MarkerFilename)
}

func isDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}
