package upgrader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/1panel-offline/internal/logger"
)

const (
	// MarkerFilename marks that an upgrade is running right now to avoid parallel execution.
	MarkerFilename = ".1panel-offline-upgrade.lock"

	// UpgraderExecutable is the process name of this tool.
	UpgraderExecutable = "1panel-offline-upgrade"

	// markerLifetime is the period after which a stale upgrade marker is ignored.
	markerLifetime = 30 * time.Minute

	// processNameLimit is the length at which Linux truncates process names.
	processNameLimit = 15
)

// errUpgradeRunning indicates that another upgrade holds the marker.
var errUpgradeRunning = errors.New("another upgrade is running now")

// ProcessLister lists running processes; ps.Processes satisfies it.
type ProcessLister func() ([]ps.Process, error)

// isUpgradeRunningNow checks presence of a marker file and removes it when it
// is stale and no other upgrader process is alive.
func isUpgradeRunningNow(ctx context.Context, marker string, processes ProcessLister) bool {
	logger.Debug(ctx, "Checking for the presence of an upgrade marker")

	info, err := os.Stat(marker)
	if err == nil {
		if time.Since(info.ModTime()) <= markerLifetime {
			return true
		}

		if otherUpgraderAlive(processes) {
			return true
		}

		logger.InfoKV(ctx, "The upgrade marker is too old, removing it", "path", marker)

		return os.Remove(marker) != nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to read upgrade marker", "error", err)
	}

	return false
}

func acquireMarker(marker string) error {
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return err
	}

	file, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return errUpgradeRunning
		}

		return err
	}

	return file.Close()
}

func releaseMarker(marker string) {
	_ = os.Remove(marker)
}

func otherUpgraderAlive(processes ProcessLister) bool {
	list, err := processes()
	if err != nil {
		return false
	}

	self := os.Getpid()

	for _, process := range list {
		if process.Pid() != self && sameExecutable(process.Executable(), UpgraderExecutable) {
			return true
		}
	}

	return false
}

// isRunning reports whether a process with the given executable name exists.
func isRunning(processes ProcessLister, name string) (bool, error) {
	list, err := processes()
	if err != nil {
		return false, err
	}

	for _, process := range list {
		if sameExecutable(process.Executable(), name) {
			return true, nil
		}
	}

	return false, nil
}

// sameExecutable compares a process table name with want, accepting the
// kernel's truncated form of long names.
func sameExecutable(got, want string) bool {
	if got == want {
		return true
	}

	return len(got) == processNameLimit && strings.HasPrefix(want, got)
}
