// Package assets carries the static files copied into every offline bundle.
package assets

import (
	_ "embed"
	"fmt"
	"os"
)

var (
	//go:embed docker.service
	dockerService []byte

	//go:embed upgrade.sh
	upgradeScript []byte
)

// DockerService returns the systemd unit installed by the offline installer.
func DockerService() []byte {
	return dockerService
}

// UpgradeScript returns the upgrade entry point placed in the bundle root.
func UpgradeScript() []byte {
	return upgradeScript
}

// WriteDockerService writes the unit to path with mode 0644.
func WriteDockerService(path string) error {
	return write(path, dockerService, 0o644)
}

// WriteUpgradeScript writes the script to path with mode 0755.
func WriteUpgradeScript(path string) error {
	return write(path, upgradeScript, 0o755)
}

func write(path string, data []byte, mode os.FileMode) error {
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}

	return nil
}
