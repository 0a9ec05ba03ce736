package upgrader

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// InitSystem identifies the host service manager.
type InitSystem string

const (
	// InitSystemd is systemd.
	InitSystemd InitSystem = "systemd"
	// InitOpenRC is OpenRC.
	InitOpenRC InitSystem = "openrc"
	// InitSysV is a classic sysvinit host.
	InitSysV InitSystem = "sysvinit"
)

// DetectInitSystem inspects the host rooted at h.
func DetectInitSystem(h *Host) InitSystem {
	switch {
	case isDir(h.Path("/run/systemd/system")):
		return InitSystemd
	case isFile(h.Path("/sbin/openrc-run")):
		return InitOpenRC
	default:
		return InitSysV
	}
}

// Unit is one service definition to install.
type Unit struct {
	// Name is the file name inside the bundle and on the host.
	Name string
	// Dir is the host directory receiving the file.
	Dir string
	// Mode is the installed file mode.
	Mode uint32
}

// Units returns the service definitions for the init system.
func Units(h *Host, system InitSystem) []Unit {
	units := make([]Unit, 0, len(Services()))

	for _, service := range Services() {
		switch system {
		case InitSystemd:
			units = append(units, Unit{Name: service + ".service", Dir: h.Path("/etc/systemd/system"), Mode: 0o644})
		default:
			units = append(units, Unit{Name: service, Dir: h.Path("/etc/init.d"), Mode: 0o755})
		}
	}

	return units
}

// BundledUnit returns the bundle file for a unit: initscript/<system>/<name>
// when present, otherwise the top-level file.
func BundledUnit(bundleDir string, system InitSystem, name string) string {
	preferred := filepath.Join(bundleDir, InitDir, string(system), name)
	if isFile(preferred) {
		return preferred
	}

	return filepath.Join(bundleDir, name)
}

// ServiceManager controls panel services.
type ServiceManager interface {
	Reload(ctx context.Context) error
	Enable(ctx context.Context, service string) error
	Start(ctx context.Context, service string) error
	Stop(ctx context.Context, service string) error
}

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// execServiceManager drives the init system through its command line tools.
type execServiceManager struct {
	system InitSystem
	run    CommandRunner
}

// NewServiceManager returns a ServiceManager for system. A nil runner uses os/exec.
func NewServiceManager(system InitSystem, run CommandRunner) ServiceManager {
	if run == nil {
		run = execRunner
	}

	return &execServiceManager{system: system, run: run}
}

func (m *execServiceManager) Reload(ctx context.Context) error {
	if m.system != InitSystemd {
		return nil
	}

	return m.exec(ctx, "systemctl", "daemon-reload")
}

func (m *execServiceManager) Enable(ctx context.Context, service string) error {
	switch m.system {
	case InitSystemd:
		return m.exec(ctx, "systemctl", "enable", service)
	case InitOpenRC:
		return m.exec(ctx, "rc-update", "add", service, "default")
	default:
		if _, err := exec.LookPath("update-rc.d"); err == nil {
			return m.exec(ctx, "update-rc.d", service, "defaults")
		}

		return m.exec(ctx, "chkconfig", "--add", service)
	}
}

func (m *execServiceManager) Start(ctx context.Context, service string) error {
	return m.action(ctx, "start", service)
}

func (m *execServiceManager) Stop(ctx context.Context, service string) error {
	return m.action(ctx, "stop", service)
}

func (m *execServiceManager) action(ctx context.Context, verb, service string) error {
	switch m.system {
	case InitSystemd:
		return m.exec(ctx, "systemctl", verb, service)
	case InitOpenRC:
		return m.exec(ctx, "rc-service", service, verb)
	default:
		return m.exec(ctx, "service", service, verb)
	}
}

func (m *execServiceManager) exec(ctx context.Context, name string, args ...string) error {
	output, err := m.run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}

	return nil
}
