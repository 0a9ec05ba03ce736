package integration

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/1panel-offline/internal/config"
	"github.com/oshokin/1panel-offline/internal/testutil"
)

// writeConfig stores cfg in a temporary file and returns its path.
func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), config.DefaultConfigFilename)
	require.NoError(t, config.Save(path, cfg))

	return path
}

// newBuildConfig returns a configuration pointing at a fresh artifact server.
func newBuildConfig(t *testing.T) (*testutil.ArtifactServer, *config.Config) {
	t.Helper()

	srv := testutil.NewArtifactServer(t)

	return srv, testutil.Config(t, srv, t.TempDir())
}

type recordingServices struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingServices) add(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, call)

	return nil
}

func (r *recordingServices) Reload(context.Context) error { return r.add("reload") }

func (r *recordingServices) Enable(_ context.Context, s string) error { return r.add("enable " + s) }

func (r *recordingServices) Start(_ context.Context, s string) error { return r.add("start " + s) }

func (r *recordingServices) Stop(_ context.Context, s string) error { return r.add("stop " + s) }

func (r *recordingServices) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

type process string

func (p process) Pid() int           { return 4242 }
func (p process) PPid() int          { return 1 }
func (p process) Executable() string { return string(p) }

func runningCore() ([]ps.Process, error) {
	return []ps.Process{process("1panel-core")}, nil
}
