package patcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/1panel-offline/internal/testutil"
)

func writeInstaller(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), InstallScriptName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))

	return path
}

func TestPatch_AppliesAllEditsInOrder(t *testing.T) {
	t.Parallel()

	path := writeInstaller(t, testutil.InstallScript)

	result, err := New().Patch(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, StatusPatched, result.Status)
	require.Equal(t, []string{
		"offline-variables",
		"offline-helpers",
		"offline-docker-shortcut",
		"offline-compose-tail",
	}, result.Applied)
	require.Empty(t, result.Missing)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	patched := string(raw)
	lines := strings.Split(patched, "\n")
	require.Equal(t, "#!/bin/bash", lines[0])
	require.Equal(t, Sentinel, lines[1])

	mask := strings.Index(patched, `PASSWORD_MASK="**********"`)
	vars := strings.Index(patched, `OFFLINE_DOCKER_TGZ="${CURRENT_DIR}/docker.tgz"`)
	helpers := strings.Index(patched, "function Install_Docker_Offline(){")
	header := strings.Index(patched, "function Install_Docker(){")
	shortcut := strings.Index(patched, `if [[ -f "${OFFLINE_DOCKER_TGZ}" ]]; then`)
	prompt := strings.Index(patched, `read -p "$TXT_INSTALL_DOCKER_ONLINE`)
	composeFn := strings.Index(patched, "function Install_Compose(){")

	require.Less(t, mask, vars)
	require.Less(t, vars, helpers)
	require.Less(t, helpers, header)
	require.Less(t, header, shortcut)
	require.Less(t, shortcut, prompt)

	body := patched[header:composeFn]
	require.Contains(t, body, "    Install_Compose_Offline\n}\n")

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestPatch_IsIdempotent(t *testing.T) {
	t.Parallel()

	path := writeInstaller(t, testutil.InstallScript)
	ctx := context.Background()

	_, err := New().Patch(ctx, path)
	require.NoError(t, err)

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	result, err := New().Patch(ctx, path)
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyPatched, result.Status)

	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, strings.Count(string(second), Sentinel))
}

func TestPatch_StrictMissingAnchorLeavesFileUntouched(t *testing.T) {
	t.Parallel()

	content := strings.Replace(testutil.InstallScript, `PASSWORD_MASK="**********"`, `PASSWORD_HIDDEN=1`, 1)
	path := writeInstaller(t, content)

	result, err := New().Patch(context.Background(), path)
	require.ErrorIs(t, err, ErrAnchorNotFound)
	require.Equal(t, []string{"offline-variables"}, result.Missing)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, content, string(raw))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".install.sh.*"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestPatch_LenientSkipsMissingEdits(t *testing.T) {
	t.Parallel()

	content := strings.Replace(testutil.InstallScript, `read -p "$TXT_INSTALL_DOCKER_ONLINE [y/n]: " docker_install`, `docker_install=y`, 1)
	path := writeInstaller(t, content)

	result, err := New(WithLenient(true)).Patch(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, StatusPatched, result.Status)
	require.Equal(t, []string{"offline-docker-shortcut"}, result.Missing)
	require.Len(t, result.Applied, 3)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	patched := string(raw)
	require.Contains(t, patched, Sentinel)
	require.Contains(t, patched, "function Install_Compose_Offline(){")
	require.Contains(t, patched, "function Install_Docker_Offline(){")
	require.NotContains(t, patched, `if [[ -f "${OFFLINE_DOCKER_TGZ}" ]]; then`)
	require.Equal(t, strings.Count(patched, "{"), strings.Count(patched, "}"))
}

func TestApply_LenientWithNoAnchorsFails(t *testing.T) {
	t.Parallel()

	content := "#!/bin/bash\necho hello\n"

	out, result, err := New(WithLenient(true)).Apply(context.Background(), content)
	require.Error(t, err)
	require.Equal(t, content, out)
	require.Len(t, result.Missing, 4)
	require.Empty(t, result.Applied)
}

func TestApply_FunctionTailWithoutClosingBrace(t *testing.T) {
	t.Parallel()

	edits := []Edit{{
		Name:     "tail",
		Anchor:   "function f(){",
		Position: PositionFunctionTail,
		Text:     "    echo tail",
	}}

	_, _, err := New(WithEdits(edits)).Apply(context.Background(), "function f(){\n    echo body\n")
	require.ErrorIs(t, err, ErrAnchorNotFound)

	out, result, err := New(WithEdits(edits)).Apply(context.Background(), "function f(){\n    echo body\n}\n")
	require.NoError(t, err)
	require.Equal(t, []string{"tail"}, result.Applied)
	require.Equal(t, Sentinel+"\nfunction f(){\n    echo body\n    echo tail\n}\n", out)
}
