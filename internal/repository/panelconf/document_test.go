package panelconf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/1panel-offline/internal/testutil"
)

func TestParseGetSet(t *testing.T) {
	t.Parallel()

	doc := Parse(testutil.Pctl)

	raw, ok := doc.Get(KeyPort)
	require.True(t, ok)
	require.Equal(t, "9999", raw)

	_, ok = doc.Get(KeyChangeUserInfo)
	require.False(t, ok)

	doc.Set(KeyVersion, "v2.0.10")
	doc.Set(KeyChangeUserInfo, "true")

	require.Equal(t, "v2.0.10", doc.Value(KeyVersion))
	require.Equal(t, `#!/bin/bash
BASE_DIR=/opt
ORIGINAL_PORT=9999
ORIGINAL_VERSION=v2.0.10
ORIGINAL_ENTRANCE=entrance
ORIGINAL_USERNAME=username
ORIGINAL_PASSWORD=password
LANGUAGE=en
CHANGE_USER_INFO=true

function usage() {
    echo "1Panel control script"
}
`, doc.String())
}

func TestValueStripsQuotes(t *testing.T) {
	t.Parallel()

	doc := Parse("A=\"x y\"\nB='z'\nC=\"unbalanced\n")
	require.Equal(t, "x y", doc.Value("A"))
	require.Equal(t, "z", doc.Value("B"))
	require.Equal(t, "\"unbalanced", doc.Value("C"))
	require.Empty(t, doc.Value("D"))
}

func TestCarryPreservesInstalledValues(t *testing.T) {
	t.Parallel()

	installed := Parse("#!/bin/bash\nBASE_DIR=/data\nORIGINAL_PORT=18080\nORIGINAL_PASSWORD=\"s3cr3t\"\nCHANGE_USER_INFO=false\n")
	fresh := Parse(testutil.Pctl)

	carried := fresh.Carry(installed, PreservedKeys()...)
	require.Equal(t, []string{KeyBaseDir, KeyPort, KeyPassword, KeyChangeUserInfo}, carried)

	require.Equal(t, "/data", fresh.Value(KeyBaseDir))
	require.Equal(t, "18080", fresh.Value(KeyPort))
	require.Equal(t, "s3cr3t", fresh.Value(KeyPassword))
	require.Equal(t, "false", fresh.Value(KeyChangeUserInfo))
	require.Equal(t, "username", fresh.Value(KeyUsername))
}

func TestSetOnEmptyDocument(t *testing.T) {
	t.Parallel()

	doc := Parse("")
	doc.Set("A", "1")
	doc.Set("B", "2")
	require.Equal(t, "A=1\nB=2\n", doc.String())

	doc = Parse("#!/bin/sh\necho hi")
	doc.Set("A", "1")
	require.Equal(t, "#!/bin/sh\nA=1\necho hi", doc.String())
}

func TestFileRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "1pctl")
	repo := NewFileRepository(path)

	_, err := repo.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.WriteFile(path, []byte(testutil.Pctl), 0o700))

	doc, err := repo.Load(ctx)
	require.NoError(t, err)

	doc.Set(KeyLanguage, "zh")
	require.NoError(t, repo.Save(ctx, doc))

	reloaded, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "zh", reloaded.Value(KeyLanguage))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}
