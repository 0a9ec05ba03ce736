package testutil

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// TarGz builds a gzip compressed tar holding files. Names ending in "/" become
// directories; everything else is a regular file with mode 0755 for names
// without an extension and 0644 otherwise.
func TarGz(t testing.TB, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	slices.Sort(names)

	var (
		buf bytes.Buffer
		zw  = gzip.NewWriter(&buf)
		tw  = tar.NewWriter(zw)
	)

	for _, name := range names {
		header := &tar.Header{Name: name, Mode: 0o644, Typeflag: tar.TypeReg, Size: int64(len(files[name]))}

		switch {
		case strings.HasSuffix(name, "/"):
			header.Typeflag = tar.TypeDir
			header.Mode = 0o755
			header.Size = 0
		case filepath.Ext(name) == "":
			header.Mode = 0o755
		}

		require.NoError(t, tw.WriteHeader(header))

		if header.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(files[name]))
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// WriteTarGz writes TarGz(files) to path.
func WriteTarGz(t testing.TB, path string, files map[string]string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, TarGz(t, files), 0o644))
}

// PanelPackage returns a panel release tarball wrapped in a single top-level
// directory, the way upstream publishes it.
func PanelPackage(t testing.TB, version, arch string) []byte {
	t.Helper()

	root := "1panel-" + version + "-linux-" + arch + "/"

	return TarGz(t, map[string]string{
		root:                          "",
		root + "install.sh":           InstallScript,
		root + "1panel-core":          "core-binary-" + version,
		root + "1panel-agent":         "agent-binary-" + version,
		root + "1pctl":                Pctl,
		root + "lang/":                "",
		root + "lang/en.yaml":         "hello: world\n",
		root + "initscript/":          "",
		root + "1panel-core.service":  "[Unit]\nDescription=1Panel core\n",
		root + "1panel-agent.service": "[Unit]\nDescription=1Panel agent\n",
	})
}

// DockerPackage returns a minimal Docker static tarball.
func DockerPackage(t testing.TB, version string) []byte {
	t.Helper()

	return TarGz(t, map[string]string{
		"docker/":          "",
		"docker/docker":    "docker-" + version,
		"docker/dockerd":   "dockerd-" + version,
		"docker/container": "containerd-" + version,
	})
}
