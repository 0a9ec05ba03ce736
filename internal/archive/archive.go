package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

var (
	// ErrInvalid is returned when a file is not a readable tar.gz archive.
	ErrInvalid = errors.New("invalid tar.gz archive")
	// ErrUnsafePath is returned for entries escaping the extraction root.
	ErrUnsafePath = errors.New("archive entry escapes destination")
	// ErrEmpty is returned for archives without a single entry.
	ErrEmpty = errors.New("archive has no entries")
)

const dirPermissions = 0o755

// epoch is the modification time stamped on every packed entry.
//
//nolint:gochecknoglobals // Constant value.
var epoch = time.Unix(0, 0).UTC()

// Validate reads the whole archive at path and reports whether it is a
// well-formed gzip compressed tar with at least one entry.
func Validate(path string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	count, err := walk(file, func(*tar.Header, io.Reader) error { return nil })
	if err != nil {
		return fmt.Errorf("%s: %w: %w", path, ErrInvalid, err)
	}

	if count == 0 {
		return fmt.Errorf("%s: %w: %w", path, ErrInvalid, ErrEmpty)
	}

	return nil
}

// List returns entry names in archive order.
func List(path string) ([]string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	var names []string

	_, err = walk(file, func(header *tar.Header, _ io.Reader) error {
		names = append(names, header.Name)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrInvalid, err)
	}

	return names, nil
}

// Extract unpacks src into dst, dropping the first strip path components of
// every entry. Entries that become empty after stripping are skipped.
func Extract(src, dst string, strip int) error {
	file, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	root, err := filepath.Abs(dst)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(root, dirPermissions); err != nil {
		return err
	}

	_, err = walk(file, func(header *tar.Header, body io.Reader) error {
		name := stripComponents(header.Name, strip)
		if name == "" {
			return nil
		}

		target := filepath.Join(root, filepath.FromSlash(name))
		if !within(root, target) {
			return fmt.Errorf("%s: %w", header.Name, ErrUnsafePath)
		}

		return extractEntry(root, target, header, body)
	})
	if err != nil {
		return fmt.Errorf("extract %s: %w", src, err)
	}

	return nil
}

// Create packs the contents of srcDir into dst under a single top-level
// directory named prefix. The archive is written next to dst and renamed into
// place, so dst is either complete or untouched.
func Create(srcDir, dst, prefix string) error {
	if err := os.MkdirAll(filepath.Dir(dst), dirPermissions); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".archive.*")
	if err != nil {
		return fmt.Errorf("create temporary archive: %w", err)
	}

	name := tmp.Name()
	keep := false

	defer func() {
		if !keep {
			_ = os.Remove(name)
		}
	}()

	if err = write(tmp, srcDir, prefix); err != nil {
		_ = tmp.Close()

		return err
	}

	if err = tmp.Close(); err != nil {
		return err
	}

	if err = os.Chmod(name, 0o644); err != nil {
		return err
	}

	if err = os.Rename(name, dst); err != nil {
		return err
	}

	keep = true

	return nil
}

func write(out io.Writer, srcDir, prefix string) error {
	zw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(srcDir, func(current string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(srcDir, current)
		if err != nil {
			return err
		}

		name := path.Join(prefix, filepath.ToSlash(rel))
		if rel == "." {
			if prefix == "" {
				return nil
			}

			name = prefix
		}

		return addEntry(tw, current, name, entry)
	})
	if err != nil {
		return fmt.Errorf("pack %s: %w", srcDir, err)
	}

	if err = tw.Close(); err != nil {
		return err
	}

	return zw.Close()
}

func addEntry(tw *tar.Writer, current, name string, entry fs.DirEntry) error {
	info, err := entry.Info()
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(current); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}

	header.Name = name
	if info.IsDir() {
		header.Name += "/"
	}

	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "root", "root"
	header.ModTime = epoch
	header.AccessTime, header.ChangeTime = time.Time{}, time.Time{}

	if err = tw.WriteHeader(header); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	file, err := os.Open(filepath.Clean(current))
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	_, err = io.Copy(tw, file)

	return err
}

// walk iterates every entry of a tar.gz stream, draining entry bodies so that
// truncation anywhere in the stream surfaces as an error.
func walk(r io.Reader, fn func(*tar.Header, io.Reader) error) (int, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = zr.Close()
	}()

	var (
		tr    = tar.NewReader(zr)
		count int
	)

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}

		if err != nil {
			return count, err
		}

		count++

		if err = fn(header, tr); err != nil {
			return count, err
		}

		if _, err = io.Copy(io.Discard, tr); err != nil {
			return count, err
		}
	}
}

func extractEntry(root, target string, header *tar.Header, body io.Reader) error {
	mode := header.FileInfo().Mode().Perm()

	switch header.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, dirPermissions)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
			return err
		}

		//nolint:gosec // Target is checked to stay within root.
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
		if err != nil {
			return err
		}

		//nolint:gosec // Archive size is bounded by the verified download.
		if _, err = io.Copy(out, body); err != nil {
			_ = out.Close()

			return err
		}

		if err = out.Close(); err != nil {
			return err
		}

		return os.Chmod(target, mode)
	case tar.TypeSymlink:
		resolved := header.Linkname
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(filepath.Dir(target), resolved)
		}

		if !within(root, resolved) {
			return fmt.Errorf("%s -> %s: %w", header.Name, header.Linkname, ErrUnsafePath)
		}

		if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
			return err
		}

		_ = os.Remove(target)

		return os.Symlink(header.Linkname, target)
	default:
		return nil
	}
}

func stripComponents(name string, strip int) string {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")

	for range strip {
		idx := strings.IndexByte(name, '/')
		if idx < 0 {
			return ""
		}

		name = name[idx+1:]
	}

	return name
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
