package downloader

import (
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/1panel-offline/internal/archive"
	"github.com/oshokin/1panel-offline/internal/domain/bundle"
)

var (
	// ErrTooSmall is returned for binaries below their minimum size.
	ErrTooSmall = errors.New("file is smaller than the minimum size")
	// errUnknownKind is returned for artifact kinds without a verification rule.
	errUnknownKind = errors.New("unknown artifact kind")
)

// Verify applies the kind-specific rule to the file at path.
func Verify(path string, kind bundle.Kind, minSize int64) error {
	switch kind {
	case bundle.KindArchive:
		return archive.Validate(path)
	case bundle.KindBinary:
		info, err := os.Stat(path)
		if err != nil {
			return err
		}

		if info.Size() == 0 || info.Size() < minSize {
			return fmt.Errorf("%s has %d bytes, want at least %d: %w", path, info.Size(), max(minSize, 1), ErrTooSmall)
		}

		return nil
	default:
		return fmt.Errorf("%d: %w", kind, errUnknownKind)
	}
}
