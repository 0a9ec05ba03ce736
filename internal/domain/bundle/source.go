package bundle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSource is returned when a source selection cannot be parsed.
var ErrUnknownSource = errors.New("unknown release source")

// Source identifies where the panel release package is published.
type Source string

const (
	// SourceOfficial is the vendor distribution channel.
	SourceOfficial Source = "official"
	// SourceCustom is an alternate GitHub release repository.
	SourceCustom Source = "custom"

	selectionBoth = "both"
)

// String implements fmt.Stringer.
func (s Source) String() string {
	return string(s)
}

// ParseSources expands a selection (official, custom or both) into sources.
func ParseSources(selection string) ([]Source, error) {
	switch strings.ToLower(strings.TrimSpace(selection)) {
	case string(SourceOfficial), "":
		return []Source{SourceOfficial}, nil
	case string(SourceCustom):
		return []Source{SourceCustom}, nil
	case selectionBoth:
		return []Source{SourceOfficial, SourceCustom}, nil
	default:
		return nil, fmt.Errorf("%q: %w", selection, ErrUnknownSource)
	}
}
