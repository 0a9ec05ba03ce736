package bundle

// Kind selects how a cached artifact is verified.
type Kind int

const (
	// KindArchive must open as a well-formed gzip compressed tar stream.
	KindArchive Kind = iota
	// KindBinary must be non-empty and at least the artifact's minimum size.
	KindBinary
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindArchive:
		return "archive"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Candidate is one download location for one version of an artifact.
type Candidate struct {
	// Version is the artifact version this URL serves.
	Version string
	// URL is the absolute download location.
	URL string
}

// Artifact is a resolved logical artifact ready to be handed to the downloader.
type Artifact struct {
	// Name is a human readable label used in logs.
	Name string
	// Kind selects the verification rule.
	Kind Kind
	// MinSize is the minimum acceptable size for binaries.
	MinSize int64
	// Candidates are tried strictly in order; the list is never empty.
	Candidates []Candidate
}

// Versions returns the distinct candidate versions in preference order.
func (a *Artifact) Versions() []string {
	var (
		versions = make([]string, 0, len(a.Candidates))
		seen     = make(map[string]struct{}, len(a.Candidates))
	)

	for _, candidate := range a.Candidates {
		if _, ok := seen[candidate.Version]; ok {
			continue
		}

		seen[candidate.Version] = struct{}{}
		versions = append(versions, candidate.Version)
	}

	return versions
}
