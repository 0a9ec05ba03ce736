package bundle

// Status is the terminal state of one (source, architecture) build.
type Status string

const (
	// StatusBuilt means the archive was produced.
	StatusBuilt Status = "built"
	// StatusSkipped means the pair failed under the allow-missing policy.
	StatusSkipped Status = "skipped"
)

// Outcome records whether an optional artifact made it into the bundle.
type Outcome struct {
	// Included is true when the artifact was embedded.
	Included bool `yaml:"included"`
	// Reason explains why the artifact was left out.
	Reason string `yaml:"reason,omitempty"`
}

// Included builds a positive outcome.
func Included() Outcome {
	return Outcome{Included: true}
}

// Skipped builds a negative outcome with the given reason.
func Skipped(reason string) Outcome {
	return Outcome{Reason: reason}
}

// Entry is one row of the bundle manifest.
type Entry struct {
	// Source is the release source label.
	Source Source `yaml:"source"`
	// Arch is the canonical architecture tag.
	Arch string `yaml:"arch"`
	// Status tells whether the archive was produced.
	Status Status `yaml:"status"`
	// Reason explains a skip.
	Reason string `yaml:"reason,omitempty"`
	// ArchivePath is the produced archive, empty when skipped.
	ArchivePath string `yaml:"archive,omitempty"`
	// DockerVersion is the Docker version that was bundled.
	DockerVersion string `yaml:"docker_version,omitempty"`
	// ComposeVersion is the docker-compose version that was bundled.
	ComposeVersion string `yaml:"compose_version,omitempty"`
	// DatabaseClient records whether the sqlite3 client was embedded.
	DatabaseClient Outcome `yaml:"database_client"`
	// Upgrader records whether the host upgrade tool was embedded.
	Upgrader Outcome `yaml:"upgrader"`
}

// Built reports whether the entry produced an archive.
func (e *Entry) Built() bool {
	return e.Status == StatusBuilt
}
