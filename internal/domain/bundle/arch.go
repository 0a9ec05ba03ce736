package bundle

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnsupportedArch is returned for architecture tags without a profile.
var ErrUnsupportedArch = errors.New("unsupported architecture")

// Profile maps a canonical architecture tag to the naming conventions of every
// upstream that publishes artifacts for it.
type Profile struct {
	// Tag is the canonical architecture tag used in output file names.
	Tag string
	// App is the architecture name used by the panel release packages.
	App string
	// Docker is the architecture directory of the Docker static builds.
	Docker string
	// Compose is the architecture suffix of docker-compose release binaries.
	Compose string
	// SQLite is the architecture name of the sqlite3 client build, empty when none exists.
	SQLite string
}

// HasSQLite reports whether a database client build is published for the architecture.
func (p Profile) HasSQLite() bool {
	return p.SQLite != ""
}

// Canonical architecture tags.
const (
	ArchAMD64   = "amd64"
	ArchARM64   = "arm64"
	ArchARMv7   = "armv7"
	ArchPPC64LE = "ppc64le"
	ArchS390X   = "s390x"
	ArchRISCV64 = "riscv64"
	ArchLoong64 = "loong64"
)

//nolint:gochecknoglobals // Immutable lookup table.
var profiles = map[string]Profile{
	ArchAMD64:   {Tag: ArchAMD64, App: "amd64", Docker: "x86_64", Compose: "x86_64", SQLite: "x86_64"},
	ArchARM64:   {Tag: ArchARM64, App: "arm64", Docker: "aarch64", Compose: "aarch64", SQLite: "aarch64"},
	ArchARMv7:   {Tag: ArchARMv7, App: "armv7", Docker: "armhf", Compose: "armv7", SQLite: "armhf"},
	ArchPPC64LE: {Tag: ArchPPC64LE, App: "ppc64le", Docker: "ppc64le", Compose: "ppc64le", SQLite: "ppc64le"},
	ArchS390X:   {Tag: ArchS390X, App: "s390x", Docker: "s390x", Compose: "s390x", SQLite: "s390x"},
	ArchRISCV64: {Tag: ArchRISCV64, App: "riscv64", Docker: "riscv64", Compose: "riscv64", SQLite: "riscv64"},
	ArchLoong64: {Tag: ArchLoong64, App: "loong64", Docker: "loong64", Compose: "loong64"},
}

//nolint:gochecknoglobals // Immutable lookup table.
var archAliases = map[string]string{
	"loongarch64": ArchLoong64,
	"x86_64":      ArchAMD64,
	"aarch64":     ArchARM64,
}

// LookupProfile returns the profile for the given tag or alias.
func LookupProfile(tag string) (Profile, error) {
	key := strings.ToLower(strings.TrimSpace(tag))
	if alias, ok := archAliases[key]; ok {
		key = alias
	}

	profile, ok := profiles[key]
	if !ok {
		return Profile{}, fmt.Errorf("%q: %w", tag, ErrUnsupportedArch)
	}

	return profile, nil
}

// SupportedArchitectures returns canonical tags in a stable order.
func SupportedArchitectures() []string {
	tags := make([]string, 0, len(profiles))
	for tag := range profiles {
		tags = append(tags, tag)
	}

	slices.Sort(tags)

	return tags
}

// ParseArchitectures splits a space or comma separated list into canonical tags.
// Duplicates are dropped, order is preserved.
func ParseArchitectures(values ...string) ([]string, error) {
	var (
		result = make([]string, 0, len(values))
		seen   = make(map[string]struct{}, len(values))
	)

	for _, value := range values {
		fields := strings.FieldsFunc(value, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})

		for _, field := range fields {
			profile, err := LookupProfile(field)
			if err != nil {
				return nil, err
			}

			if _, dup := seen[profile.Tag]; dup {
				continue
			}

			seen[profile.Tag] = struct{}{}
			result = append(result, profile.Tag)
		}
	}

	return result, nil
}
