package resolver

import (
	"fmt"
	"slices"

	"github.com/oshokin/1panel-offline/internal/config"
	"github.com/oshokin/1panel-offline/internal/domain/bundle"
)

// Resolver builds candidate lists from the build configuration.
type Resolver struct {
	cfg *config.Config
}

// New creates a resolver over a validated configuration.
func New(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// PanelPackageName returns the upstream file name of the panel package.
func PanelPackageName(version string, profile bundle.Profile) string {
	return fmt.Sprintf("1panel-%s-linux-%s.tar.gz", version, profile.App)
}

// PanelPackage resolves the single download location of the panel package.
func (r *Resolver) PanelPackage(source bundle.Source, channel, version string, profile bundle.Profile) (*bundle.Artifact, error) {
	name := PanelPackageName(version, profile)

	var url string

	switch source {
	case bundle.SourceOfficial:
		url = fmt.Sprintf("%s/%s/%s/release/%s", r.cfg.OfficialBaseURL, channel, version, name)
	case bundle.SourceCustom:
		if r.cfg.ShortRepo() == "" {
			return nil, fmt.Errorf("custom source requires a repository: %w", bundle.ErrUnknownSource)
		}

		url = fmt.Sprintf("%s/%s/releases/download/%s/%s", r.cfg.CustomBaseURL, r.cfg.ShortRepo(), version, name)
	default:
		return nil, fmt.Errorf("%q: %w", source, bundle.ErrUnknownSource)
	}

	return &bundle.Artifact{
		Name:       "panel package",
		Kind:       bundle.KindArchive,
		Candidates: []bundle.Candidate{{Version: version, URL: url}},
	}, nil
}

// LatestURL returns the endpoint answering with the newest version of a channel.
func (r *Resolver) LatestURL(channel string) string {
	return fmt.Sprintf("%s/%s/latest", r.cfg.OfficialBaseURL, channel)
}

// DockerPackage resolves the Docker static package candidates. Architectures
// listed in the fallback set also try the pinned older versions.
func (r *Resolver) DockerPackage(profile bundle.Profile) *bundle.Artifact {
	docker := r.cfg.Docker

	versions := []string{docker.Version}
	if slices.Contains(docker.FallbackArchs, profile.Tag) {
		versions = appendUnique(versions, docker.FallbackVersions...)
	}

	candidates := make([]bundle.Candidate, 0, len(versions)*(len(docker.Mirrors[profile.Tag])+1))

	for _, version := range versions {
		values := map[string]string{
			config.PlaceholderVersion: version,
			config.PlaceholderArch:    profile.Docker,
		}

		for _, mirror := range docker.Mirrors[profile.Tag] {
			candidates = append(candidates, bundle.Candidate{Version: version, URL: config.Expand(mirror, values)})
		}

		candidates = append(candidates, bundle.Candidate{Version: version, URL: config.Expand(docker.UpstreamURL, values)})
	}

	return &bundle.Artifact{
		Name:       "docker package",
		Kind:       bundle.KindArchive,
		Candidates: dedupe(candidates),
	}
}

// ComposeBinary resolves docker-compose candidates: the canonical release URL
// per version followed by any community mirrors for the architecture.
func (r *Resolver) ComposeBinary(profile bundle.Profile) *bundle.Artifact {
	compose := r.cfg.Compose

	versions := []string{compose.Version}
	if compose.FallbackVersion != "" && slices.Contains(compose.FallbackArchs, profile.Tag) {
		versions = appendUnique(versions, compose.FallbackVersion)
	}

	candidates := make([]bundle.Candidate, 0, len(versions)*(len(compose.Mirrors[profile.Tag])+1))

	for _, version := range versions {
		values := map[string]string{
			config.PlaceholderVersion: version,
			config.PlaceholderArch:    profile.Compose,
		}

		candidates = append(candidates, bundle.Candidate{Version: version, URL: config.Expand(compose.UpstreamURL, values)})

		for _, mirror := range compose.Mirrors[profile.Tag] {
			candidates = append(candidates, bundle.Candidate{Version: version, URL: config.Expand(mirror, values)})
		}
	}

	return &bundle.Artifact{
		Name:       "docker-compose",
		Kind:       bundle.KindBinary,
		MinSize:    compose.MinSize,
		Candidates: dedupe(candidates),
	}
}

// DatabaseClient resolves the optional sqlite3 client. It returns nil when no
// build exists for the architecture.
func (r *Resolver) DatabaseClient(profile bundle.Profile) *bundle.Artifact {
	if !profile.HasSQLite() {
		return nil
	}

	url := config.Expand(r.cfg.SQLite.URL, map[string]string{
		config.PlaceholderVersion: r.cfg.SQLite.Version,
		config.PlaceholderArch:    profile.SQLite,
	})

	return &bundle.Artifact{
		Name:       "sqlite3",
		Kind:       bundle.KindBinary,
		MinSize:    r.cfg.SQLite.MinSize,
		Candidates: []bundle.Candidate{{Version: r.cfg.SQLite.Version, URL: url}},
	}
}

func appendUnique(values []string, extra ...string) []string {
	for _, value := range extra {
		if value != "" && !slices.Contains(values, value) {
			values = append(values, value)
		}
	}

	return values
}

func dedupe(candidates []bundle.Candidate) []bundle.Candidate {
	seen := make(map[bundle.Candidate]struct{}, len(candidates))
	result := candidates[:0]

	for _, candidate := range candidates {
		if _, ok := seen[candidate]; ok {
			continue
		}

		seen[candidate] = struct{}{}
		result = append(result, candidate)
	}

	return result
}
