package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the builder needs beyond command line flags.
type Config struct {
	// OfficialBaseURL is the root of the vendor package host.
	OfficialBaseURL string `yaml:"official_base_url"`
	// CustomBaseURL is the root of the alternate release host.
	CustomBaseURL string `yaml:"custom_base_url"`
	// CustomRepo is the owner/name of the alternate release repository.
	CustomRepo string `yaml:"custom_repo"`
	// Channel is the release channel: stable, beta or dev.
	Channel string `yaml:"channel"`
	// Version is the panel version; empty means "ask the latest endpoint".
	Version string `yaml:"version"`
	// Docker configures the container runtime package.
	Docker DockerConfig `yaml:"docker"`
	// Compose configures the orchestration CLI binary.
	Compose ComposeConfig `yaml:"compose"`
	// SQLite configures the optional database client binary.
	SQLite SQLiteConfig `yaml:"sqlite"`
	// Download configures transfer retries.
	Download DownloadConfig `yaml:"download"`
	// OutputDir is the root of produced bundles.
	OutputDir string `yaml:"output_dir"`
	// CacheDir holds reusable downloads; defaults to <output_dir>/cache.
	CacheDir string `yaml:"cache_dir"`
	// UpgraderDir holds prebuilt 1panel-offline-upgrade-linux-<arch> binaries
	// that are copied into matching bundles when present. Empty means the
	// build executable's directory.
	UpgraderDir string `yaml:"upgrader_dir,omitempty"`
}

// DockerConfig configures the Docker static package candidates.
type DockerConfig struct {
	// Version is the preferred Docker version.
	Version string `yaml:"version"`
	// FallbackVersions are older known-good versions tried after Version.
	FallbackVersions []string `yaml:"fallback_versions"`
	// FallbackArchs lists architectures that get the fallback versions.
	FallbackArchs []string `yaml:"fallback_archs"`
	// UpstreamURL is the canonical static build template, always tried last.
	UpstreamURL string `yaml:"upstream_url"`
	// Mirrors maps an architecture tag to community mirror templates.
	Mirrors map[string][]string `yaml:"mirrors"`
}

// ComposeConfig configures the docker-compose binary candidates.
type ComposeConfig struct {
	// Version is the preferred docker-compose version without the "v" prefix.
	Version string `yaml:"version"`
	// FallbackVersion is a pinned known-good version.
	FallbackVersion string `yaml:"fallback_version"`
	// FallbackArchs lists architectures that get the fallback version.
	FallbackArchs []string `yaml:"fallback_archs"`
	// UpstreamURL is the canonical release template.
	UpstreamURL string `yaml:"upstream_url"`
	// Mirrors maps an architecture tag to additional templates tried after the upstream.
	Mirrors map[string][]string `yaml:"mirrors"`
	// MinSize rejects truncated binaries.
	MinSize int64 `yaml:"min_size"`
}

// SQLiteConfig configures the optional sqlite3 client.
type SQLiteConfig struct {
	// URL is the client download template.
	URL string `yaml:"url"`
	// Version is the pinned client version.
	Version string `yaml:"version"`
	// MinSize rejects truncated binaries.
	MinSize int64 `yaml:"min_size"`
}

// DownloadConfig bounds transfer retries.
type DownloadConfig struct {
	// Retries is the number of attempts per candidate URL.
	Retries int `yaml:"retries"`
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// Timeout bounds one HTTP request.
	Timeout time.Duration `yaml:"timeout"`
}

const (
	// DefaultConfigFilename is the configuration file looked up when none is given.
	DefaultConfigFilename = "1panel-offline.yaml"

	// DefaultOutputDir is where bundles are written.
	DefaultOutputDir = "build"

	// DefaultChannel is the release channel used when none is given.
	DefaultChannel = "stable"

	// DefaultFilePermissions is used when persisting the configuration.
	DefaultFilePermissions = 0o600

	defaultOfficialBaseURL = "https://resource.fit2cloud.com/1panel/package/v2"
	defaultCustomBaseURL   = "https://github.com"
	defaultDockerVersion   = "28.5.2"
	defaultDockerUpstream  = "https://download.docker.com/linux/static/stable/{arch}/docker-{version}.tgz"
	defaultComposeVersion  = "2.40.3"
	defaultComposePinned   = "2.29.7"
	defaultComposeUpstream = "https://github.com/docker/compose/releases/download/v{version}/docker-compose-linux-{arch}"
	defaultSQLiteURL       = "https://github.com/1Panel-dev/sqlite-static/releases/download/{version}/sqlite3-linux-{arch}"
	defaultSQLiteVersion   = "3.50.4"
	defaultComposeMinSize  = 10 << 20
	defaultSQLiteMinSize   = 512 << 10
	defaultRetries         = 3
	defaultRetryDelay      = 3 * time.Second
	defaultTimeout         = 10 * time.Minute
)

// Template placeholders understood by Expand.
const (
	PlaceholderVersion = "{version}"
	PlaceholderArch    = "{arch}"
	PlaceholderChannel = "{channel}"
	PlaceholderRepo    = "{repo}"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidChannel is returned for channels other than stable, beta or dev.
	errInvalidChannel = errors.New("channel must be one of stable, beta, dev")
	// errInvalidRepo is returned when the custom repository is not owner/name.
	errInvalidRepo = errors.New("custom repository must look like owner/name")
	// errMissingTemplate is returned when a required URL template is empty.
	errMissingTemplate = errors.New("url template must contain {version} and {arch}")

	//nolint:gochecknoglobals // Compiled once.
	repoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
)

// Default returns the built-in configuration.
func Default() *Config {
	underserved := []string{"ppc64le", "s390x", "riscv64", "loong64"}
	staticMirrors := []string{
		"https://mirrors.aliyun.com/docker-ce/linux/static/stable/{arch}/docker-{version}.tgz",
		"https://mirrors.tuna.tsinghua.edu.cn/docker-ce/linux/static/stable/{arch}/docker-{version}.tgz",
	}

	return &Config{
		OfficialBaseURL: defaultOfficialBaseURL,
		CustomBaseURL:   defaultCustomBaseURL,
		Channel:         DefaultChannel,
		Docker: DockerConfig{
			Version:          defaultDockerVersion,
			FallbackVersions: []string{"27.5.1", "26.1.4"},
			FallbackArchs:    underserved,
			UpstreamURL:      defaultDockerUpstream,
			Mirrors: map[string][]string{
				"ppc64le": staticMirrors,
				"s390x":   staticMirrors,
				"riscv64": staticMirrors,
				"loong64": {
					"https://github.com/loong64/docker-ce-packaging/releases/download/v{version}/docker-{version}.tgz",
				},
			},
		},
		Compose: ComposeConfig{
			Version:         defaultComposeVersion,
			FallbackVersion: defaultComposePinned,
			FallbackArchs:   []string{"ppc64le", "s390x", "armv7", "loong64", "riscv64"},
			UpstreamURL:     defaultComposeUpstream,
			Mirrors: map[string][]string{
				"loong64": {
					"https://github.com/loong64/compose/releases/download/v{version}/docker-compose-linux-{arch}",
				},
			},
			MinSize: defaultComposeMinSize,
		},
		SQLite: SQLiteConfig{
			URL:     defaultSQLiteURL,
			Version: defaultSQLiteVersion,
			MinSize: defaultSQLiteMinSize,
		},
		Download: DownloadConfig{
			Retries:    defaultRetries,
			RetryDelay: defaultRetryDelay,
			Timeout:    defaultTimeout,
		},
		OutputDir: DefaultOutputDir,
	}
}

// Load reads configuration from path on top of Default and validates it.
// A missing file at the default location is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		// Mirror maps would be merged key by key; a file replaces them as a whole.
		dockerMirrors, composeMirrors := cfg.Docker.Mirrors, cfg.Compose.Mirrors
		cfg.Docker.Mirrors, cfg.Compose.Mirrors = nil, nil

		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}

		if cfg.Docker.Mirrors == nil {
			cfg.Docker.Mirrors = dockerMirrors
		}

		if cfg.Compose.Mirrors == nil {
			cfg.Compose.Mirrors = composeMirrors
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and fills defaults for zero values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	defaults := Default()

	if cfg.Channel == "" {
		cfg.Channel = defaults.Channel
	}

	switch cfg.Channel {
	case "stable", "beta", "dev":
	default:
		return fmt.Errorf("%q: %w", cfg.Channel, errInvalidChannel)
	}

	if cfg.OfficialBaseURL == "" {
		cfg.OfficialBaseURL = defaults.OfficialBaseURL
	}

	if cfg.CustomBaseURL == "" {
		cfg.CustomBaseURL = defaults.CustomBaseURL
	}

	for _, raw := range []string{cfg.OfficialBaseURL, cfg.CustomBaseURL} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("invalid base URL %q: %w", raw, err)
		}
	}

	if cfg.CustomRepo != "" && !repoPattern.MatchString(cfg.CustomRepo) {
		return fmt.Errorf("%q: %w", cfg.CustomRepo, errInvalidRepo)
	}

	validateDocker(&cfg.Docker, &defaults.Docker)
	validateCompose(&cfg.Compose, &defaults.Compose)

	if cfg.SQLite.URL == "" {
		cfg.SQLite.URL = defaults.SQLite.URL
	}

	if cfg.SQLite.Version == "" {
		cfg.SQLite.Version = defaults.SQLite.Version
	}

	if cfg.SQLite.MinSize <= 0 {
		cfg.SQLite.MinSize = defaults.SQLite.MinSize
	}

	for _, tpl := range []string{cfg.Docker.UpstreamURL, cfg.Compose.UpstreamURL, cfg.SQLite.URL} {
		if !strings.Contains(tpl, PlaceholderVersion) || !strings.Contains(tpl, PlaceholderArch) {
			return fmt.Errorf("%q: %w", tpl, errMissingTemplate)
		}
	}

	if cfg.Download.Retries <= 0 {
		cfg.Download.Retries = defaults.Download.Retries
	}

	if cfg.Download.RetryDelay < 0 {
		cfg.Download.RetryDelay = defaults.Download.RetryDelay
	}

	if cfg.Download.Timeout <= 0 {
		cfg.Download.Timeout = defaults.Download.Timeout
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = defaults.OutputDir
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.OutputDir, "cache")
	}

	return nil
}

// Expand substitutes template placeholders.
func Expand(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, key, value)
	}

	return strings.NewReplacer(pairs...).Replace(template)
}

// ShortRepo returns "owner/name" with any surrounding slashes trimmed.
func (c *Config) ShortRepo() string {
	return strings.Trim(c.CustomRepo, "/")
}

func validateDocker(docker, defaults *DockerConfig) {
	if docker.Version == "" {
		docker.Version = defaults.Version
	}

	if docker.UpstreamURL == "" {
		docker.UpstreamURL = defaults.UpstreamURL
	}

	if docker.FallbackArchs == nil {
		docker.FallbackArchs = defaults.FallbackArchs
	}

	if docker.FallbackVersions == nil {
		docker.FallbackVersions = defaults.FallbackVersions
	}
}

func validateCompose(compose, defaults *ComposeConfig) {
	compose.Version = strings.TrimPrefix(compose.Version, "v")
	compose.FallbackVersion = strings.TrimPrefix(compose.FallbackVersion, "v")

	if compose.Version == "" {
		compose.Version = defaults.Version
	}

	if compose.UpstreamURL == "" {
		compose.UpstreamURL = defaults.UpstreamURL
	}

	if compose.FallbackArchs == nil {
		compose.FallbackArchs = defaults.FallbackArchs
	}

	if compose.MinSize <= 0 {
		compose.MinSize = defaults.MinSize
	}
}
