package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/1panel-offline/internal/domain/bundle"
	"github.com/oshokin/1panel-offline/internal/fileutil"
	"github.com/oshokin/1panel-offline/internal/logger"
	"github.com/oshokin/1panel-offline/internal/version"
)

const (
	// ChecksumsFilename is written under the version root.
	ChecksumsFilename = "checksums.txt"
	// ManifestFilename is the YAML build report written next to the checksums.
	ManifestFilename = "manifest.yaml"

	reportFileMode os.FileMode = 0o644
)

// Report is the outcome of one build run.
type Report struct {
	// Tool is the builder version that produced the report.
	Tool string `yaml:"tool"`
	// Channel is the release channel.
	Channel string `yaml:"channel"`
	// Version is the panel version.
	Version string `yaml:"version"`
	// Root is the version output root; archive paths in files are relative to it.
	Root string `yaml:"-"`
	// Entries lists every attempted pair in build order.
	Entries []bundle.Entry `yaml:"entries"`
	// Checksums maps relative archive paths to sha256 digests.
	Checksums map[string]string `yaml:"checksums,omitempty"`
}

// NewReport creates an empty report.
func NewReport(channel, panelVersion, root string) *Report {
	return &Report{
		Tool:    version.Short(),
		Channel: channel,
		Version: panelVersion,
		Root:    root,
	}
}

// Add appends an entry.
func (r *Report) Add(entry bundle.Entry) {
	r.Entries = append(r.Entries, entry)
}

// Built returns the entries that produced an archive.
func (r *Report) Built() []bundle.Entry {
	return r.filter(bundle.StatusBuilt)
}

// Skipped returns the entries recorded as skipped.
func (r *Report) Skipped() []bundle.Entry {
	return r.filter(bundle.StatusSkipped)
}

func (r *Report) filter(status bundle.Status) []bundle.Entry {
	var result []bundle.Entry

	for _, entry := range r.Entries {
		if entry.Status == status {
			result = append(result, entry)
		}
	}

	return result
}

// ChecksumsPath returns the location of checksums.txt.
func (r *Report) ChecksumsPath() string {
	return filepath.Join(r.Root, ChecksumsFilename)
}

// ManifestPath returns the location of manifest.yaml.
func (r *Report) ManifestPath() string {
	return filepath.Join(r.Root, ManifestFilename)
}

// WriteChecksums hashes every built archive and writes "<sha256>  <path>"
// lines with paths relative to the version root.
func (r *Report) WriteChecksums() error {
	r.Checksums = make(map[string]string, len(r.Entries))

	var builder strings.Builder

	for _, entry := range r.Built() {
		rel, err := filepath.Rel(r.Root, entry.ArchivePath)
		if err != nil {
			return fmt.Errorf("relative archive path: %w", err)
		}

		rel = filepath.ToSlash(rel)

		sum, err := fileutil.SHA256(entry.ArchivePath)
		if err != nil {
			return err
		}

		r.Checksums[rel] = sum

		builder.WriteString(sum)
		builder.WriteString("  ")
		builder.WriteString(rel)
		builder.WriteByte('\n')
	}

	if err := os.WriteFile(r.ChecksumsPath(), []byte(builder.String()), reportFileMode); err != nil {
		return fmt.Errorf("write checksums: %w", err)
	}

	return nil
}

// WriteManifest stores the report as YAML.
func (r *Report) WriteManifest() error {
	contents, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err = os.WriteFile(r.ManifestPath(), contents, reportFileMode); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// Log prints the built and skipped summary.
func (r *Report) Log(ctx context.Context) {
	built, skipped := r.Built(), r.Skipped()

	var total uint64

	for _, entry := range built {
		if info, err := os.Stat(entry.ArchivePath); err == nil {
			total += uint64(info.Size())
		}

		logger.InfoKV(ctx, "Built", "source", entry.Source, "arch", entry.Arch, "archive", entry.ArchivePath)
	}

	for _, entry := range skipped {
		logger.WarnKV(ctx, "Skipped", "source", entry.Source, "arch", entry.Arch, "reason", entry.Reason)
	}

	logger.InfoKV(ctx, "Build summary",
		"built", len(built),
		"skipped", len(skipped),
		"size", humanize.IBytes(total))
}
