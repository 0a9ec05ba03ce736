// Package builder implements the 1panel-offline-build entry point. It resolves
// the panel version, assembles a bundle for every requested architecture and
// source, and writes checksums.txt and manifest.yaml under the version root.
package builder
