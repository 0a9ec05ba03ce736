// Package assembler turns one (source, architecture) pair into an offline
// bundle archive: it downloads the panel package, Docker and docker-compose,
// extracts the panel, adds the offline artifacts, patches install.sh and
// compresses the staging directory.
package assembler
