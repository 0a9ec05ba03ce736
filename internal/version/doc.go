// Package version exposes build metadata for the offline tools.
//
// Version, Commit and BuildTime are injected at build time via Go ldflags.
// UserAgent renders the identifier sent with every artifact download.
package version
