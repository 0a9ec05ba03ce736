// Package bundle holds the domain model shared by the offline bundle pipeline:
// architecture profiles, release sources, download candidates, artifact kinds
// and the per-pair build outcomes collected into the bundle manifest.
package bundle
