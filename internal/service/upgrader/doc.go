// Package upgrader implements the 1panel-offline-upgrade entry point: an
// in-place upgrade of an installed panel from an unpacked offline bundle.
//
// The run is a fixed sequence of states. Nothing on the host changes before
// preflight passes. A failure while replacing artifacts restores the backup
// and restarts the services; later steps only produce warnings.
package upgrader
