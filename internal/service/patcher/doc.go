// Package patcher splices offline-install support into the panel installer.
//
// Edits are declared as data (anchor, position, text) and applied by a single
// engine in order. A sentinel comment makes the patch idempotent. In strict
// mode a missing anchor aborts before anything is written; in lenient mode
// the edit is skipped with a warning and the others still apply. Every edit
// is all-or-nothing and the file is replaced atomically.
package patcher
