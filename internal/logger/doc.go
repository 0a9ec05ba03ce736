// Package logger wraps zap with a process-wide sugared logger and
// context-scoped helpers (WithName, WithKV, FromContext, InfoKV, ...).
//
// The builder and the upgrader both pass a context through every step and log
// through it; the upgrader additionally tees its output into a persistent
// log file via NewWithFile.
package logger
