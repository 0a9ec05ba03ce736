package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/oshokin/1panel-offline/internal/logger"
)

// Method tells which path updated the database.
type Method string

const (
	// MethodInProcess is the embedded SQLite driver.
	MethodInProcess Method = "in-process"
	// MethodCLI is the sqlite3 command line client.
	MethodCLI Method = "sqlite3-cli"

	// SystemVersionKey is the settings row holding the panel version.
	SystemVersionKey = "SystemVersion"

	updateStatement = `UPDATE settings SET value = ? WHERE key = ?`
	busyTimeout     = "busy_timeout(5000)"
)

var (
	// ErrDatabaseMissing is returned when the database file does not exist.
	ErrDatabaseMissing = errors.New("database file not found")
	// ErrVersionRowMissing is returned when the settings table has no SystemVersion row.
	ErrVersionRowMissing = errors.New("SystemVersion row not found")
	// errNoClient is returned when no sqlite3 client could run the update.
	errNoClient = errors.New("no usable sqlite3 client")
)

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Migrator writes SystemVersion into panel databases.
type Migrator struct {
	clients []string
	run     CommandRunner
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithClients sets the sqlite3 executables tried by the fallback, in order.
func WithClients(clients ...string) Option {
	return func(m *Migrator) {
		m.clients = clients
	}
}

// WithCommandRunner replaces the command runner.
func WithCommandRunner(run CommandRunner) Option {
	return func(m *Migrator) {
		m.run = run
	}
}

// NewMigrator creates a Migrator that falls back to sqlite3 on PATH.
func NewMigrator(opts ...Option) *Migrator {
	m := &Migrator{
		clients: []string{"sqlite3"},
		run:     ExecRunner,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SetSystemVersion stores version in the database at path.
func (m *Migrator) SetSystemVersion(ctx context.Context, path, version string) (Method, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, ErrDatabaseMissing)
		}

		return "", err
	}

	err := updateInProcess(ctx, path, version)
	if err == nil {
		return MethodInProcess, nil
	}

	if errors.Is(err, ErrVersionRowMissing) {
		return "", err
	}

	logger.WarnKV(ctx, "In-process database update failed, trying sqlite3 client", "path", path, "error", err)

	errs := []error{err}

	for _, client := range m.clients {
		output, cliErr := m.run(ctx, client, path, cliStatement(version))
		if cliErr == nil {
			return MethodCLI, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w: %s", client, cliErr, strings.TrimSpace(string(output))))
	}

	return "", fmt.Errorf("%w: %w", errNoClient, errors.Join(errs...))
}

// ReadSystemVersion returns the stored version, mostly for verification.
func ReadSystemVersion(ctx context.Context, path string) (string, error) {
	db, err := open(path)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = db.Close()
	}()

	var value string

	err = db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, SystemVersionKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrVersionRowMissing
	}

	return value, err
}

func updateInProcess(ctx context.Context, path, version string) error {
	db, err := open(path)
	if err != nil {
		return err
	}

	defer func() {
		_ = db.Close()
	}()

	result, err := db.ExecContext(ctx, updateStatement, version, SystemVersionKey)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("%s: %w", path, ErrVersionRowMissing)
	}

	return nil
}

func open(path string) (*sql.DB, error) {
	u := url.URL{
		Scheme:   `file`,
		Opaque:   path,
		RawQuery: url.Values{"_pragma": {busyTimeout}}.Encode(),
	}

	db, err := sql.Open(`sqlite`, u.String())
	if err != nil {
		return nil, err
	}

	if err = db.Ping(); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func cliStatement(version string) string {
	quote := func(s string) string {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}

	return "UPDATE settings SET value = " + quote(version) + " WHERE key = " + quote(SystemVersionKey) + ";"
}
