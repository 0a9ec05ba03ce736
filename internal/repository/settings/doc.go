// Package settings updates the SystemVersion row the panel keeps in its
// SQLite databases. The database is opened in process first; when that fails
// the sqlite3 command line client is tried.
package settings
