// Package integration runs the builder and the upgrader end to end against a
// local artifact server and a temporary host root.
package integration
