// Package fileutil holds the small file operations shared by the builder and
// the upgrader: atomic copies, tree copies and content checksums.
package fileutil
