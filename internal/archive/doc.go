// Package archive reads and writes gzip compressed tar archives.
//
// Validate walks a whole archive so truncated downloads are caught, Extract
// unpacks with leading path components stripped, and Create packs a staging
// directory atomically (temporary file renamed into place).
package archive
