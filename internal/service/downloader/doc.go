// Package downloader fetches artifacts into the shared cache directory.
//
// The cache is write-through: a valid file at the destination is reused
// without touching the network, an invalid one is deleted, and new downloads
// land in a temporary file that is verified before being renamed into place.
// The destination path therefore always holds either a verified artifact or
// nothing. Fetches for the same destination are deduplicated.
package downloader
