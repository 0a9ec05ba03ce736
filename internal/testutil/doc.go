// Package testutil provides shared fixtures for tests: in-memory tar.gz
// archives, a counting artifact HTTP server and a representative installer
// script carrying every anchor the patcher relies on.
//
// All helpers fail the test through require instead of returning errors,
// since test setup failures are not recoverable.
package testutil
