// Package resolver turns logical artifacts (panel package, Docker static
// package, docker-compose binary, sqlite3 client) into ordered candidate
// lists for one architecture.
//
// Fallback order is data, not control flow: every list is a flat sequence of
// (version, url) pairs, preferred version first and, within a version,
// community mirrors before the canonical upstream.
package resolver
