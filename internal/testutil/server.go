package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ArtifactServer serves fixed payloads by URL path and counts every request.
type ArtifactServer struct {
	*httptest.Server

	mu     sync.Mutex
	routes map[string][]byte
	hits   map[string]int
}

// NewArtifactServer starts a server; it is closed with the test.
func NewArtifactServer(t testing.TB) *ArtifactServer {
	t.Helper()

	s := &ArtifactServer{
		routes: make(map[string][]byte),
		hits:   make(map[string]int),
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)

	return s
}

// Handle registers payload under path and returns its absolute URL.
func (s *ArtifactServer) Handle(path string, payload []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes[path] = payload

	return s.URL + path
}

// Hits returns how many times path was requested.
func (s *ArtifactServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hits[path]
}

// TotalHits returns the number of requests served, including misses.
func (s *ArtifactServer) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.hits {
		total += n
	}

	return total
}

func (s *ArtifactServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	payload, ok := s.routes[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)

		return
	}

	_, _ = w.Write(payload)
}
