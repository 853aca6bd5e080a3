// Package testutil provides shared test scaffolding: a temp-dir
// SQLite-backed row store for integration-style tests, plus manual
// assertion helpers (no assertion framework, matching the rest of
// this module's test style).
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/memoryvault/memoryvault/internal/store"
)

// NewStore opens a fresh, schema-initialized row store backed by a
// SQLite file in a t.TempDir(); the store is closed automatically
// when the test completes.
func NewStore(t *testing.T) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "memvault_test.db")
	s, err := store.Open(store.DefaultConfig(dbPath))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	if err := s.InitSchema(context.Background()); err != nil {
		s.Close()
		t.Fatalf("failed to init test store schema: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// TempDir creates a temporary directory for testing, automatically
// cleaned up after the test completes.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// TempFile writes content to a temp file and returns its path.
func TempFile(t *testing.T, name string, content []byte) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertEqual fails the test if got != want.
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertStringContains fails the test if str doesn't contain substr.
func AssertStringContains(t *testing.T, str, substr string) {
	t.Helper()
	if !containsString(str, substr) {
		t.Errorf("string %q does not contain %q", str, substr)
	}
}

func containsString(str, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(str); i++ {
		if str[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
