package store

import (
	"path/filepath"
	"strconv"
	"testing"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", strconv.Itoa(len(migrations))},
	}
	for _, tt := range tests {
		got, err := s.pragma(tt.name)
		if err != nil {
			t.Error(err)
			continue
		}
		if got != tt.expected {
			t.Errorf("%s = %q, want %q", tt.name, got, tt.expected)
		}
	}
}

func TestOpen_ReopenKeepsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() #%d failed: %v", i+1, err)
		}
		got, err := s.pragma("user_version")
		s.Close()
		if err != nil {
			t.Fatal(err)
		}
		if got != strconv.Itoa(len(migrations)) {
			t.Fatalf("open #%d: user_version = %s", i+1, got)
		}
	}
}
