package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestMemory_GetSet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, err := s.Get(ctx, "k"); err != nil || v != "v1" {
		t.Errorf("Get(k) = %q, %v, want v1", v, err)
	}

	// Overwrite
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := s.Get(ctx, "k"); v != "v2" {
		t.Errorf("Get(k) after overwrite = %q, want v2", v)
	}
}

func TestSQLite_GetSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("overwrite Set failed: %v", err)
	}

	v, err := s.Get(ctx, "k")
	if err != nil || v != "v2" {
		t.Errorf("Get(k) = %q, %v, want v2", v, err)
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := s.Set(ctx, "k", "persisted"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.Close()

	s2, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	v, err := s2.Get(ctx, "k")
	if err != nil || v != "persisted" {
		t.Errorf("Get(k) after reopen = %q, %v, want persisted", v, err)
	}
}
