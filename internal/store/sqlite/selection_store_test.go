package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

func TestSelectionStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flareflip.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	key := domain.SelectionKey("flareflip", 4)

	if _, err := s.Get(ctx, key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get empty err = %v", err)
	}
	if err := s.Set(ctx, key, domain.ChoiceHeads); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, key, domain.ChoiceTails); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if got, err := s.Get(ctx, key); err != nil || got != domain.ChoiceTails {
		t.Fatalf("Get = %s, %v", got, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The value survives a reopen.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if got, err := s.Get(ctx, key); err != nil || got != domain.ChoiceTails {
		t.Fatalf("Get after reopen = %s, %v", got, err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
}
