package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/richinex/loom/llm"
)

func TestSqliteStoragePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.db")
	ctx := context.Background()

	first, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("OpenSqlite failed: %v", err)
	}
	if err := first.Save(ctx, "s1", toolExchange()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	loaded, err := second.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 4 || loaded[1].ToolCalls[0].ID != "call_1" {
		t.Errorf("history not persisted: %+v", loaded)
	}
}

func TestSqliteStorageCancelledContext(t *testing.T) {
	s, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Save(ctx, "s", []llm.ChatMessage{llm.UserMessage("x")}); err == nil {
		t.Error("expected Save to fail on a cancelled context")
	}
	exists, err := s.Exists(context.Background(), "s")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("a failed Save must not leave a session behind")
	}
}
