package localfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveCreatesNestedKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key := "analyses/a-1/1700000000.json"
	if err := store.Save(context.Background(), key, strings.NewReader(`{"ok":true}`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "analyses", "a-1", "1700000000.json"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body %q", body)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "analyses", "a-1"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the final file, got %d entries", len(entries))
	}
}

func TestSaveRejectsEscapingKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"../outside.json", "analyses/../../x", ""} {
		if err := store.Save(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}
