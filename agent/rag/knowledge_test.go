package rag

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPassagesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "knowledge.yaml")
	doc := `
- title: Opening hours
  priority: 10
  content: Sunday to Thursday, 09:00-18:00.
- title: Parking
  content: Free parking behind the building.
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	passages, err := LoadPassagesFile(path)
	if err != nil {
		t.Fatalf("LoadPassagesFile() error = %v", err)
	}
	if len(passages) != 2 {
		t.Fatalf("passages = %d, want 2", len(passages))
	}
	if passages[0].Title != "Opening hours" || passages[0].Priority != 10 {
		t.Fatalf("unexpected first passage: %#v", passages[0])
	}
}

func TestLoadPassagesFileRejectsEmptyContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "knowledge.yaml")
	if err := os.WriteFile(path, []byte("- title: Empty\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadPassagesFile(path); err == nil {
		t.Fatal("expected error for passage without content")
	}
}
