package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m := NewManager(s, config.KnowledgeConfig{BasePath: t.TempDir()})
	return m, s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestImportDir(t *testing.T) {
	m, _ := newTestManager(t)
	base := m.BasePath()

	writeFile(t, filepath.Join(base, "notes.md"), "# Project Notes\n\nRelease planning.\n")
	writeFile(t, filepath.Join(base, "research", "paper.txt"), "Benchmark results for the cache layer.\n")
	writeFile(t, filepath.Join(base, "research", "summary.md"), "no heading here\n")
	writeFile(t, filepath.Join(base, ".archive", "old.md"), "# Old\n")
	writeFile(t, filepath.Join(base, "diagram.png"), "not text")

	count, err := m.ImportDir()
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 imported files, got %d", count)
	}

	entries, err := m.List("")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	byTitle := map[string]store.KnowledgeEntry{}
	for _, e := range entries {
		byTitle[e.Title] = e
	}

	notes, ok := byTitle["Project Notes"]
	if !ok {
		t.Fatal("expected title from markdown heading")
	}
	if notes.Collection != "general" {
		t.Errorf("expected root file in general collection, got %q", notes.Collection)
	}
	if notes.Source != "notes.md" {
		t.Errorf("unexpected source %q", notes.Source)
	}

	summary, ok := byTitle["summary"]
	if !ok {
		t.Fatal("expected title from file name when no heading")
	}
	if summary.Collection != "research" {
		t.Errorf("expected research collection, got %q", summary.Collection)
	}
}

func TestImportDirUpserts(t *testing.T) {
	m, _ := newTestManager(t)
	base := m.BasePath()

	path := filepath.Join(base, "notes.md")
	writeFile(t, path, "# Notes\n\nfirst version\n")

	if _, err := m.ImportDir(); err != nil {
		t.Fatalf("import: %v", err)
	}
	writeFile(t, path, "# Notes\n\nsecond version\n")
	if _, err := m.ImportDir(); err != nil {
		t.Fatalf("reimport: %v", err)
	}

	entries, err := m.List("")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after reimport, got %d", len(entries))
	}
	if entries[0].Content != "# Notes\n\nsecond version\n" {
		t.Errorf("expected updated content, got %q", entries[0].Content)
	}
}

func TestTitleFor(t *testing.T) {
	cases := []struct {
		rel     string
		content string
		want    string
	}{
		{"a.md", "# Heading\n\nbody", "Heading"},
		{"a.md", "\n\n# Late Heading\n", "Late Heading"},
		{"a.md", "plain text first\n# not this", "a"},
		{"dir/long-name.txt", "body only", "long-name"},
	}
	for _, tc := range cases {
		if got := titleFor(tc.rel, tc.content); got != tc.want {
			t.Errorf("titleFor(%q, %q) = %q, want %q", tc.rel, tc.content, got, tc.want)
		}
	}
}

func TestAddAndSearch(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.Add(&store.KnowledgeEntry{
		Title:   "Cache sizing",
		Content: "The cache holds roughly two million entries before eviction starts.",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	hits, err := m.Search("eviction", "", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Title != "Cache sizing" {
		t.Errorf("unexpected hit title %q", hits[0].Title)
	}
}

func TestAddValidates(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Add(&store.KnowledgeEntry{Content: "body"}); err == nil {
		t.Error("expected error for missing title")
	}
	if err := m.Add(&store.KnowledgeEntry{Title: "t"}); err == nil {
		t.Error("expected error for missing content")
	}
}

func TestCollections(t *testing.T) {
	m, _ := newTestManager(t)
	base := m.BasePath()

	writeFile(t, filepath.Join(base, "root.md"), "# Root\n")
	writeFile(t, filepath.Join(base, "research", "a.md"), "# A\n")
	writeFile(t, filepath.Join(base, "research", "b.md"), "# B\n")

	if _, err := m.ImportDir(); err != nil {
		t.Fatalf("import: %v", err)
	}

	cols, err := m.Collections()
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("expected 2 collections, got %v", cols)
	}
	if cols[0] != "general" || cols[1] != "research" {
		t.Errorf("unexpected collections %v", cols)
	}
}

func TestEnsureBase(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.EnsureBase(); err != nil {
		t.Fatalf("ensure base: %v", err)
	}

	readme := filepath.Join(m.BasePath(), "README.md")
	data, err := os.ReadFile(readme)
	if err != nil {
		t.Fatalf("read README: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected starter README content")
	}

	// A second call must not clobber edits.
	writeFile(t, readme, "custom")
	if err := m.EnsureBase(); err != nil {
		t.Fatalf("ensure base again: %v", err)
	}
	data, _ = os.ReadFile(readme)
	if string(data) != "custom" {
		t.Errorf("expected custom README preserved, got %q", data)
	}
}
