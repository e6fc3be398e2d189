// Package knowledge manages the on-disk knowledge base: a folder of
// markdown and text files imported into the store's indexed knowledge
// table. The folder is the operator surface, the store is what agents
// search.
package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
)

const defaultCollection = "general"

type Manager struct {
	store    *store.Store
	basePath string
}

func NewManager(s *store.Store, cfg config.KnowledgeConfig) *Manager {
	return &Manager{
		store:    s,
		basePath: cfg.BasePath,
	}
}

func (m *Manager) BasePath() string {
	return m.basePath
}

// EnsureBase creates the knowledge directory with a starter README.
func (m *Manager) EnsureBase() error {
	if err := os.MkdirAll(m.basePath, 0o755); err != nil {
		return fmt.Errorf("create knowledge dir: %w", err)
	}

	readme := filepath.Join(m.basePath, "README.md")
	if _, err := os.Stat(readme); os.IsNotExist(err) {
		content := "# Knowledge Base\n\nDrop .md or .txt files here. Subdirectories become collections.\n"
		if err := os.WriteFile(readme, []byte(content), 0o644); err != nil {
			return fmt.Errorf("create knowledge README: %w", err)
		}
	}
	return nil
}

// ImportDir walks the knowledge directory and upserts every .md and .txt
// file. The first path segment names the collection; files at the root go
// to the general collection. Returns the number of imported files.
func (m *Manager) ImportDir() (int, error) {
	count := 0
	err := filepath.WalkDir(m.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != m.basePath {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		rel, err := filepath.Rel(m.basePath, path)
		if err != nil {
			return err
		}
		if err := m.importFile(path, rel); err != nil {
			return fmt.Errorf("import %s: %w", rel, err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	return count, nil
}

func (m *Manager) importFile(path, rel string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	collection := defaultCollection
	if dir := filepath.Dir(rel); dir != "." {
		collection = strings.Split(filepath.ToSlash(dir), "/")[0]
	}

	content := string(data)
	title := titleFor(rel, content)

	return m.store.SaveKnowledge(&store.KnowledgeEntry{
		// IDs derive from the relative path so re-imports update in place.
		ID:         fileID(rel),
		Collection: collection,
		Title:      title,
		Content:    content,
		Source:     filepath.ToSlash(rel),
	})
}

// titleFor prefers a leading markdown heading, falling back to the file
// name without its extension.
func titleFor(rel, content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if after, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(after)
		}
		break
	}
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func fileID(rel string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(rel)))
	return "kb-" + hex.EncodeToString(sum[:8])
}

// Add stores one entry directly, without a backing file.
func (m *Manager) Add(e *store.KnowledgeEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Collection == "" {
		e.Collection = defaultCollection
	}
	if e.Title == "" {
		return fmt.Errorf("knowledge entry needs a title")
	}
	if e.Content == "" {
		return fmt.Errorf("knowledge entry needs content")
	}
	return m.store.SaveKnowledge(e)
}

func (m *Manager) Get(id string) (*store.KnowledgeEntry, error) {
	return m.store.GetKnowledge(id)
}

func (m *Manager) List(collection string) ([]store.KnowledgeEntry, error) {
	return m.store.ListKnowledge(collection)
}

func (m *Manager) Delete(id string) error {
	return m.store.DeleteKnowledge(id)
}

func (m *Manager) Search(query, collection string, limit int) ([]store.KnowledgeHit, error) {
	return m.store.SearchKnowledge(query, collection, limit)
}

// Collections lists the distinct collection names in listing order.
func (m *Manager) Collections() ([]string, error) {
	entries, err := m.store.ListKnowledge("")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, e := range entries {
		if !seen[e.Collection] {
			seen[e.Collection] = true
			out = append(out, e.Collection)
		}
	}
	return out, nil
}
