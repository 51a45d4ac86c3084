package entry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	moderr "github.com/lizzyg/qwenai/errors"
)

// Store persists entries. Implementations are safe for concurrent use and
// return copies, never shared state.
type Store interface {
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, id string) error
	// Update runs fn on the stored entry and saves the result as one step,
	// so concurrent edits of the same entry are not lost. An error from fn
	// leaves the entry unchanged.
	Update(ctx context.Context, id string, fn func(*Entry) error) (Entry, error)
}

// document is the on-disk layout.
type document struct {
	Version int     `yaml:"version"`
	Entries []Entry `yaml:"entries"`
}

const documentVersion = 1

// FileStore keeps all entries in one YAML file. The file holds API keys and
// is written with owner-only permissions.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

func (s *FileStore) Get(ctx context.Context, id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range doc.Entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", moderr.ErrEntryNotFound, id)
}

// Put inserts e or replaces the entry with the same id.
func (s *FileStore) Put(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.New("entry id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	replaced := false
	for i := range doc.Entries {
		if doc.Entries[i].ID == e.ID {
			doc.Entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Entries = append(doc.Entries, e)
	}
	return s.write(doc)
}

func (s *FileStore) Update(ctx context.Context, id string, fn func(*Entry) error) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return Entry{}, err
	}
	for i := range doc.Entries {
		if doc.Entries[i].ID != id {
			continue
		}
		e := doc.Entries[i]
		if err := fn(&e); err != nil {
			return Entry{}, err
		}
		e.ID = id
		doc.Entries[i] = e
		if err := s.write(doc); err != nil {
			return Entry{}, err
		}
		return e, nil
	}
	return Entry{}, fmt.Errorf("%w: %s", moderr.ErrEntryNotFound, id)
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	for i := range doc.Entries {
		if doc.Entries[i].ID == id {
			doc.Entries = append(doc.Entries[:i], doc.Entries[i+1:]...)
			return s.write(doc)
		}
	}
	return fmt.Errorf("%w: %s", moderr.ErrEntryNotFound, id)
}

// read loads the document; a missing file is an empty store.
func (s *FileStore) read() (document, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return document{Version: documentVersion}, nil
	}
	if err != nil {
		return document{}, fmt.Errorf("read entry store: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return document{}, fmt.Errorf("parse entry store %s: %w", s.path, err)
	}
	if doc.Version > documentVersion {
		return document{}, fmt.Errorf("entry store %s has unsupported version %d", s.path, doc.Version)
	}
	return doc, nil
}

// write replaces the file atomically via a temp file in the same directory.
func (s *FileStore) write(doc document) error {
	doc.Version = documentVersion
	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode entry store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".entries-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// MemoryStore is a Store backed by a map, for tests and embedding.
type MemoryStore struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Entry
}

func NewMemoryStore(entries ...Entry) *MemoryStore {
	s := &MemoryStore{entries: map[string]Entry{}}
	for _, e := range entries {
		_ = s.Put(context.Background(), e)
	}
	return s
}

func (s *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", moderr.ErrEntryNotFound, id)
	}
	return e.Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.New("entry id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.entries[e.ID] = e.Clone()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*Entry) error) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", moderr.ErrEntryNotFound, id)
	}
	e := cur.Clone()
	if err := fn(&e); err != nil {
		return Entry{}, err
	}
	e.ID = id
	s.entries[id] = e.Clone()
	return e, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("%w: %s", moderr.ErrEntryNotFound, id)
	}
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
