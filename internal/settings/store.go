// Package settings is a small persisted key-value store for configuration
// blobs (user registry, source credentials, email settings).
package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/Afrawles/activityreport/internal/apperr"
)

const (
	KeyUsers    = "users"
	KeyTestRail = "testrail"
	KeyJira     = "jira"
	KeyEmail    = "email"
)

type Store interface {
	// Get decodes the value stored under key into out. found is false when
	// the key is absent; out is left untouched in that case.
	Get(ctx context.Context, key string, out any) (found bool, err error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// FileStore keeps all keys in a single YAML document on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(ctx context.Context, key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	node, ok := doc[key]
	if !ok {
		return false, nil
	}
	if err := node.Decode(out); err != nil {
		return false, goerr.Wrap(err, "failed to decode setting", goerr.V("key", key), goerr.T(apperr.TagValidation))
	}
	return true, nil
}

func (s *FileStore) Set(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := node.Encode(value); err != nil {
		return goerr.Wrap(err, "failed to encode setting", goerr.V("key", key))
	}
	doc[key] = node
	return s.save(doc)
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return s.save(doc)
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(map[string]yaml.Node{})
}

func (s *FileStore) load() (map[string]yaml.Node, error) {
	doc := map[string]yaml.Node{}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read settings file", goerr.V("path", s.path), goerr.T(apperr.TagFileSystem))
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse settings file", goerr.V("path", s.path), goerr.T(apperr.TagValidation))
	}
	return doc, nil
}

func (s *FileStore) save(doc map[string]yaml.Node) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return goerr.Wrap(err, "failed to encode settings file")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create settings directory", goerr.V("dir", dir), goerr.T(apperr.TagFileSystem))
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp settings file", goerr.T(apperr.TagFileSystem))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write settings file", goerr.T(apperr.TagFileSystem))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close settings file", goerr.T(apperr.TagFileSystem))
	}
	// credentials live in this file
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return goerr.Wrap(err, "failed to set settings file mode", goerr.T(apperr.TagFileSystem))
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return goerr.Wrap(err, "failed to replace settings file", goerr.V("path", s.path), goerr.T(apperr.TagFileSystem))
	}
	return nil
}
