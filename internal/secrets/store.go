// Package secrets implements the per-component secret store: a flat
// string-to-string YAML file per component, with an mtime-validated cache
// and fine-grained per-component locking so concurrent access to different
// components never contends.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
)

var keyPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// ErrInvalidKey is returned when a key does not match the environment-
// variable-shaped pattern the store requires.
var ErrInvalidKey = fmt.Errorf("secret key must match %s", keyPattern.String())

type cacheEntry struct {
	mtime  time.Time
	values map[string]string
}

// Store is a process-wide, mtime-cached secret store rooted at a single
// directory.
type Store struct {
	dir string

	mu     sync.Mutex // guards locks and cache map access
	locks  map[string]*sync.Mutex
	cache  map[string]cacheEntry
}

// New creates a Store rooted at dir. The directory is created lazily on
// first write.
func New(dir string) *Store {
	return &Store{
		dir:   dir,
		locks: map[string]*sync.Mutex{},
		cache: map[string]cacheEntry{},
	}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

// load reads the component's secret file if its mtime has changed since the
// last read, otherwise returns the cached contents. Must be called with the
// per-component lock held.
func (s *Store) load(id string) (map[string]string, error) {
	path := s.path(id)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		delete(s.cache, id)
		s.mu.Unlock()
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat secret file %s: %w", path, err)
	}

	s.mu.Lock()
	cached, ok := s.cache[id]
	s.mu.Unlock()
	if ok && cached.mtime.Equal(info.ModTime()) {
		return cached.values, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secret file %s: %w", path, err)
	}
	values := map[string]string{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parse secret file %s: %w", path, err)
		}
	}

	s.mu.Lock()
	s.cache[id] = cacheEntry{mtime: info.ModTime(), values: values}
	s.mu.Unlock()
	return values, nil
}

func (s *Store) save(id string, values map[string]string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create secrets dir: %w", err)
	}
	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	path := s.path(id)
	tmp, err := os.CreateTemp(s.dir, ".secret-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("create temp secret file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp secret file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp secret file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("chmod temp secret file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename secret file into place: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat secret file after write: %w", err)
	}
	s.mu.Lock()
	s.cache[id] = cacheEntry{mtime: info.ModTime(), values: values}
	s.mu.Unlock()
	return nil
}

// List returns a copy of every key/value pair stored for id. A component
// with no secret file returns an empty map, not an error.
func (s *Store) List(id string) (map[string]string, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	values, err := s.load(id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

// Get returns the value for key, or ok=false if it isn't set.
func (s *Store) Get(id, key string) (value string, ok bool, err error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	values, err := s.load(id)
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set stores key=value for component id, creating the file if needed.
func (s *Store) Set(id, key, value string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	values, err := s.load(id)
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(id, values)
}

// Delete removes key from component id's secrets. Deleting an unset key is
// not an error.
func (s *Store) Delete(id, key string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	values, err := s.load(id)
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(id, values)
}

// DeleteAll removes every secret recorded for id, including the file itself.
func (s *Store) DeleteAll(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove secret file %s: %w", path, err)
	}
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	return nil
}
