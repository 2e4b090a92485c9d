package batchjob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/minios-linux/docweave/atomicfile"
)

// StoreDir is the state directory under the project root.
const StoreDir = ".docweave"

// StoreFileName is the job store file name.
const StoreFileName = "batches.yaml"

// Version is the store format version.
const Version = 1

// Store persists batch jobs as YAML. Every Save replaces the file
// atomically, so an interrupted process never leaves a torn store.
type Store struct {
	Version int    `yaml:"version"`
	Jobs    []*Job `yaml:"jobs"`

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// Load reads the store under root. Returns an empty store if the file
// doesn't exist.
func Load(root string) (*Store, error) {
	path := filepath.Join(root, StoreDir, StoreFileName)
	s := &Store{Version: Version, path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	s.path = path
	if s.Version == 0 {
		s.Version = Version
	}
	return s, nil
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes the store to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return fmt.Errorf("batch store path not set")
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling batch store: %w", err)
	}
	if err := atomicfile.Write(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

// Get returns a copy of the job with id.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.Jobs {
		if j.ID == id {
			return j.clone(), true
		}
	}
	return Job{}, false
}

// Put inserts or replaces a job.
func (s *Store) Put(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := job.clone()
	for i, j := range s.Jobs {
		if j.ID == job.ID {
			s.Jobs[i] = &stored
			return
		}
	}
	s.Jobs = append(s.Jobs, &stored)
}

// List returns copies of all jobs, newest submission first.
func (s *Store) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.Jobs))
	for _, j := range s.Jobs {
		out = append(out, j.clone())
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].SubmittedAt.After(out[k].SubmittedAt) })
	return out
}
