// Package lockfile implements .docweave/docweave.lock, a record of the
// source checksum, model and prompt fingerprint every output document was
// produced from.
//
// The skip gate only checks whether an output exists. The lock file lets a
// run point out skipped outputs whose source changed since they were
// translated, so the user can decide to rerun them with --force.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/minios-linux/docweave/atomicfile"
)

// Dir is the project state directory, shared with the batch job store.
const Dir = ".docweave"

// FileName is the lock file name inside Dir.
const FileName = "docweave.lock"

// Version is the lock file format version.
const Version = 1

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Entry describes how one output was produced.
type Entry struct {
	// Source is the checksum of the source file bytes.
	Source      string    `yaml:"source"`
	Model       string    `yaml:"model,omitempty"`
	Fingerprint string    `yaml:"fingerprint,omitempty"`
	Translated  time.Time `yaml:"translated"`
	// Batch is the batch job id for outputs collected from a batch.
	Batch string `yaml:"batch,omitempty"`
}

// LockFile maps document ids to their entries. A nil *LockFile is valid
// and records nothing.
type LockFile struct {
	Version   int              `yaml:"version"`
	Documents map[string]Entry `yaml:"documents"`

	mu    sync.Mutex `yaml:"-"`
	path  string     `yaml:"-"`
	dirty bool       `yaml:"-"`
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads the lock file under root.
// Returns an empty lock file if the file doesn't exist.
func Load(root string) (*LockFile, error) {
	path := filepath.Join(root, Dir, FileName)
	lf := &LockFile{
		Version:   Version,
		Documents: make(map[string]Entry),
		path:      path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lf, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, lf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	lf.path = path
	if lf.Documents == nil {
		lf.Documents = make(map[string]Entry)
	}
	return lf, nil
}

// Save writes the lock file when it changed since loading.
func (lf *LockFile) Save() error {
	if lf == nil {
		return nil
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if !lf.dirty {
		return nil
	}
	if lf.path == "" {
		return fmt.Errorf("lock file path not set")
	}

	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshaling lock file: %w", err)
	}
	if err := atomicfile.Write(lf.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", lf.path, err)
	}
	lf.dirty = false
	return nil
}

// Path returns the lock file path.
func (lf *LockFile) Path() string {
	if lf == nil {
		return ""
	}
	return lf.path
}

// ---------------------------------------------------------------------------
// Checksums
// ---------------------------------------------------------------------------

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile hashes the raw bytes of a source file.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Hash(data), nil
}

// Record stores the entry of a freshly written output.
func (lf *LockFile) Record(doc string, e Entry) {
	if lf == nil || e.Source == "" {
		return
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if e.Translated.IsZero() {
		e.Translated = time.Now().UTC()
	}
	lf.Documents[doc] = e
	lf.dirty = true
}

// Get returns the entry of doc.
func (lf *LockFile) Get(doc string) (Entry, bool) {
	if lf == nil {
		return Entry{}, false
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()

	e, ok := lf.Documents[doc]
	return e, ok
}

// Changed reports whether doc was recorded with a different source
// checksum. Unrecorded documents are not considered changed: their output
// predates the lock file or was produced elsewhere.
func (lf *LockFile) Changed(doc, sum string) bool {
	e, ok := lf.Get(doc)
	return ok && e.Source != sum
}

// Clean drops entries of documents not in current and returns how many
// were removed.
func (lf *LockFile) Clean(current []string) int {
	if lf == nil {
		return 0
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()

	keep := make(map[string]bool, len(current))
	for _, d := range current {
		keep[d] = true
	}
	removed := 0
	for d := range lf.Documents {
		if !keep[d] {
			delete(lf.Documents, d)
			removed++
		}
	}
	if removed > 0 {
		lf.dirty = true
	}
	return removed
}

// Names returns the recorded document ids in sorted order.
func (lf *LockFile) Names() []string {
	if lf == nil {
		return nil
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()

	names := make([]string, 0, len(lf.Documents))
	for d := range lf.Documents {
		names = append(names, d)
	}
	sort.Strings(names)
	return names
}
