// Package settings keeps the API keys docweave uses to reach translation
// services.
//
// Keys are stored per user, outside any project, in
//
//	$XDG_DATA_HOME/docweave/auth.json  (default: ~/.local/share/docweave/)
//
// as a JSON object keyed by provider id, readable by the owner only:
//
//	{"anthropic": {"key": "sk-ant-..."}}
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minios-linux/docweave/atomicfile"
)

const (
	dirName  = "docweave"
	fileName = "auth.json"
)

// Environment variables consulted by Resolve.
const (
	EnvAPIKey          = "DOCWEAVE_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
)

// Credential is what is kept for one provider.
type Credential struct {
	Key string `json:"key"`
	// BaseURL is set for self-hosted OpenAI-compatible endpoints.
	BaseURL string `json:"base_url,omitempty"`
}

// Keyring is the on-disk credential file. Every mutation is written
// through immediately.
type Keyring struct {
	path  string
	creds map[string]Credential
}

// Path returns the location of the credential file.
func Path() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locating home directory: %w", err)
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, dirName, fileName), nil
}

// Open reads the credential file. A missing file is an empty keyring.
func Open() (*Keyring, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	k := &Keyring{path: path, creds: make(map[string]Credential)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return k, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &k.creds); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if k.creds == nil {
		k.creds = make(map[string]Credential)
	}
	return k, nil
}

// Path returns the file backing k.
func (k *Keyring) Path() string { return k.path }

// Lookup returns the credential stored for providerID.
func (k *Keyring) Lookup(providerID string) (Credential, bool) {
	c, ok := k.creds[providerID]
	return c, ok && c.Key != ""
}

// Providers lists the provider ids with a stored key, sorted.
func (k *Keyring) Providers() []string {
	ids := make([]string, 0, len(k.creds))
	for id, c := range k.creds {
		if c.Key != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Put stores c for providerID, replacing any previous credential.
func (k *Keyring) Put(providerID string, c Credential) error {
	k.creds[providerID] = c
	return k.flush()
}

// Delete forgets providerID. Deleting an unknown provider is a no-op.
func (k *Keyring) Delete(providerID string) error {
	if _, ok := k.creds[providerID]; !ok {
		return nil
	}
	delete(k.creds, providerID)
	return k.flush()
}

// Clear forgets every credential and removes the file.
func (k *Keyring) Clear() error {
	k.creds = make(map[string]Credential)
	if err := os.Remove(k.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", k.path, err)
	}
	return nil
}

func (k *Keyring) flush() error {
	data, err := json.MarshalIndent(k.creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(k.path), err)
	}
	if err := atomicfile.Write(k.path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", k.path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// Source names where a resolved key came from.
type Source string

const (
	SourceNone  Source = ""
	SourceFlag  Source = "flag"
	SourceEnv   Source = "env"
	SourceStore Source = "store"
)

// Resolve picks the API key for providerID: the --api-key value, then
// DOCWEAVE_API_KEY, then ANTHROPIC_API_KEY for the anthropic provider, then
// the keyring. k may be nil.
func Resolve(k *Keyring, providerID, flagKey string) (string, Source) {
	if v := strings.TrimSpace(flagKey); v != "" {
		return v, SourceFlag
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		return v, SourceEnv
	}
	if providerID == "anthropic" {
		if v := strings.TrimSpace(os.Getenv(EnvAnthropicAPIKey)); v != "" {
			return v, SourceEnv
		}
	}
	if k != nil {
		if c, ok := k.Lookup(providerID); ok {
			return c.Key, SourceStore
		}
	}
	return "", SourceNone
}

// Mask hides all but the edges of a key for display.
func Mask(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
