// Package config loads the .docweave.yaml project file.
//
// The file is optional: a missing file yields the defaults, so a bare
// directory with a docs/ folder and a glossary.json is a valid project.
// Any malformed or invalid value is a configuration error and aborts the
// run before a single document is touched.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/minios-linux/docweave/candidates"
	"github.com/minios-linux/docweave/chunker"
	"github.com/minios-linux/docweave/provider"
	"github.com/minios-linux/docweave/resilience"
)

// FileName is the project config file name.
const FileName = ".docweave.yaml"

// ModelEnv overrides the configured model when set.
const ModelEnv = "TRANSLATE_MODEL"

// ErrConfig marks every configuration failure.
var ErrConfig = errors.New("configuration error")

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// File is the top-level .docweave.yaml structure.
type File struct {
	SourceLang string `yaml:"source_lang,omitempty"`
	TargetLang string `yaml:"target_lang,omitempty"`

	// SourceDir holds the documents to translate, OutputDir receives them.
	SourceDir string `yaml:"source_dir,omitempty"`
	OutputDir string `yaml:"output_dir,omitempty"`

	Glossary   string `yaml:"glossary,omitempty"`
	Candidates string `yaml:"candidates,omitempty"`
	// Style and Cleanup are the instruction documents merged into the
	// system prompt. Either may be absent on disk.
	Style   string `yaml:"style,omitempty"`
	Cleanup string `yaml:"cleanup,omitempty"`

	Provider  string        `yaml:"provider,omitempty"`
	BaseURL   string        `yaml:"base_url,omitempty"`
	Model     string        `yaml:"model,omitempty"`
	Proxy     string        `yaml:"proxy,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	MaxTokens int           `yaml:"max_tokens,omitempty"`

	ChunkChars    int           `yaml:"chunk_chars,omitempty"`
	ChunkPause    time.Duration `yaml:"chunk_pause,omitempty"`
	DocumentPause time.Duration `yaml:"document_pause,omitempty"`

	// Budget caps the spend of one run in USD; 0 means no cap.
	Budget float64 `yaml:"budget,omitempty"`

	CandidatePolicy string `yaml:"candidate_policy,omitempty"`
	MetricsFile     string `yaml:"metrics_file,omitempty"`

	Retry resilience.Config `yaml:"retry,omitempty"`

	// root is the directory the file was loaded from; relative paths
	// resolve against it.
	root string
}

// Defaults returns the configuration used when no file exists.
func Defaults() *File {
	return &File{
		SourceLang:    "en",
		TargetLang:    "ru",
		SourceDir:     "docs",
		OutputDir:     "docs_ru",
		Glossary:      "glossary.json",
		Candidates:    candidates.DefaultFile,
		Style:         "TRANSLATE.md",
		Cleanup:       "HUMANIZER.md",
		Provider:      provider.ProviderAnthropic,
		Model:         provider.DefaultModel,
		Timeout:       10 * time.Minute,
		MaxTokens:     provider.DefaultMaxTokens,
		ChunkChars:    chunker.DefaultMaxChars,
		ChunkPause:    time.Second,
		DocumentPause: 2 * time.Second,
		Retry:         resilience.DefaultConfig(),
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads .docweave.yaml from rootDir, applies defaults and the
// environment override, and validates the result.
func Load(rootDir string) (*File, error) {
	cfg := Defaults()
	path := filepath.Join(rootDir, FileName)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfig, path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}

	if m := strings.TrimSpace(os.Getenv(ModelEnv)); m != "" {
		cfg.Model = m
	}

	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.root = abs

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// decode overlays the YAML document onto cfg. Unknown keys are rejected so
// that a typo never silently falls back to a default.
func decode(data []byte, cfg *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (f *File) Validate() error {
	var problems []string

	if strings.TrimSpace(f.SourceDir) == "" {
		problems = append(problems, "source_dir is empty")
	}
	if strings.TrimSpace(f.OutputDir) == "" {
		problems = append(problems, "output_dir is empty")
	}
	if f.SourceDir != "" && filepath.Clean(f.SourceDir) == filepath.Clean(f.OutputDir) {
		problems = append(problems, "output_dir must differ from source_dir")
	}
	if strings.TrimSpace(f.Glossary) == "" {
		problems = append(problems, "glossary is empty")
	}
	if strings.TrimSpace(f.Model) == "" {
		problems = append(problems, "model is empty")
	}
	if _, err := provider.Lookup(f.Provider); err != nil {
		problems = append(problems, err.Error())
	}
	if f.MaxTokens <= 0 {
		problems = append(problems, fmt.Sprintf("max_tokens must be positive, got %d", f.MaxTokens))
	}
	if f.ChunkChars <= 0 {
		problems = append(problems, fmt.Sprintf("chunk_chars must be positive, got %d", f.ChunkChars))
	}
	if f.ChunkPause < 0 || f.DocumentPause < 0 {
		problems = append(problems, "pauses must not be negative")
	}
	if f.Budget < 0 {
		problems = append(problems, fmt.Sprintf("budget must not be negative, got %g", f.Budget))
	}
	if f.Timeout < 0 {
		problems = append(problems, "timeout must not be negative")
	}
	if f.Retry.RetryMaxAttempts < 0 {
		problems = append(problems, "retry.max_attempts must not be negative")
	}
	switch strings.ToLower(f.CandidatePolicy) {
	case "", candidates.PolicyParenthetical, candidates.PolicyModel, candidates.PolicyNone:
	default:
		problems = append(problems, fmt.Sprintf("unknown candidate_policy %q (valid: %s, %s, %s)",
			f.CandidatePolicy, candidates.PolicyParenthetical, candidates.PolicyModel, candidates.PolicyNone))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Path resolution
// ---------------------------------------------------------------------------

// Root returns the project directory.
func (f *File) Root() string { return f.root }

// Resolve makes a project-relative path absolute.
func (f *File) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.root, p)
}

func (f *File) SourcePath() string     { return f.Resolve(f.SourceDir) }
func (f *File) OutputPath() string     { return f.Resolve(f.OutputDir) }
func (f *File) GlossaryPath() string   { return f.Resolve(f.Glossary) }
func (f *File) CandidatesPath() string { return f.Resolve(f.Candidates) }
func (f *File) StylePath() string      { return f.Resolve(f.Style) }
func (f *File) CleanupPath() string    { return f.Resolve(f.Cleanup) }

// MetricsPath returns the textfile export path, or "" when disabled.
func (f *File) MetricsPath() string { return f.Resolve(f.MetricsFile) }

// ProviderConfig merges the configured overrides into the built-in
// provider entry. The API key is left to the caller.
func (f *File) ProviderConfig() (provider.Provider, error) {
	p, err := provider.Lookup(f.Provider)
	if err != nil {
		return provider.Provider{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if f.BaseURL != "" {
		p.BaseURL = strings.TrimRight(f.BaseURL, "/")
	}
	if f.Model != "" {
		p.Model = f.Model
	}
	if f.Proxy != "" {
		p.Proxy = f.Proxy
	}
	if f.Timeout > 0 {
		p.Timeout = f.Timeout
	}
	return p, nil
}
