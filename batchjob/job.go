// Package batchjob tracks asynchronous batch translation jobs across process
// invocations: submission records, status polling, result
// demultiplexing and document reassembly.
package batchjob

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/minios-linux/docweave/provider"
)

var (
	// ErrJobNotFound is returned when polling an id with no record.
	ErrJobNotFound = errors.New("batch job not found")
	// ErrBatchJob marks a service failure while polling or collecting a job.
	ErrBatchJob = errors.New("batch job error")
	// ErrInvalidTransition is returned for a state change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid batch job transition")
)

// State is the lifecycle state of a batch job.
type State string

const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateExpired   State = "expired"
)

// Terminal reports whether the state can never change again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateExpired
}

var transitions = map[State][]State{
	StateSubmitted: {StatePolling, StateCompleted, StateFailed, StateExpired},
	StatePolling:   {StateCompleted, StateFailed, StateExpired},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// ChunkRecord correlates one batched request with its chunk.
type ChunkRecord struct {
	// Tag is the request custom_id; empty for chunks with nothing to
	// translate, which are copied through.
	Tag   string `yaml:"tag,omitempty"`
	Index int    `yaml:"index"`
	Lead  string `yaml:"lead,omitempty"`
	Trail string `yaml:"trail,omitempty"`
}

// MarshalYAML writes Lead and Trail double-quoted. Whitespace-only
// strings in block style do not survive a reload.
func (c ChunkRecord) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value *yaml.Node) {
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
	}
	quoted := func(v string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v, Style: yaml.DoubleQuotedStyle}
	}
	if c.Tag != "" {
		add("tag", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: c.Tag})
	}
	add("index", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(c.Index)})
	if c.Lead != "" {
		add("lead", quoted(c.Lead))
	}
	if c.Trail != "" {
		add("trail", quoted(c.Trail))
	}
	return n, nil
}

// DocumentRecord holds everything needed to rebuild one document.
type DocumentRecord struct {
	ID     string `yaml:"id"`
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	// Checksum is the source checksum at submission time.
	Checksum string        `yaml:"checksum,omitempty"`
	Chunks   []ChunkRecord `yaml:"chunks"`
}

// Document outcome statuses.
const (
	OutcomeWritten = "written"
	OutcomeFailed  = "failed"
)

// Outcome is the final disposition of one document.
type Outcome struct {
	Document string `yaml:"document"`
	Target   string `yaml:"target,omitempty"`
	Status   string `yaml:"status"`
	Error    string `yaml:"error,omitempty"`
}

// Job is a persisted batch submission.
type Job struct {
	ID          string    `yaml:"id"`
	RunID       string    `yaml:"run_id"`
	Provider    string    `yaml:"provider"`
	Model       string    `yaml:"model"`
	Fingerprint string    `yaml:"fingerprint,omitempty"`
	State       State     `yaml:"state"`
	SubmittedAt time.Time `yaml:"submitted_at"`
	UpdatedAt   time.Time `yaml:"updated_at"`
	EndedAt     time.Time `yaml:"ended_at,omitempty"`
	ExpiresAt   time.Time `yaml:"expires_at,omitempty"`
	Requests    int       `yaml:"requests"`

	Counts       provider.RequestCounts `yaml:"counts"`
	InputTokens  int                    `yaml:"input_tokens,omitempty"`
	OutputTokens int                    `yaml:"output_tokens,omitempty"`

	// Documents is the correlation table; pruned once the job is terminal.
	Documents []DocumentRecord `yaml:"documents,omitempty"`
	Outcomes  []Outcome        `yaml:"outcomes,omitempty"`
}

// Transition moves the job to state to, stamping the time.
func (j *Job) Transition(to State, now time.Time) error {
	if j.State == to {
		return nil
	}
	if !CanTransition(j.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, to)
	}
	j.State = to
	j.UpdatedAt = now
	if to.Terminal() {
		j.EndedAt = now
	}
	return nil
}

// Tag builds the request tag of chunk index of document doc.
func Tag(doc, index int) string {
	return fmt.Sprintf("d%03d_c%03d", doc, index)
}

// clone returns a deep copy safe to hand out of the store.
func (j *Job) clone() Job {
	out := *j
	out.Documents = make([]DocumentRecord, len(j.Documents))
	for i, d := range j.Documents {
		d.Chunks = append([]ChunkRecord(nil), d.Chunks...)
		out.Documents[i] = d
	}
	out.Outcomes = append([]Outcome(nil), j.Outcomes...)
	if len(out.Documents) == 0 {
		out.Documents = nil
	}
	return out
}
