// Package dictionary builds the semantic dictionary: a catalogue of domain
// components extracted from document chunks by a language model, each backed
// by evidence that cites where in a document it was observed.
package dictionary

import (
	"errors"
	"fmt"
	"time"
)

// Source languages accepted on evidence items.
const (
	LanguageVI = "vi"
	LanguageEN = "en"
)

// AliasSource records who produced an alias.
type AliasSource string

const (
	AliasSourceLLM   AliasSource = "llm"
	AliasSourceHuman AliasSource = "human"
)

// Rebuild result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrNoChunks is returned when the chunk source has nothing for a document.
var ErrNoChunks = errors.New("no chunks found")

// ErrNotFound is returned by readers when a component does not exist.
var ErrNotFound = errors.New("not found")

// Chunk is one unit of document text handed out by the chunk source.
type Chunk struct {
	Content     string
	DocID       string
	SectionPath string
}

// EvidenceItem cites one observation of a component in a document.
type EvidenceItem struct {
	EvidenceText    string  `json:"evidence_text_vi"`
	DocID           string  `json:"doc_id"`
	SectionPath     string  `json:"section_path"`
	SourceLanguage  string  `json:"source_language"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Candidate is a component as returned by the model for a single chunk.
type Candidate struct {
	DisplayName string
	Aliases     []string
	Evidence    []EvidenceItem
}

// NormalizedComponent is a cleaned candidate with its canonical key.
type NormalizedComponent struct {
	Key         string
	DisplayName string
	Aliases     []string
	Evidence    []EvidenceItem
}

// Alias is an alternate component name queued for persistence.
type Alias struct {
	Text   string      `json:"alias_vi"`
	Source AliasSource `json:"source"`
}

// ComponentRecord is a persisted component row.
type ComponentRecord struct {
	Key         string    `json:"component_key"`
	DisplayName string    `json:"display_name_vi"`
	Aliases     []string  `json:"aliases_vi"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReferenceRecord is a persisted evidence row.
type ReferenceRecord struct {
	ID           int64     `json:"id"`
	ComponentKey string    `json:"component_key"`
	EvidenceItem
	CreatedAt time.Time `json:"created_at"`
}

// RebuildResult is reported for every rebuild, successful or not.
type RebuildResult struct {
	Status       string `json:"status"`
	DocID        string `json:"doc_id"`
	Message      string `json:"message,omitempty"`
	RunID        string `json:"run_id"`
	Chunks       int    `json:"chunks"`
	FailedChunks int    `json:"failed_chunks"`
	Components   int    `json:"components"`
	Aliases      int    `json:"aliases"`
	References   int    `json:"references"`
}

// Rebuild stages reported on RebuildError.
const (
	StageValidate        = "validate"
	StageLock            = "lock"
	StageLoadChunks      = "load_chunks"
	StagePurgeReferences = "purge_references"
	StageCancelled       = "cancelled"
	StagePersist         = "persist"
)

// RebuildError describes a rebuild that stopped before completing.
type RebuildError struct {
	DocID string
	Stage string
	Err   error
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("rebuild %s: %s: %v", e.DocID, e.Stage, e.Err)
}

func (e *RebuildError) Unwrap() error { return e.Err }
