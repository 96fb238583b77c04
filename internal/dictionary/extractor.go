package dictionary

import (
	"context"
	"log"
	"strings"
	"time"
)

// Generator is the language-model capability the extractor depends on.
type Generator interface {
	Generate(ctx context.Context, prompt, system string, temperature float64) (string, error)
}

// ExtractorOptions tunes an Extractor.
type ExtractorOptions struct {
	// Instruction overrides ExtractionInstruction.
	Instruction string
	Temperature float64
	// Timeout bounds a single model call. Zero means no extra deadline.
	Timeout time.Duration
	Logger  *log.Logger
	Metrics *Metrics
}

// Extraction is the outcome of one chunk. Err is informational: a failed
// call or an unparsable response simply yields no candidates.
type Extraction struct {
	Candidates []Candidate
	Stage      DecodeStage
	Err        error
}

// Extractor asks the model for the components of a single chunk.
type Extractor struct {
	llm         Generator
	instruction string
	temperature float64
	timeout     time.Duration
	logger      *log.Logger
	metrics     *Metrics
}

// NewExtractor builds an extractor around a generator.
func NewExtractor(llm Generator, opts ExtractorOptions) *Extractor {
	if opts.Instruction == "" {
		opts.Instruction = ExtractionInstruction
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[DICTIONARY] ", log.LstdFlags)
	}
	return &Extractor{
		llm:         llm,
		instruction: opts.Instruction,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Extract makes exactly one model call for the chunk and returns the decoded
// candidates with chunk provenance filled into their evidence.
func (e *Extractor) Extract(ctx context.Context, chunk Chunk) Extraction {
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	text, err := e.llm.Generate(callCtx, BuildChunkPrompt(chunk), e.instruction, e.temperature)
	if err != nil {
		e.logger.Printf("warn: extract doc=%s section=%q: %v", chunk.DocID, chunk.SectionPath, err)
		e.metrics.observeExtraction("call_failed")
		return Extraction{Stage: DecodeNone, Err: err}
	}

	candidates, stage := DecodeComponents(text)
	if stage == DecodeNone {
		e.logger.Printf("warn: extract doc=%s section=%q: unparsable response (%d bytes)", chunk.DocID, chunk.SectionPath, len(text))
	}
	e.metrics.observeExtraction(string(stage))

	for i := range candidates {
		for j := range candidates[i].Evidence {
			applyEvidenceDefaults(&candidates[i].Evidence[j], chunk)
		}
	}
	return Extraction{Candidates: candidates, Stage: stage}
}

// applyEvidenceDefaults pins the evidence to the enclosing chunk's document
// and fills section, language and confidence where the model left them out.
func applyEvidenceDefaults(ev *EvidenceItem, chunk Chunk) {
	ev.DocID = chunk.DocID
	if strings.TrimSpace(ev.SectionPath) == "" {
		ev.SectionPath = chunk.SectionPath
	}
	switch lang := strings.ToLower(strings.TrimSpace(ev.SourceLanguage)); lang {
	case LanguageVI, LanguageEN:
		ev.SourceLanguage = lang
	default:
		ev.SourceLanguage = LanguageVI
	}
}
