package dictionary

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultReferenceBatchSize keeps reference inserts under store request limits.
const DefaultReferenceBatchSize = 100

// ChunkSource returns the ordered chunks of the requested documents.
type ChunkSource interface {
	LoadChunks(ctx context.Context, docIDs []string) ([]Chunk, error)
}

// Store persists the dictionary.
type Store interface {
	UpsertComponent(ctx context.Context, key, displayName string, aliases []string) (ComponentRecord, error)
	InsertAliases(ctx context.Context, key string, aliases []Alias) (int, error)
	InsertReferences(ctx context.Context, key string, refs []EvidenceItem) (int, error)
	DeleteReferencesByDoc(ctx context.Context, docID string) error
}

// Locker serializes rebuilds of the same document. Lock blocks until the
// key is held or ctx is done and returns the release function.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LeaseLocker is a Locker whose hold can lapse before release, such as a
// lease that expired or was taken over. The returned context derives from ctx
// and is cancelled, with the loss as its cause, when the hold is lost.
type LeaseLocker interface {
	LockLease(ctx context.Context, key string) (context.Context, func(), error)
}

// BuilderOptions tunes a Builder.
type BuilderOptions struct {
	// Workers bounds concurrent chunk extractions. Values below 1 mean 1.
	Workers int
	// ReferenceBatchSize bounds references per insert call.
	ReferenceBatchSize int
	// StoreTimeout bounds each store call. Zero means no extra deadline.
	StoreTimeout time.Duration
	KeyFunc      KeyFunc
	Locker       Locker
	Logger       *log.Logger
	Metrics      *Metrics
	// Tracer defaults to the global provider's "dictionary" tracer.
	Tracer trace.Tracer
}

// Builder rebuilds one document's contribution to the dictionary.
type Builder struct {
	chunks    ChunkSource
	extractor *Extractor
	store     Store
	opts      BuilderOptions
	logger    *log.Logger
	tracer    trace.Tracer
}

// NewBuilder wires a builder.
func NewBuilder(chunks ChunkSource, extractor *Extractor, st Store, opts BuilderOptions) (*Builder, error) {
	if chunks == nil {
		return nil, errors.New("dictionary builder requires a chunk source")
	}
	if extractor == nil {
		return nil, errors.New("dictionary builder requires an extractor")
	}
	if st == nil {
		return nil, errors.New("dictionary builder requires a store")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ReferenceBatchSize <= 0 || opts.ReferenceBatchSize > DefaultReferenceBatchSize {
		opts.ReferenceBatchSize = DefaultReferenceBatchSize
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = DeriveKey
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[DICTIONARY] ", log.LstdFlags)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("dictionary")
	}
	return &Builder{
		chunks:    chunks,
		extractor: extractor,
		store:     st,
		opts:      opts,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
	}, nil
}

// Rebuild replaces the references of docID with freshly extracted ones and
// upserts the components they cite. The returned result is always populated;
// err is non-nil whenever Status is StatusError.
//
// There is no rollback: a store failure after the purge leaves the document's
// references partially rewritten and the caller should run the rebuild again.
func (b *Builder) Rebuild(ctx context.Context, docID string) (RebuildResult, error) {
	started := time.Now()
	res := RebuildResult{DocID: docID, RunID: uuid.NewString()}

	ctx, span := b.tracer.Start(ctx, "dictionary.rebuild", trace.WithAttributes(
		attribute.String("doc_id", docID),
		attribute.String("run_id", res.RunID),
	))
	defer span.End()

	fail := func(stage string, err error) (RebuildResult, error) {
		rerr := &RebuildError{DocID: docID, Stage: stage, Err: err}
		span.RecordError(rerr)
		span.SetStatus(codes.Error, stage)
		res.Status = StatusError
		res.Message = rerr.Error()
		b.opts.Metrics.observeRebuild(StatusError, res.References, time.Since(started))
		b.logger.Printf("rebuild %s run=%s failed at %s: %v", docID, res.RunID, stage, err)
		return res, rerr
	}

	if strings.TrimSpace(docID) == "" {
		return fail(StageValidate, errors.New("doc_id required"))
	}

	if b.opts.Locker != nil {
		var unlock func()
		var err error
		if lease, ok := b.opts.Locker.(LeaseLocker); ok {
			// Work stops as cancelled if the lease lapses mid-rebuild.
			ctx, unlock, err = lease.LockLease(ctx, docID)
		} else {
			unlock, err = b.opts.Locker.Lock(ctx, docID)
		}
		if err != nil {
			return fail(StageLock, err)
		}
		defer unlock()
	}

	var chunks []Chunk
	err := b.withStoreTimeout(ctx, func(ctx context.Context) error {
		var err error
		chunks, err = b.chunks.LoadChunks(ctx, []string{docID})
		return err
	})
	if err != nil {
		return fail(StageLoadChunks, err)
	}
	if len(chunks) == 0 {
		return fail(StageLoadChunks, fmt.Errorf("%w for doc_id=%s", ErrNoChunks, docID))
	}
	res.Chunks = len(chunks)
	b.logger.Printf("rebuild %s run=%s loaded %d chunks", docID, res.RunID, len(chunks))

	if err := b.withStoreTimeout(ctx, func(ctx context.Context) error {
		return b.store.DeleteReferencesByDoc(ctx, docID)
	}); err != nil {
		return fail(StagePurgeReferences, err)
	}

	acc, failed, err := b.extractAll(ctx, chunks)
	res.FailedChunks = failed
	if err != nil {
		return fail(StageCancelled, err)
	}

	if err := b.persist(ctx, acc, &res); err != nil {
		if ctx.Err() != nil {
			return fail(StageCancelled, context.Cause(ctx))
		}
		return fail(StagePersist, err)
	}

	res.Status = StatusSuccess
	span.SetAttributes(
		attribute.Int("chunks", res.Chunks),
		attribute.Int("failed_chunks", res.FailedChunks),
		attribute.Int("components", res.Components),
		attribute.Int("references", res.References),
	)
	b.opts.Metrics.observeRebuild(StatusSuccess, res.References, time.Since(started))
	b.logger.Printf("rebuild %s run=%s done: components=%d aliases=%d references=%d failed_chunks=%d in %s",
		docID, res.RunID, res.Components, res.Aliases, res.References, res.FailedChunks, time.Since(started).Round(time.Millisecond))
	return res, nil
}

// extractAll runs the extractor over every chunk with at most Workers calls
// in flight, then folds the results in chunk order so the first-seen display
// name does not depend on scheduling.
func (b *Builder) extractAll(ctx context.Context, chunks []Chunk) (*Accumulator, int, error) {
	perChunk := make([][]NormalizedComponent, len(chunks))
	failed := make([]bool, len(chunks))

	var g errgroup.Group
	g.SetLimit(b.opts.Workers)
	for i, ch := range chunks {
		if ctx.Err() != nil {
			break
		}
		i, ch := i, ch
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			chunkCtx, span := b.tracer.Start(ctx, "dictionary.extract_chunk", trace.WithAttributes(attribute.Int("chunk_index", i)))
			ex := b.extractor.Extract(chunkCtx, ch)
			span.SetAttributes(
				attribute.String("decode_stage", string(ex.Stage)),
				attribute.Int("candidates", len(ex.Candidates)),
			)
			if ex.Err != nil {
				span.RecordError(ex.Err)
			}
			span.End()
			if ex.Err != nil || ex.Stage == DecodeNone {
				failed[i] = true
			}
			out := make([]NormalizedComponent, 0, len(ex.Candidates))
			for _, c := range ex.Candidates {
				out = append(out, NormalizeWith(c, b.opts.KeyFunc))
			}
			perChunk[i] = out
			return nil
		})
	}
	_ = g.Wait()

	failedCount := 0
	for _, f := range failed {
		if f {
			failedCount++
		}
	}
	if ctx.Err() != nil {
		return nil, failedCount, context.Cause(ctx)
	}

	acc := NewAccumulator()
	for _, list := range perChunk {
		for _, n := range list {
			acc.Add(n)
		}
	}
	return acc, failedCount, nil
}

func (b *Builder) persist(ctx context.Context, acc *Accumulator, res *RebuildResult) error {
	for _, comp := range acc.Components() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.withStoreTimeout(ctx, func(ctx context.Context) error {
			_, err := b.store.UpsertComponent(ctx, comp.Key, comp.DisplayName, comp.Aliases)
			return err
		}); err != nil {
			return fmt.Errorf("upsert component %s: %w", comp.Key, err)
		}
		res.Components++

		if len(comp.Aliases) > 0 {
			aliases := make([]Alias, 0, len(comp.Aliases))
			for _, a := range comp.Aliases {
				aliases = append(aliases, Alias{Text: a, Source: AliasSourceLLM})
			}
			var n int
			if err := b.withStoreTimeout(ctx, func(ctx context.Context) error {
				var err error
				n, err = b.store.InsertAliases(ctx, comp.Key, aliases)
				return err
			}); err != nil {
				return fmt.Errorf("insert aliases %s: %w", comp.Key, err)
			}
			res.Aliases += n
		}

		for start := 0; start < len(comp.Evidence); start += b.opts.ReferenceBatchSize {
			end := start + b.opts.ReferenceBatchSize
			if end > len(comp.Evidence) {
				end = len(comp.Evidence)
			}
			var n int
			if err := b.withStoreTimeout(ctx, func(ctx context.Context) error {
				var err error
				n, err = b.store.InsertReferences(ctx, comp.Key, comp.Evidence[start:end])
				return err
			}); err != nil {
				return fmt.Errorf("insert references %s: %w", comp.Key, err)
			}
			res.References += n
		}
	}
	return nil
}

func (b *Builder) withStoreTimeout(ctx context.Context, fn func(context.Context) error) error {
	if b.opts.StoreTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, b.opts.StoreTimeout)
	defer cancel()
	return fn(callCtx)
}
