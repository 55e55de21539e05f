package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/internal/lease"
	"github.com/Aman-CERP/amanfacet/internal/store"
	"github.com/Aman-CERP/amanfacet/pkg/document"
	"github.com/Aman-CERP/amanfacet/pkg/indexconfig"
)

var (
	// ErrDuplicateKey is returned by Add when the key is already present.
	ErrDuplicateKey = amerrors.Sentinel(amerrors.ErrCodeDuplicateKey, "document already exists")

	// ErrNotFound is returned by Update when the key is absent.
	ErrNotFound = amerrors.Sentinel(amerrors.ErrCodeNotFound, "document not found")

	// ErrBusy is returned when the admission queue is full and the writer
	// is configured not to block.
	ErrBusy = amerrors.Sentinel(amerrors.ErrCodeWriterBusy, "writer is busy")

	// ErrWriterClosed is returned by every operation after Close.
	ErrWriterClosed = amerrors.Sentinel(amerrors.ErrCodeClosed, "writer is closed")

	// ErrNilIndex is returned by NewWriter without an index.
	ErrNilIndex = amerrors.Sentinel(amerrors.ErrCodeInvalidInput, "index is required")
)

// DefaultMaxWaiters bounds the callers queued behind the active one.
const DefaultMaxWaiters = 64

// Writer stages document changes and publishes them atomically.
//
// Implementations must be safe for concurrent use. Staged changes are
// invisible to readers until Commit returns.
type Writer[T document.Document] interface {
	// Add stages the insertion of doc.
	//
	// Returns ErrDuplicateKey if the key is committed or staged as present.
	Add(ctx context.Context, doc T) error

	// Update stages the full replacement of the document sharing doc's key.
	//
	// Returns ErrNotFound if the key is neither committed nor staged as present.
	Update(ctx context.Context, doc T) error

	// Upsert stages doc as an insert or a replacement, whichever applies.
	Upsert(ctx context.Context, doc T) error

	// Delete stages the removal of key.
	//
	// Behavior:
	//   - No-op for absent keys (does not error)
	//   - Empty key is a validation error
	Delete(ctx context.Context, key string) error

	// Commit publishes every staged change and returns the new generation.
	//
	// An empty batch is a no-op returning the current generation. Once
	// started, a commit is not interrupted by ctx.
	Commit(ctx context.Context) (uint64, error)

	// Rollback discards every staged change.
	Rollback()

	// Pending returns the number of distinct keys with staged changes.
	Pending() int

	// Generation returns the last committed generation.
	Generation() uint64

	// Close discards uncommitted work and releases the writer lease.
	// Safe to call multiple times.
	Close() error
}

type options struct {
	logger        *slog.Logger
	ledger        *store.Ledger
	lease         lease.Lease
	maxWaiters    int64
	blockWhenBusy bool
}

// Option configures a DocumentWriter.
type Option func(*options)

// WithLogger sets the writer logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLedger records every commit in l.
func WithLedger(l *store.Ledger) Option {
	return func(o *options) {
		o.ledger = l
	}
}

// WithLease guards the index with l. Default: lease.Noop.
func WithLease(l lease.Lease) Option {
	return func(o *options) {
		if l != nil {
			o.lease = l
		}
	}
}

// WithMaxWaiters bounds the number of callers waiting behind the active one.
func WithMaxWaiters(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxWaiters = int64(n)
		}
	}
}

// WithBlockWhenBusy makes callers wait for a queue slot instead of
// failing with ErrBusy.
func WithBlockWhenBusy(block bool) Option {
	return func(o *options) {
		o.blockWhenBusy = block
	}
}

// DocumentWriter is the Writer of one bleve-backed index of T.
type DocumentWriter[T document.Document] struct {
	name   string
	idx    *store.Index
	mapper *document.Mapper[T]
	facets document.FacetSchema
	opts   options

	admission *semaphore.Weighted

	mu     sync.Mutex
	batch  *store.Batch
	closed bool
}

// NewWriter takes the writer lease of idx, reconciles the commit ledger with
// the engine's persisted generation and returns a writer for documents of T.
func NewWriter[T document.Document](ctx context.Context, cfg *indexconfig.Config[T], idx *store.Index, opts ...Option) (*DocumentWriter[T], error) {
	if idx == nil {
		return nil, ErrNilIndex
	}
	if cfg == nil {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "index configuration is required", nil)
	}

	o := options{
		logger:     slog.Default(),
		lease:      lease.Noop{},
		maxWaiters: DefaultMaxWaiters,
	}
	for _, opt := range opts {
		opt(&o)
	}

	facets, err := cfg.FacetSchema()
	if err != nil {
		return nil, err
	}
	mapper, err := document.NewMapper[T]()
	if err != nil {
		return nil, err
	}

	if err := o.lease.Acquire(ctx); err != nil {
		return nil, err
	}

	if o.ledger != nil {
		if _, err := o.ledger.Reconcile(ctx, cfg.IndexName(), idx.Generation()); err != nil {
			_ = o.lease.Release(ctx)
			return nil, err
		}
	}

	w := &DocumentWriter[T]{
		name:      cfg.IndexName(),
		idx:       idx,
		mapper:    mapper,
		facets:    facets,
		opts:      o,
		admission: semaphore.NewWeighted(o.maxWaiters + 1),
		batch:     idx.NewBatch(),
	}

	o.logger.Debug("writer_opened",
		slog.String("index", w.name),
		slog.Uint64("generation", idx.Generation()))

	return w, nil
}

// enter admits the caller and locks the writer. The returned func undoes both.
func (w *DocumentWriter[T]) enter(ctx context.Context) (func(), error) {
	if w.opts.blockWhenBusy {
		if err := w.admission.Acquire(ctx, 1); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeWriterBusy, "waiting for writer", err).WithDetail("index", w.name)
		}
	} else if !w.admission.TryAcquire(1) {
		return nil, amerrors.New(amerrors.ErrCodeWriterBusy, ErrBusy.Message, nil).
			WithDetail("index", w.name).
			WithSuggestion("retry later or enable writer.block_when_busy")
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.admission.Release(1)
		return nil, ErrWriterClosed
	}
	return func() {
		w.mu.Unlock()
		w.admission.Release(1)
	}, nil
}

// present reports whether key will exist once the batch is committed.
// Must be called with w.mu held.
func (w *DocumentWriter[T]) present(key string) (bool, error) {
	if present, staged := w.batch.Staged(key); staged {
		return present, nil
	}
	return w.idx.Exists(key)
}

func (w *DocumentWriter[T]) stage(doc T, mustExist, mustNotExist bool) error {
	key, err := w.mapper.KeyOf(doc)
	if err != nil {
		return err
	}

	if mustExist || mustNotExist {
		ok, err := w.present(key)
		if err != nil {
			return err
		}
		if mustNotExist && ok {
			return amerrors.New(amerrors.ErrCodeDuplicateKey, ErrDuplicateKey.Message, nil).
				WithDetail("index", w.name).
				WithDetail("key", key).
				WithSuggestion("use Update or Upsert to replace an existing document")
		}
		if mustExist && !ok {
			return amerrors.New(amerrors.ErrCodeNotFound, ErrNotFound.Message, nil).
				WithDetail("index", w.name).
				WithDetail("key", key)
		}
	}

	fields, err := w.mapper.Serialize(doc, w.facets)
	if err != nil {
		return err
	}
	return w.batch.Put(key, fields)
}

// Add stages the insertion of doc.
func (w *DocumentWriter[T]) Add(ctx context.Context, doc T) error {
	exit, err := w.enter(ctx)
	if err != nil {
		return err
	}
	defer exit()

	return w.stage(doc, false, true)
}

// Update stages the replacement of an existing document.
func (w *DocumentWriter[T]) Update(ctx context.Context, doc T) error {
	exit, err := w.enter(ctx)
	if err != nil {
		return err
	}
	defer exit()

	return w.stage(doc, true, false)
}

// Upsert stages doc whether or not its key exists.
func (w *DocumentWriter[T]) Upsert(ctx context.Context, doc T) error {
	exit, err := w.enter(ctx)
	if err != nil {
		return err
	}
	defer exit()

	return w.stage(doc, false, false)
}

// Delete stages the removal of key. Absent keys are ignored.
func (w *DocumentWriter[T]) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return amerrors.New(amerrors.ErrCodeInvalidInput, "delete key must not be empty", nil).
			WithDetail("index", w.name)
	}

	exit, err := w.enter(ctx)
	if err != nil {
		return err
	}
	defer exit()

	ok, err := w.present(key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	w.batch.Delete(key)
	return nil
}

// Commit applies the staged batch and a new generation atomically.
func (w *DocumentWriter[T]) Commit(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	exit, err := w.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer exit()

	current := w.idx.Generation()
	if w.batch.Len() == 0 {
		return current, nil
	}
	if err := w.opts.lease.Check(ctx); err != nil {
		return current, err
	}

	// From here on the commit runs to completion regardless of ctx.
	bg := context.WithoutCancel(ctx)
	gen := current + 1
	puts, deletes := w.batch.Counts()
	start := time.Now()

	if w.opts.ledger != nil {
		rec := store.CommitRecord{IndexName: w.name, Generation: gen, Puts: puts, Deletes: deletes, StartedAt: start}
		if err := w.opts.ledger.Begin(bg, rec); err != nil {
			return current, err
		}
	}

	if err := w.idx.Commit(w.batch, gen); err != nil {
		return w.failCommit(bg, gen, err)
	}
	w.batch.Reset()

	var docCount uint64
	if stats, err := w.idx.Stats(); err == nil {
		docCount = stats.DocumentCount
	}
	w.finishLedger(bg, gen, store.CommitCommitted, docCount, nil)

	w.opts.logger.Info("commit_applied",
		slog.String("index", w.name),
		slog.Uint64("generation", gen),
		slog.Int("puts", puts),
		slog.Int("deletes", deletes),
		slog.Uint64("documents", docCount),
		slog.Duration("duration", time.Since(start)))

	return gen, nil
}

// finishLedger settles the ledger row of gen. A row left pending is settled
// by Reconcile on the next open, so a failure here is logged, not returned.
func (w *DocumentWriter[T]) finishLedger(ctx context.Context, gen uint64, status string, docCount uint64, cause error) {
	if w.opts.ledger == nil {
		return
	}
	if err := w.opts.ledger.Finish(ctx, w.name, gen, status, docCount, cause); err != nil {
		attrs := append([]slog.Attr{
			slog.String("index", w.name),
			slog.Uint64("generation", gen),
			slog.String("status", status),
		}, amerrors.LogAttrs(err)...)
		w.opts.logger.LogAttrs(ctx, slog.LevelWarn, "ledger_finish_failed", attrs...)
	}
}

// failCommit discards the in-flight batch and resynchronizes the generation
// with what the engine actually persisted.
func (w *DocumentWriter[T]) failCommit(ctx context.Context, gen uint64, cause error) (uint64, error) {
	w.batch.Reset()

	committed, syncErr := w.idx.Resync()
	if syncErr != nil {
		committed = w.idx.Generation()
	}

	status := store.CommitFailed
	if committed >= gen {
		status = store.CommitCommitted
	}
	w.finishLedger(ctx, gen, status, 0, cause)

	attrs := append([]slog.Attr{
		slog.String("index", w.name),
		slog.Uint64("generation", gen),
		slog.Uint64("committed", committed),
	}, amerrors.LogAttrs(cause)...)
	w.opts.logger.LogAttrs(ctx, slog.LevelError, "commit_failed", attrs...)

	if committed >= gen {
		// The batch reached the engine before the error surfaced.
		return committed, nil
	}

	if ae, ok := amerrors.As(cause); ok && ae.Code == amerrors.ErrCodeEngineIO {
		return committed, ae
	}
	return committed, amerrors.EngineError("commit", cause).
		WithDetail("index", w.name).
		WithDetail("generation", fmt.Sprint(gen))
}

// Rollback discards every staged change.
func (w *DocumentWriter[T]) Rollback() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := w.batch.Len(); n > 0 {
		w.opts.logger.Info("writer_rolled_back",
			slog.String("index", w.name),
			slog.Int("discarded", n))
	}
	w.batch.Reset()
}

// Pending returns the number of keys with staged changes.
func (w *DocumentWriter[T]) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.batch.Len()
}

// Generation returns the last committed generation.
func (w *DocumentWriter[T]) Generation() uint64 {
	return w.idx.Generation()
}

// Close discards staged changes and releases the lease. The index stays open.
func (w *DocumentWriter[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if n := w.batch.Len(); n > 0 {
		w.opts.logger.Warn("writer_closed_with_pending",
			slog.String("index", w.name),
			slog.Int("discarded", n))
	}
	w.batch.Reset()

	return w.opts.lease.Release(context.Background())
}
