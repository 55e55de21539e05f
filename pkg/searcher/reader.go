package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/internal/store"
	"github.com/Aman-CERP/amanfacet/pkg/document"
)

// ErrStaleSnapshot is returned by EnsureCurrent when the index has committed
// a newer generation than the reader observes. Refresh and retry.
var ErrStaleSnapshot = amerrors.Sentinel(amerrors.ErrCodeStaleSnapshot, "reader snapshot is stale")

// ErrProviderClosed is returned by a closed ReaderProvider.
var ErrProviderClosed = amerrors.Sentinel(amerrors.ErrCodeClosed, "reader provider is closed")

// RefreshPolicy decides when the pooled reader moves to a newer generation.
type RefreshPolicy string

const (
	// RefreshManual keeps the pooled reader until MaybeRefresh is called.
	RefreshManual RefreshPolicy = "manual"

	// RefreshOnStale swaps the pooled reader on the first Acquire after a commit.
	RefreshOnStale RefreshPolicy = "on_stale"

	// RefreshInterval swaps a stale pooled reader at most once per interval.
	RefreshInterval RefreshPolicy = "interval"
)

// ParseRefreshPolicy parses a configured policy name.
func ParseRefreshPolicy(s string) (RefreshPolicy, error) {
	switch p := RefreshPolicy(s); p {
	case RefreshManual, RefreshOnStale, RefreshInterval:
		return p, nil
	case "":
		return RefreshOnStale, nil
	default:
		return "", amerrors.New(amerrors.ErrCodeConfigInvalid, fmt.Sprintf("unknown refresh policy %q", s), nil).
			WithSuggestion("use manual, on_stale or interval")
	}
}

// Reader is a point-in-time view of an index. It keeps observing the
// generation it was opened at until closed, whatever the writer commits.
//
// Readers are reference counted: every Acquire must be paired with a
// Release (or Close), and the snapshot is freed when the count drops to zero.
type Reader struct {
	snap *store.Snapshot
	idx  *store.Index
	refs atomic.Int32
}

func newReader(snap *store.Snapshot, idx *store.Index) *Reader {
	r := &Reader{snap: snap, idx: idx}
	r.refs.Store(1)
	return r
}

// Generation returns the commit generation the reader observes.
func (r *Reader) Generation() uint64 {
	return r.snap.Generation()
}

// IsCurrent reports whether no commit happened since the reader was opened.
func (r *Reader) IsCurrent() bool {
	return r.snap.Generation() >= r.idx.Generation()
}

// EnsureCurrent returns ErrStaleSnapshot when the reader is behind the index.
func (r *Reader) EnsureCurrent() error {
	if r.IsCurrent() {
		return nil
	}
	return amerrors.New(amerrors.ErrCodeStaleSnapshot, ErrStaleSnapshot.Message, nil).
		WithDetail("index", r.idx.Name()).
		WithDetail("reader_generation", fmt.Sprint(r.snap.Generation())).
		WithDetail("index_generation", fmt.Sprint(r.idx.Generation())).
		WithSuggestion("refresh the reader and retry")
}

// DocCount returns the number of documents the reader sees.
func (r *Reader) DocCount() (uint64, error) {
	return r.snap.DocCount()
}

// IDs returns every document key the reader sees, sorted.
func (r *Reader) IDs(ctx context.Context) ([]string, error) {
	return r.snap.IDs(ctx)
}

// StoredFields returns the stored fields of the document with key, as
// mapper input. found is false when the reader does not see the key.
func (r *Reader) StoredFields(key string) (fields []document.Field, found bool, err error) {
	return r.snap.StoredFields(key)
}

// Schema returns the field registry of the documents the reader observes.
func (r *Reader) Schema() *document.Schema {
	return r.idx.Schema()
}

// IndexName returns the name of the index the reader observes.
func (r *Reader) IndexName() string {
	return r.idx.Name()
}

func (r *Reader) acquire() *Reader {
	r.refs.Add(1)
	return r
}

// Close drops one reference. The snapshot is released with the last one.
func (r *Reader) Close() error {
	n := r.refs.Add(-1)
	switch {
	case n == 0:
		return r.snap.Close()
	case n < 0:
		r.refs.Store(0)
	}
	return nil
}

// ReaderProvider opens readers over one index and pools a shared current
// reader refreshed according to its RefreshPolicy. Readers never block the
// writer, and the writer never notifies readers; staleness is detected by
// comparing generations.
type ReaderProvider struct {
	idx      *store.Index
	policy   RefreshPolicy
	interval time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	current     *Reader
	lastRefresh time.Time
	closed      bool
}

// ProviderOption configures a ReaderProvider.
type ProviderOption func(*ReaderProvider)

// WithRefreshPolicy sets the pooled reader refresh policy. Default: on_stale.
func WithRefreshPolicy(p RefreshPolicy) ProviderOption {
	return func(rp *ReaderProvider) {
		if p != "" {
			rp.policy = p
		}
	}
}

// WithRefreshInterval sets the minimum time between refreshes under the
// interval policy. Default: 1s.
func WithRefreshInterval(d time.Duration) ProviderOption {
	return func(rp *ReaderProvider) {
		if d > 0 {
			rp.interval = d
		}
	}
}

// WithProviderLogger sets the provider logger.
func WithProviderLogger(logger *slog.Logger) ProviderOption {
	return func(rp *ReaderProvider) {
		if logger != nil {
			rp.logger = logger
		}
	}
}

// NewReaderProvider returns a provider over idx.
func NewReaderProvider(idx *store.Index, opts ...ProviderOption) *ReaderProvider {
	p := &ReaderProvider{
		idx:      idx,
		policy:   RefreshOnStale,
		interval: time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the refresh policy.
func (p *ReaderProvider) Policy() RefreshPolicy {
	return p.policy
}

// Open returns a new private reader over the latest committed generation.
// The caller must Close it.
func (p *ReaderProvider) Open(ctx context.Context) (*Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrProviderClosed
	}

	snap, err := p.idx.Snapshot()
	if err != nil {
		return nil, err
	}
	return newReader(snap, p.idx), nil
}

// Refresh returns a reader over the latest generation, or r itself when r
// is still current. r stays valid either way and is still owned by the
// caller.
func (p *ReaderProvider) Refresh(ctx context.Context, r *Reader) (*Reader, error) {
	if r != nil && r.IsCurrent() {
		return r, nil
	}
	return p.Open(ctx)
}

// Acquire returns the pooled reader, refreshed per the policy. Release it
// when done.
func (p *ReaderProvider) Acquire(ctx context.Context) (*Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProviderClosed
	}

	if p.current == nil || p.shouldRefresh() {
		if err := p.swap(); err != nil {
			return nil, err
		}
	}
	return p.current.acquire(), nil
}

// Release returns a reader obtained from Acquire.
func (p *ReaderProvider) Release(r *Reader) error {
	if r == nil {
		return nil
	}
	return r.Close()
}

// MaybeRefresh swaps the pooled reader if it is stale, whatever the policy.
// It reports whether a swap happened.
func (p *ReaderProvider) MaybeRefresh(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, ErrProviderClosed
	}
	if p.current != nil && p.current.IsCurrent() {
		return false, nil
	}
	if err := p.swap(); err != nil {
		return false, err
	}
	return true, nil
}

// shouldRefresh must be called with p.mu held.
func (p *ReaderProvider) shouldRefresh() bool {
	switch p.policy {
	case RefreshManual:
		return false
	case RefreshInterval:
		return !p.current.IsCurrent() && time.Since(p.lastRefresh) >= p.interval
	default:
		return !p.current.IsCurrent()
	}
}

// swap must be called with p.mu held.
func (p *ReaderProvider) swap() error {
	snap, err := p.idx.Snapshot()
	if err != nil {
		return err
	}

	old := p.current
	p.current = newReader(snap, p.idx)
	p.lastRefresh = time.Now()

	if old != nil {
		p.logger.Debug("reader_refreshed",
			slog.String("index", p.idx.Name()),
			slog.Uint64("from", old.Generation()),
			slog.Uint64("to", snap.Generation()))
		return old.Close()
	}
	return nil
}

// Close drops the pooled reader. Readers still acquired stay usable until
// released.
func (p *ReaderProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.current != nil {
		err := p.current.Close()
		p.current = nil
		return err
	}
	return nil
}
