package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/amanfacet/internal/config"
	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/internal/lease"
	"github.com/Aman-CERP/amanfacet/internal/store"
	"github.com/Aman-CERP/amanfacet/pkg/document"
	"github.com/Aman-CERP/amanfacet/pkg/indexconfig"
	"github.com/Aman-CERP/amanfacet/pkg/indexer"
	"github.com/Aman-CERP/amanfacet/pkg/searcher"
)

var (
	// ErrAlreadyRegistered is returned when a type or index name is taken.
	ErrAlreadyRegistered = amerrors.Sentinel(amerrors.ErrCodeInvalidInput, "already registered")

	// ErrRegistryClosed is returned by Register after Close.
	ErrRegistryClosed = amerrors.Sentinel(amerrors.ErrCodeClosed, "registry is closed")
)

// Services are the components serving one index of T.
type Services[T document.Document] struct {
	Config  *indexconfig.Config[T]
	Index   *store.Index
	Ledger  *store.Ledger // nil when the ledger is disabled
	Writer  *indexer.DocumentWriter[T]
	Readers *searcher.ReaderProvider
	Engine  *searcher.Engine[T]

	closeOnce sync.Once
	closeErr  error
}

// Close shuts the components down in reverse dependency order.
func (s *Services[T]) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.Readers != nil {
			errs = append(errs, s.Readers.Close())
		}
		if s.Writer != nil {
			errs = append(errs, s.Writer.Close())
		}
		if s.Ledger != nil {
			errs = append(errs, s.Ledger.Close())
		}
		if s.Index != nil {
			errs = append(errs, s.Index.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

type entry struct {
	name     string
	services any
	close    func() error
}

// Registry owns the services of every registered document type.
type Registry struct {
	cfg       *config.Config
	logger    *slog.Logger
	openRetry amerrors.RetryConfig

	mu      sync.Mutex
	byType  map[reflect.Type]*entry
	byName  map[string]reflect.Type
	entries []*entry
	closed  bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger handed to every component. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithOpenRetry sets the backoff used when opening an index fails with a
// retryable engine error. Default: two retries from 200ms.
func WithOpenRetry(cfg amerrors.RetryConfig) Option {
	return func(r *Registry) {
		r.openRetry = cfg
	}
}

// NewRegistry validates cfg and returns an empty registry.
func NewRegistry(cfg *config.Config, opts ...Option) (*Registry, error) {
	if cfg == nil {
		return nil, amerrors.ConfigError("configuration is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	retry := amerrors.DefaultRetryConfig()
	retry.MaxRetries = 2
	retry.InitialDelay = 200 * time.Millisecond

	r := &Registry{
		cfg:       cfg,
		logger:    slog.Default(),
		openRetry: retry,
		byType:    make(map[reflect.Type]*entry),
		byName:    make(map[string]reflect.Type),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.openRetry.RetryIf = amerrors.IsRetryable
	return r, nil
}

// Config returns the registry configuration.
func (r *Registry) Config() *config.Config {
	return r.cfg
}

// Names returns the registered index names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Register opens every component for the index described by ic and records
// them under T.
func Register[T document.Document](ctx context.Context, r *Registry, ic *indexconfig.Config[T]) (*Services[T], error) {
	if r == nil || ic == nil {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "registry and index configuration are required", nil)
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()
	name := ic.IndexName()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, ok := r.byType[typ]; ok {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, ErrAlreadyRegistered.Message, nil).
			WithDetail("type", typ.String())
	}
	if other, ok := r.byName[name]; ok {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, ErrAlreadyRegistered.Message, nil).
			WithDetail("index", name).
			WithDetail("type", other.String())
	}

	svc, err := open(ctx, r, ic)
	if err != nil {
		return nil, err
	}

	e := &entry{name: name, services: svc, close: svc.Close}
	r.byType[typ] = e
	r.byName[name] = typ
	r.entries = append(r.entries, e)

	r.logger.Info("index_registered",
		slog.String("index", name),
		slog.String("type", typ.String()),
		slog.Uint64("generation", svc.Index.Generation()))
	return svc, nil
}

// Lookup returns the services registered for T.
func Lookup[T document.Document](r *Registry) (*Services[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byType[reflect.TypeOf((*T)(nil)).Elem()]
	if !ok {
		return nil, false
	}
	svc, ok := e.services.(*Services[T])
	return svc, ok
}

// Close closes every registered service, newest first, and joins the errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for i := len(r.entries) - 1; i >= 0; i-- {
		if err := r.entries[i].close(); err != nil {
			attrs := append([]slog.Attr{slog.String("index", r.entries[i].name)}, amerrors.LogAttrs(err)...)
			r.logger.LogAttrs(context.Background(), slog.LevelWarn, "index_close_failed", attrs...)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func open[T document.Document](ctx context.Context, r *Registry, ic *indexconfig.Config[T]) (_ *Services[T], err error) {
	cfg := r.cfg
	name := ic.IndexName()

	schema, err := ic.Schema()
	if err != nil {
		return nil, err
	}
	if _, err := ic.FacetSchema(); err != nil {
		return nil, err
	}

	path := cfg.IndexPath(name)
	if path != "" {
		if err := os.MkdirAll(cfg.Index.DataDir, 0o755); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeFilePermission, "create data directory", err).
				WithDetail("path", cfg.Index.DataDir)
		}
	}

	// The lease is taken before the index is opened: a second opener of
	// an on-disk bleve index would otherwise block on its storage lock.
	l, err := buildLease(cfg, name, path, r.logger)
	if err != nil {
		return nil, err
	}
	if err := l.Acquire(ctx); err != nil {
		_ = l.Release(context.Background())
		return nil, err
	}

	svc := &Services[T]{Config: ic}
	defer func() {
		if err == nil {
			return
		}
		_ = svc.Close()
		if svc.Writer == nil {
			_ = l.Release(context.Background())
		}
	}()

	svc.Index, err = amerrors.RetryWithResult(ctx, r.openRetry, func() (*store.Index, error) {
		return store.Open(store.Options{
			Name:     name,
			Path:     path,
			Analyzer: cfg.Index.Analyzer,
			Schema:   schema,
			Logger:   r.logger,
		})
	})
	if err != nil {
		return nil, err
	}

	if cfg.Writer.Ledger && path != "" {
		svc.Ledger, err = store.OpenLedger(store.LedgerPath(path))
		if err != nil {
			return nil, err
		}
	}

	writerOpts := []indexer.Option{
		indexer.WithLogger(r.logger),
		indexer.WithLease(l),
		indexer.WithMaxWaiters(cfg.Writer.MaxWaiters),
		indexer.WithBlockWhenBusy(cfg.Writer.BlockWhenBusy),
	}
	if svc.Ledger != nil {
		writerOpts = append(writerOpts, indexer.WithLedger(svc.Ledger))
	}
	svc.Writer, err = indexer.NewWriter(ctx, ic, svc.Index, writerOpts...)
	if err != nil {
		return nil, err
	}

	policy, err := searcher.ParseRefreshPolicy(cfg.Search.RefreshPolicy)
	if err != nil {
		return nil, err
	}
	svc.Readers = searcher.NewReaderProvider(svc.Index,
		searcher.WithRefreshPolicy(policy),
		searcher.WithRefreshInterval(cfg.Search.RefreshIntervalDuration()),
		searcher.WithProviderLogger(r.logger))

	svc.Engine, err = searcher.NewEngine(ic, svc.Readers,
		searcher.WithLogger(r.logger),
		searcher.WithMaxPageSize(cfg.Search.MaxPageSize),
		searcher.WithMaxFacetValues(cfg.Search.MaxFacetValues),
		searcher.WithQueryTimeout(cfg.Search.QueryTimeoutDuration()),
		searcher.WithCacheSize(cfg.Search.CacheSize),
		searcher.WithFetchConcurrency(cfg.Search.FetchConcurrency))
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// buildLease picks the writer lease for an index. In-memory indexes are
// private to the process and need none.
func buildLease(cfg *config.Config, name, path string, logger *slog.Logger) (lease.Lease, error) {
	if path == "" {
		return lease.Noop{}, nil
	}
	switch cfg.Lease.Kind {
	case lease.KindFile:
		return lease.NewFileLease(path), nil
	case lease.KindRedis:
		l, err := lease.NewRedisLease(cfg.Lease.RedisURL, name,
			lease.WithTTL(cfg.Lease.TTLDuration()),
			lease.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return lease.Noop{}, nil
	}
}
