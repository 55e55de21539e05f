package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/pkg/document"
	"github.com/Aman-CERP/amanfacet/pkg/indexer"
	"github.com/Aman-CERP/amanfacet/pkg/searcher"
)

// DefaultCommitEvery is the number of restored documents per commit.
const DefaultCommitEvery = 1000

type options struct {
	prefix      string
	logger      *slog.Logger
	retry       amerrors.RetryConfig
	commitEvery int
	now         func() time.Time
}

// Option configures Export and Restore.
type Option func(*options)

// WithPrefix sets the key prefix archives are stored under, e.g. "prod/".
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetry sets the backoff for object store transfers.
// Default: amerrors.DefaultRetryConfig().
func WithRetry(cfg amerrors.RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

// WithCommitEvery makes Restore commit after every n documents. Values
// below 1 keep the default.
func WithCommitEvery(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.commitEvery = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:      slog.Default(),
		retry:       amerrors.DefaultRetryConfig(),
		commitEvery: DefaultCommitEvery,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.retry.RetryIf = amerrors.IsRetryable
	return o
}

// indexPrefix is the key prefix of every archive of index.
func indexPrefix(prefix, index string) string {
	return prefix + index + "/"
}

// archiveKey sorts lexically by creation time.
func archiveKey(prefix string, m Manifest) string {
	return fmt.Sprintf("%s%s-g%020d-%s%s",
		indexPrefix(prefix, m.Index), m.CreatedAt.UTC().Format("20060102T150405.000000000Z"), m.Generation, m.ID, Extension)
}

// Export writes every stored document the reader sees to a new archive in
// st and returns its manifest. The archive is staged in a temp file and
// uploaded with retry.
func Export(ctx context.Context, st ObjectStore, r *searcher.Reader, opts ...Option) (*Manifest, error) {
	o := buildOptions(opts)
	start := o.now()

	if lost := unstored(r.Schema()); len(lost) > 0 {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "index has fields an archive cannot carry", nil).
			WithDetail("index", r.IndexName()).
			WithDetail("fields", strings.Join(lost, ",")).
			WithSuggestion("drop nostore from these fields and reindex before exporting")
	}

	ids, err := r.IDs(ctx)
	if err != nil {
		return nil, err
	}

	m := Manifest{
		ID:         uuid.NewString(),
		Index:      r.IndexName(),
		Generation: r.Generation(),
		Documents:  len(ids),
		CreatedAt:  start.UTC(),
	}
	m.Key = archiveKey(o.prefix, m)

	tmp, err := os.CreateTemp("", "amanfacet-export-*"+Extension)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFilePermission, "create export staging file", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err := writeArchive(ctx, tmp, r, m, ids); err != nil {
		return nil, err
	}
	info, err := tmp.Stat()
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFilePermission, "stat export staging file", err)
	}

	err = amerrors.Retry(ctx, o.retry, func() error {
		return st.Put(ctx, m.Key, tmp, info.Size())
	})
	if err != nil {
		o.logger.LogAttrs(ctx, slog.LevelError, "export_failed",
			append([]slog.Attr{slog.String("index", m.Index), slog.String("key", m.Key)}, amerrors.LogAttrs(err)...)...)
		return nil, err
	}

	o.logger.Info("export_completed",
		slog.String("index", m.Index),
		slog.String("key", m.Key),
		slog.Uint64("generation", m.Generation),
		slog.Int("documents", m.Documents),
		slog.Int64("bytes", info.Size()),
		slog.Duration("took", time.Since(start)))
	return &m, nil
}

func writeArchive(ctx context.Context, w io.Writer, r *searcher.Reader, m Manifest, ids []string) error {
	aw, err := newArchiveWriter(w, m)
	if err != nil {
		return amerrors.InternalError("write archive", err)
	}
	for i, id := range ids {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fields, found, err := r.StoredFields(id)
		if err != nil {
			return err
		}
		if !found {
			return amerrors.InternalError("document vanished from snapshot", nil).WithDetail("key", id)
		}
		if err := aw.write(id, fields); err != nil {
			return amerrors.InternalError("write archive", err)
		}
	}
	if err := aw.close(); err != nil {
		return amerrors.InternalError("finish archive", err)
	}
	return nil
}

// RestoreStats reports what Restore applied.
type RestoreStats struct {
	Manifest   Manifest
	Documents  int
	Commits    int
	Generation uint64
}

// Restore upserts every document of the archive under key through w and
// commits every WithCommitEvery documents and at the end. Documents already
// in the index with the same key are replaced; others are left alone.
func Restore[T document.Document](ctx context.Context, st ObjectStore, key string, w indexer.Writer[T], opts ...Option) (*RestoreStats, error) {
	o := buildOptions(opts)
	start := o.now()

	mapper, err := document.NewMapper[T]()
	if err != nil {
		return nil, err
	}

	body, err := amerrors.RetryWithResult(ctx, o.retry, func() (io.ReadCloser, error) {
		return st.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	ar, err := newArchiveReader(body)
	if err != nil {
		return nil, withKey(err, key)
	}
	stats := &RestoreStats{Manifest: ar.manifest}
	stats.Manifest.Key = key

	commit := func() error {
		if w.Pending() == 0 {
			return nil
		}
		gen, err := w.Commit(ctx)
		if err != nil {
			return err
		}
		stats.Commits++
		stats.Generation = gen
		return nil
	}

	for {
		rec, err := ar.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Rollback()
			return stats, withKey(err, key)
		}
		doc, err := mapper.Deserialize(rec.documentFields())
		if err != nil {
			w.Rollback()
			return stats, err
		}
		if err := w.Upsert(ctx, doc); err != nil {
			w.Rollback()
			return stats, err
		}
		stats.Documents++
		if stats.Documents%o.commitEvery == 0 {
			if err := commit(); err != nil {
				return stats, err
			}
		}
	}
	if err := commit(); err != nil {
		return stats, err
	}
	if stats.Commits == 0 {
		stats.Generation = w.Generation()
	}

	o.logger.Info("restore_completed",
		slog.String("index", stats.Manifest.Index),
		slog.String("key", key),
		slog.Int("documents", stats.Documents),
		slog.Int("commits", stats.Commits),
		slog.Uint64("generation", stats.Generation),
		slog.Duration("took", time.Since(start)))
	return stats, nil
}

// unstored names the fields whose values never reach stored fields, so a
// restore would come back without them.
func unstored(schema *document.Schema) []string {
	if schema == nil {
		return nil
	}
	var out []string
	for _, f := range schema.Fields() {
		if !f.Stored {
			out = append(out, f.Name)
		}
	}
	return out
}

func withKey(err error, key string) error {
	if ae, ok := amerrors.As(err); ok {
		return ae.WithDetail("key", key)
	}
	return err
}

// Archives lists the archives of index under prefix, oldest first.
func Archives(ctx context.Context, st ObjectStore, prefix, index string) ([]Object, error) {
	objs, err := st.List(ctx, indexPrefix(prefix, index))
	if err != nil {
		return nil, err
	}
	out := objs[:0]
	for _, obj := range objs {
		if strings.HasSuffix(obj.Key, Extension) && path.Dir(obj.Key)+"/" == indexPrefix(prefix, index) {
			out = append(out, obj)
		}
	}
	return out, nil
}

// Latest returns the newest archive of index, or ErrObjectNotFound.
func Latest(ctx context.Context, st ObjectStore, prefix, index string) (Object, error) {
	objs, err := Archives(ctx, st, prefix, index)
	if err != nil {
		return Object{}, err
	}
	if len(objs) == 0 {
		return Object{}, notFound(indexPrefix(prefix, index), nil)
	}
	return objs[len(objs)-1], nil
}

// Prune deletes all but the newest keep archives of index and returns the
// deleted keys.
func Prune(ctx context.Context, st ObjectStore, prefix, index string, keep int) ([]string, error) {
	if keep < 0 {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "keep must be non-negative", nil)
	}
	objs, err := Archives(ctx, st, prefix, index)
	if err != nil || len(objs) <= keep {
		return nil, err
	}
	var deleted []string
	for _, obj := range objs[:len(objs)-keep] {
		if err := st.Delete(ctx, obj.Key); err != nil {
			return deleted, err
		}
		deleted = append(deleted, obj.Key)
	}
	return deleted, nil
}
