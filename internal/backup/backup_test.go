package backup

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanfacet/internal/config"
	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/internal/store"
	"github.com/Aman-CERP/amanfacet/pkg/document"
	"github.com/Aman-CERP/amanfacet/pkg/indexconfig"
	"github.com/Aman-CERP/amanfacet/pkg/indexer"
	"github.com/Aman-CERP/amanfacet/pkg/searcher"
)

type book struct {
	ISBN      string    `search:"isbn,key"`
	Title     string    `search:"title"`
	Genre     string    `search:"genre,facet"`
	Tags      []string  `search:"tags,facet"`
	Pages     int       `search:"pages"`
	InPrint   bool      `search:"in_print,facet"`
	Published time.Time `search:"published"`
}

func (b book) UniqueKey() string { return b.ISBN }

var bookConfig = indexconfig.MustBuild[book]([]string{"tags"}, "books")

type library struct {
	idx      *store.Index
	writer   *indexer.DocumentWriter[book]
	provider *searcher.ReaderProvider
}

func newLibrary(t *testing.T) *library {
	t.Helper()
	schema, err := document.SchemaFor[book]()
	require.NoError(t, err)
	idx, err := store.Open(store.Options{Name: "books", Schema: schema})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	w, err := indexer.NewWriter(context.Background(), bookConfig, idx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	p := searcher.NewReaderProvider(idx)
	t.Cleanup(func() { _ = p.Close() })
	return &library{idx: idx, writer: w, provider: p}
}

func (l *library) add(t *testing.T, books ...book) {
	t.Helper()
	ctx := context.Background()
	for _, b := range books {
		require.NoError(t, l.writer.Upsert(ctx, b))
	}
	_, err := l.writer.Commit(ctx)
	require.NoError(t, err)
}

func (l *library) reader(t *testing.T) *searcher.Reader {
	t.Helper()
	r, err := l.provider.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func (l *library) all(t *testing.T) map[string]book {
	t.Helper()
	mapper, err := document.NewMapper[book]()
	require.NoError(t, err)
	r := l.reader(t)
	ids, err := r.IDs(context.Background())
	require.NoError(t, err)
	out := make(map[string]book, len(ids))
	for _, id := range ids {
		fields, found, err := r.StoredFields(id)
		require.NoError(t, err)
		require.True(t, found)
		b, err := mapper.Deserialize(fields)
		require.NoError(t, err)
		out[id] = b
	}
	return out
}

func shelf(n int) []book {
	genres := []string{"fiction", "history", "science"}
	out := make([]book, n)
	for i := range out {
		out[i] = book{
			ISBN:      fmt.Sprintf("isbn-%04d", i),
			Title:     fmt.Sprintf("volume %d", i),
			Genre:     genres[i%len(genres)],
			Tags:      []string{"paper", fmt.Sprintf("shelf-%d", i%4)},
			Pages:     100 + i,
			InPrint:   i%2 == 0,
			Published: time.Date(2001, 1, 1+i, 0, 0, 0, 0, time.UTC),
		}
	}
	return out
}

func noRetry() Option {
	return WithRetry(amerrors.RetryConfig{})
}

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	st, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestExportRestore_RoundTrip(t *testing.T) {
	// Given: an index with a few committed books
	ctx := context.Background()
	src := newLibrary(t)
	books := shelf(7)
	src.add(t, books...)
	st := newLocal(t)

	// When: exporting it and restoring into an empty index
	m, err := Export(ctx, st, src.reader(t), WithPrefix("nightly/"), noRetry())
	require.NoError(t, err)

	dst := newLibrary(t)
	stats, err := Restore[book](ctx, st, m.Key, dst.writer, WithCommitEvery(3), noRetry())
	require.NoError(t, err)

	// Then: the manifest describes the source and every book comes back intact
	assert.Equal(t, "books", m.Index)
	assert.Equal(t, uint64(1), m.Generation)
	assert.Equal(t, 7, m.Documents)
	assert.NotEmpty(t, m.ID)
	assert.True(t, strings.HasPrefix(m.Key, "nightly/books/"))
	assert.True(t, strings.HasSuffix(m.Key, Extension))

	assert.Equal(t, 7, stats.Documents)
	assert.Equal(t, 3, stats.Commits)
	assert.Equal(t, uint64(3), stats.Generation)
	assert.Equal(t, m.ID, stats.Manifest.ID)

	got := dst.all(t)
	require.Len(t, got, len(books))
	for _, b := range books {
		assert.Equal(t, b, got[b.ISBN])
	}
}

func TestExport_EmptyIndex(t *testing.T) {
	ctx := context.Background()
	src := newLibrary(t)
	st := newLocal(t)

	m, err := Export(ctx, st, src.reader(t), noRetry())
	require.NoError(t, err)
	assert.Equal(t, 0, m.Documents)

	dst := newLibrary(t)
	stats, err := Restore[book](ctx, st, m.Key, dst.writer, noRetry())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Documents)
	assert.Equal(t, 0, stats.Commits)
	assert.Equal(t, uint64(0), stats.Generation)
}

type pamphlet struct {
	Code   string `search:"code,key"`
	Title  string `search:"title"`
	Region string `search:"region,facet,nostore"`
}

func (p pamphlet) UniqueKey() string { return p.Code }

func TestExport_RejectsUnstoredFields(t *testing.T) {
	// Given: an index whose region facet is indexed but never stored
	ctx := context.Background()
	schema, err := document.SchemaFor[pamphlet]()
	require.NoError(t, err)
	idx, err := store.Open(store.Options{Name: "pamphlets", Schema: schema})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	w, err := indexer.NewWriter(ctx, indexconfig.MustBuild[pamphlet](nil, "pamphlets"), idx)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	require.NoError(t, w.Add(ctx, pamphlet{Code: "p1", Title: "harbour walks", Region: "north"}))
	_, err = w.Commit(ctx)
	require.NoError(t, err)

	p := searcher.NewReaderProvider(idx)
	defer func() { _ = p.Close() }()
	r, err := p.Open(ctx)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	// When: exporting
	st := newLocal(t)
	_, err = Export(ctx, st, r, noRetry())

	// Then: the export is refused naming the field, and nothing is written
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
	ae, ok := amerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "region", ae.Details["fields"])
	objs, err := st.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestRestore_ReplacesMatchingKeysOnly(t *testing.T) {
	// Given: an archive of two books and a target holding a stale copy of one plus another
	ctx := context.Background()
	src := newLibrary(t)
	src.add(t, book{ISBN: "a", Title: "fresh", Genre: "fiction"}, book{ISBN: "b", Title: "second", Genre: "history"})
	st := newLocal(t)
	m, err := Export(ctx, st, src.reader(t), noRetry())
	require.NoError(t, err)

	dst := newLibrary(t)
	dst.add(t, book{ISBN: "a", Title: "stale", Genre: "science"}, book{ISBN: "z", Title: "local only", Genre: "science"})

	// When: restoring
	_, err = Restore[book](ctx, st, m.Key, dst.writer, noRetry())
	require.NoError(t, err)

	// Then: archived keys win and the rest is untouched
	got := dst.all(t)
	require.Len(t, got, 3)
	assert.Equal(t, "fresh", got["a"].Title)
	assert.Equal(t, "second", got["b"].Title)
	assert.Equal(t, "local only", got["z"].Title)
}

func TestRestore_MissingArchive(t *testing.T) {
	dst := newLibrary(t)
	_, err := Restore[book](context.Background(), newLocal(t), "books/nope.afsn", dst.writer, noRetry())
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeNotFound, amerrors.GetCode(err))
}

func TestRestore_CorruptArchive(t *testing.T) {
	ctx := context.Background()
	src := newLibrary(t)
	src.add(t, shelf(20)...)
	st := newLocal(t)
	m, err := Export(ctx, st, src.reader(t), noRetry())
	require.NoError(t, err)

	// Given: the archive truncated halfway
	path := filepath.Join(st.Root(), filepath.FromSlash(m.Key))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0o600))

	// When: restoring it
	dst := newLibrary(t)
	_, err = Restore[book](ctx, st, m.Key, dst.writer, noRetry())

	// Then: the archive is reported corrupt and nothing is left staged
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeFileCorrupt, amerrors.GetCode(err))
	assert.Equal(t, 0, dst.writer.Pending())
	assert.Equal(t, uint64(0), dst.writer.Generation())
}

func TestArchiveReader_RejectsBadHeaders(t *testing.T) {
	tests := []struct {
		name string
		data func() []byte
	}{
		{"empty", func() []byte { return nil }},
		{"bad magic", func() []byte {
			var buf bytes.Buffer
			_ = binary.Write(&buf, binary.LittleEndian, header{Magic: [4]byte{'Z', 'I', 'P', '!'}, Version: FormatVersion})
			return buf.Bytes()
		}},
		{"future version", func() []byte {
			var buf bytes.Buffer
			h := header{Version: FormatVersion + 1}
			copy(h.Magic[:], MagicBytes)
			_ = binary.Write(&buf, binary.LittleEndian, h)
			return buf.Bytes()
		}},
		{"header without manifest", func() []byte {
			var buf bytes.Buffer
			h := header{Version: FormatVersion}
			copy(h.Magic[:], MagicBytes)
			_ = binary.Write(&buf, binary.LittleEndian, h)
			return buf.Bytes()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newArchiveReader(bytes.NewReader(tt.data()))
			require.Error(t, err)
			assert.Equal(t, amerrors.ErrCodeFileCorrupt, amerrors.GetCode(err))
		})
	}
}

func TestArchiveWriter_EnforcesDocumentCount(t *testing.T) {
	var buf bytes.Buffer
	aw, err := newArchiveWriter(&buf, Manifest{Index: "books", Documents: 1})
	require.NoError(t, err)

	assert.Error(t, aw.close())
	require.NoError(t, aw.write("a", nil))
	assert.Error(t, aw.write("b", nil))
}

func TestArchives_LatestAndPrune(t *testing.T) {
	// Given: three exports of one index and one of another
	ctx := context.Background()
	st := newLocal(t)
	src := newLibrary(t)
	src.add(t, shelf(2)...)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var keys []string
	for i := 0; i < 3; i++ {
		at := clock.Add(time.Duration(i) * time.Minute)
		m, err := Export(ctx, st, src.reader(t), noRetry(), func(o *options) { o.now = func() time.Time { return at } })
		require.NoError(t, err)
		keys = append(keys, m.Key)
	}
	require.NoError(t, st.Put(ctx, "bookstore/other.afsn", bytes.NewReader([]byte("x")), 1))

	// Then: listing is scoped and ordered oldest first
	objs, err := Archives(ctx, st, "", "books")
	require.NoError(t, err)
	require.Len(t, objs, 3)
	for i, obj := range objs {
		assert.Equal(t, keys[i], obj.Key)
	}

	latest, err := Latest(ctx, st, "", "books")
	require.NoError(t, err)
	assert.Equal(t, keys[2], latest.Key)

	// When: pruning to one
	deleted, err := Prune(ctx, st, "", "books", 1)
	require.NoError(t, err)
	assert.Equal(t, keys[:2], deleted)

	objs, err = Archives(ctx, st, "", "books")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, keys[2], objs[0].Key)

	_, err = Latest(ctx, st, "", "magazines")
	assert.Equal(t, amerrors.ErrCodeNotFound, amerrors.GetCode(err))
	_, err = Prune(ctx, st, "", "books", -1)
	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	st := newLocal(t)

	t.Run("put get delete", func(t *testing.T) {
		require.NoError(t, st.Put(ctx, "a/b.afsn", strings.NewReader("hello"), 5))

		rc, err := st.Get(ctx, "a/b.afsn")
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "hello", string(data))

		objs, err := st.List(ctx, "a/")
		require.NoError(t, err)
		require.Len(t, objs, 1)
		assert.Equal(t, int64(5), objs[0].Size)

		require.NoError(t, st.Delete(ctx, "a/b.afsn"))
		require.NoError(t, st.Delete(ctx, "a/b.afsn"))
		_, err = st.Get(ctx, "a/b.afsn")
		assert.Equal(t, amerrors.ErrCodeNotFound, amerrors.GetCode(err))
	})

	t.Run("put rewinds the body", func(t *testing.T) {
		body := strings.NewReader("again")
		_, _ = io.ReadAll(body)
		require.NoError(t, st.Put(ctx, "rewind", body, 5))
		rc, err := st.Get(ctx, "rewind")
		require.NoError(t, err)
		defer func() { _ = rc.Close() }()
		data, _ := io.ReadAll(rc)
		assert.Equal(t, "again", string(data))
	})

	t.Run("rejects escaping keys", func(t *testing.T) {
		for _, key := range []string{"", "/", "../outside", "a/../../b"} {
			err := st.Put(ctx, key, strings.NewReader(""), 0)
			assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err), key)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, st.Put(cctx, "x", strings.NewReader(""), 0), context.Canceled)
	})

	t.Run("empty root", func(t *testing.T) {
		_, err := NewLocalStore(" ")
		assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
	})
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()

	st, err := FromConfig(config.BackupConfig{Store: "local", LocalDir: dir})
	require.NoError(t, err)
	local, ok := st.(*LocalStore)
	require.True(t, ok)
	assert.Equal(t, dir, local.Root())

	st, err = FromConfig(config.BackupConfig{Store: "s3", Bucket: "archives", Region: "eu-west-1"})
	require.NoError(t, err)
	assert.IsType(t, &S3Store{}, st)

	st, err = FromConfig(config.BackupConfig{Store: "minio", Bucket: "archives", Endpoint: "localhost:9000"})
	require.NoError(t, err)
	assert.IsType(t, &MinIOStore{}, st)

	_, err = FromConfig(config.BackupConfig{Store: "s3"})
	assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))

	_, err = FromConfig(config.BackupConfig{Store: "minio", Bucket: "archives"})
	assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))

	_, err = FromConfig(config.BackupConfig{Store: "ftp"})
	assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		host    string
		secure  bool
		useSSL  bool
		wantErr bool
	}{
		{"localhost:9000", "localhost:9000", false, false, false},
		{"localhost:9000", "localhost:9000", true, true, false},
		{"http://minio.internal:9000", "minio.internal:9000", true, false, false},
		{"https://minio.example.com", "minio.example.com", false, true, false},
		{"", "", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, secure, err := splitEndpoint(tt.in, tt.useSSL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.secure, secure)
		})
	}
}
