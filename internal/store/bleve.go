package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/mapping"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/pkg/document"
)

// generationKey is the internal key holding the committed generation.
// It is written in the same batch as the documents it describes.
var generationKey = []byte("amanfacet.generation")

// ErrClosed is returned by operations on a closed index.
var ErrClosed = amerrors.Sentinel(amerrors.ErrCodeClosed, "index is closed")

// Options configures Open.
type Options struct {
	// Name identifies the index in logs and errors.
	Name string

	// Path is the index directory. Empty creates an in-memory index.
	Path string

	// Analyzer names the bleve analyzer for text fields. Default: standard.
	Analyzer string

	// Schema is the field registry of the document type stored in the index.
	Schema *document.Schema

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Index is one bleve index shared by a single writer and many readers.
// Document mutations only reach it through Commit.
type Index struct {
	mu       sync.RWMutex
	index    bleve.Index
	mapping  *mapping.IndexMappingImpl
	analyzer analysis.Analyzer
	schema   *document.Schema
	name     string
	path     string
	closed   bool
	logger   *slog.Logger

	generation atomic.Uint64
}

// validateIndexIntegrity checks if a bleve index is valid before opening.
// Returns nil if valid or absent, an error describing corruption if not.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// isCorruptionError checks if an error from bleve.Open indicates corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment")
}

// Open opens the index at opts.Path, creating it if absent. A corrupted
// index is cleared and recreated empty; the caller must reindex.
func Open(opts Options) (*Index, error) {
	if opts.Schema == nil {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "index schema is required", nil)
	}
	if opts.Analyzer == "" {
		opts.Analyzer = DefaultAnalyzer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	im, err := buildMapping(opts.Schema, opts.Analyzer)
	if err != nil {
		return nil, err
	}
	analyzer := im.AnalyzerNamed(opts.Analyzer)
	if analyzer == nil {
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid, "unknown analyzer", nil).
			WithDetail("analyzer", opts.Analyzer).
			WithSuggestion("use one of: " + strings.Join(Analyzers(), ", "))
	}

	var idx bleve.Index
	if opts.Path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		idx, err = openOnDisk(opts.Path, im, logger)
	}
	if err != nil {
		return nil, amerrors.EngineError("open", err).
			WithDetail("index", opts.Name).
			WithDetail("path", opts.Path)
	}

	i := &Index{
		index:    idx,
		mapping:  im,
		analyzer: analyzer,
		schema:   opts.Schema,
		name:     opts.Name,
		path:     opts.Path,
		logger:   logger,
	}

	gen, err := i.readGeneration()
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	i.generation.Store(gen)

	logger.Debug("index_opened",
		slog.String("index", opts.Name),
		slog.String("path", opts.Path),
		slog.Uint64("generation", gen))

	return i, nil
}

func openOnDisk(path string, im *mapping.IndexMappingImpl, logger *slog.Logger) (bleve.Index, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if validErr := validateIndexIntegrity(path); validErr != nil {
		logger.Warn("index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
		}
		logger.Info("index_cleared",
			slog.String("path", path),
			slog.String("reason", "corruption detected, reindex required"))
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		return bleve.New(path, im)
	}
	if err != nil && isCorruptionError(err) {
		logger.Warn("index_open_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("index corrupted, cannot clear: %w (original: %v)", removeErr, err)
		}
		logger.Info("index_cleared",
			slog.String("path", path),
			slog.String("reason", "open failed with corruption, reindex required"))
		return bleve.New(path, im)
	}
	return idx, err
}

func (i *Index) readGeneration() (uint64, error) {
	raw, err := i.index.GetInternal(generationKey)
	if err != nil {
		return 0, amerrors.EngineError("read generation", err).WithDetail("index", i.name)
	}
	return decodeGeneration(raw)
}

func decodeGeneration(raw []byte) (uint64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, amerrors.New(amerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("generation record has %d bytes, want 8", len(raw)), nil)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func encodeGeneration(gen uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, gen)
	return buf
}

// Name returns the index name.
func (i *Index) Name() string {
	return i.name
}

// Schema returns the field registry the index was opened with.
func (i *Index) Schema() *document.Schema {
	return i.schema
}

// Path returns the index directory, empty for in-memory indexes.
func (i *Index) Path() string {
	return i.path
}

// Generation returns the last committed generation. Zero means nothing
// has been committed yet.
func (i *Index) Generation() uint64 {
	return i.generation.Load()
}

// Commit applies b and stamps it with gen in one atomic engine batch.
// On error nothing from b is visible and the generation is unchanged.
func (i *Index) Commit(b *Batch, gen uint64) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return ErrClosed
	}
	if b.idx != i {
		return amerrors.InternalError("batch belongs to a different index", nil)
	}

	b.batch.SetInternal(generationKey, encodeGeneration(gen))
	if err := i.index.Batch(b.batch); err != nil {
		return amerrors.EngineError("commit", err).
			WithDetail("index", i.name).
			WithDetail("generation", fmt.Sprint(gen))
	}
	i.generation.Store(gen)
	return nil
}

// Resync reloads the committed generation from the engine, replacing the
// cached value. Used after a failed commit.
func (i *Index) Resync() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return 0, ErrClosed
	}
	gen, err := i.readGeneration()
	if err != nil {
		return 0, err
	}
	i.generation.Store(gen)
	return gen, nil
}

// Exists reports whether a committed document has the given ID.
func (i *Index) Exists(id string) (bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return false, ErrClosed
	}

	doc, err := i.index.Document(id)
	if err != nil {
		return false, amerrors.EngineError("lookup", err).
			WithDetail("index", i.name).
			WithDetail("key", id)
	}
	return doc != nil, nil
}

// Snapshot opens a point-in-time reader over the committed state.
// The snapshot must be closed by the caller.
func (i *Index) Snapshot() (*Snapshot, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, ErrClosed
	}

	adv, err := i.index.Advanced()
	if err != nil {
		return nil, amerrors.EngineError("open snapshot", err).WithDetail("index", i.name)
	}
	reader, err := adv.Reader()
	if err != nil {
		return nil, amerrors.EngineError("open snapshot", err).WithDetail("index", i.name)
	}

	raw, err := reader.GetInternal(generationKey)
	if err != nil {
		_ = reader.Close()
		return nil, amerrors.EngineError("read generation", err).WithDetail("index", i.name)
	}
	gen, err := decodeGeneration(raw)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}

	return &Snapshot{reader: reader, mapping: i.mapping, index: i.name, generation: gen}, nil
}

// Stats returns index statistics.
func (i *Index) Stats() (*IndexStats, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, ErrClosed
	}

	count, err := i.index.DocCount()
	if err != nil {
		return nil, amerrors.EngineError("count", err).WithDetail("index", i.name)
	}
	return &IndexStats{
		Name:          i.name,
		Path:          i.path,
		InMemory:      i.path == "",
		DocumentCount: count,
		Generation:    i.generation.Load(),
	}, nil
}

// Close closes the index. Snapshots should be closed first.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true
	if err := i.index.Close(); err != nil {
		return amerrors.EngineError("close", err).WithDetail("index", i.name)
	}
	return nil
}
