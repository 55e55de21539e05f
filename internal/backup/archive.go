package backup

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/pkg/document"
)

const (
	// MagicBytes opens every archive.
	MagicBytes = "AFSN"

	// FormatVersion is the archive layout version.
	FormatVersion uint16 = 1

	// Extension is the archive object suffix.
	Extension = ".afsn"
)

// ErrCorruptArchive is returned for archives that fail to decode.
var ErrCorruptArchive = amerrors.Sentinel(amerrors.ErrCodeFileCorrupt, "backup archive is corrupt")

type header struct {
	Magic   [4]byte
	Version uint16
	Flags   uint16
}

// Manifest describes an archive.
type Manifest struct {
	ID         string    `msgpack:"id" json:"id"`
	Index      string    `msgpack:"index" json:"index"`
	Generation uint64    `msgpack:"generation" json:"generation"`
	Documents  int       `msgpack:"documents" json:"documents"`
	CreatedAt  time.Time `msgpack:"created_at" json:"created_at"`

	// Key is the object key the archive was stored under. Not encoded.
	Key string `msgpack:"-" json:"key"`
}

type record struct {
	Key    string  `msgpack:"k"`
	Fields []field `msgpack:"f"`
}

type field struct {
	Name     string  `msgpack:"n"`
	Kind     uint8   `msgpack:"t"`
	Text     string  `msgpack:"s,omitempty"`
	Number   float64 `msgpack:"d,omitempty"`
	Bool     bool    `msgpack:"b,omitempty"`
	Position int     `msgpack:"p,omitempty"`
}

func toRecord(key string, fields []document.Field) record {
	r := record{Key: key, Fields: make([]field, len(fields))}
	for i, f := range fields {
		r.Fields[i] = field{
			Name:     f.Name,
			Kind:     uint8(f.Kind),
			Text:     f.Text,
			Number:   f.Number,
			Bool:     f.Bool,
			Position: f.Position,
		}
	}
	return r
}

func (r record) documentFields() []document.Field {
	out := make([]document.Field, len(r.Fields))
	for i, f := range r.Fields {
		out[i] = document.Field{
			Name:     f.Name,
			Kind:     document.FieldKind(f.Kind),
			Text:     f.Text,
			Number:   f.Number,
			Bool:     f.Bool,
			Position: f.Position,
			Stored:   true,
		}
	}
	return out
}

// archiveWriter streams a manifest and its records into w.
type archiveWriter struct {
	lz      *lz4.Writer
	enc     *msgpack.Encoder
	written int
	want    int
}

func newArchiveWriter(w io.Writer, m Manifest) (*archiveWriter, error) {
	h := header{Version: FormatVersion}
	copy(h.Magic[:], MagicBytes)
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("write archive header: %w", err)
	}

	lz := lz4.NewWriter(w)
	enc := msgpack.NewEncoder(lz)
	if err := enc.Encode(&m); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return &archiveWriter{lz: lz, enc: enc, want: m.Documents}, nil
}

func (a *archiveWriter) write(key string, fields []document.Field) error {
	if a.written == a.want {
		return fmt.Errorf("archive holds %d documents, got more", a.want)
	}
	rec := toRecord(key, fields)
	if err := a.enc.Encode(&rec); err != nil {
		return fmt.Errorf("encode document %s: %w", key, err)
	}
	a.written++
	return nil
}

func (a *archiveWriter) close() error {
	if a.written != a.want {
		return fmt.Errorf("archive holds %d documents, wrote %d", a.want, a.written)
	}
	return a.lz.Close()
}

// archiveReader decodes an archive written by archiveWriter.
type archiveReader struct {
	dec      *msgpack.Decoder
	manifest Manifest
	read     int
}

func newArchiveReader(r io.Reader) (*archiveReader, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, corrupt("read header", err)
	}
	if string(h.Magic[:]) != MagicBytes {
		return nil, corrupt(fmt.Sprintf("bad magic %q", h.Magic[:]), nil)
	}
	if h.Version != FormatVersion {
		return nil, corrupt(fmt.Sprintf("unsupported version %d", h.Version), nil)
	}

	dec := msgpack.NewDecoder(lz4.NewReader(r))
	a := &archiveReader{dec: dec}
	if err := dec.Decode(&a.manifest); err != nil {
		return nil, corrupt("decode manifest", err)
	}
	if a.manifest.Documents < 0 {
		return nil, corrupt("negative document count", nil)
	}
	return a, nil
}

// next returns the next record, or io.EOF after the last one.
func (a *archiveReader) next() (record, error) {
	if a.read == a.manifest.Documents {
		return record{}, io.EOF
	}
	var rec record
	if err := a.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return record{}, corrupt(fmt.Sprintf("decode document %d of %d", a.read+1, a.manifest.Documents), err)
	}
	if rec.Key == "" {
		return record{}, corrupt(fmt.Sprintf("document %d has no key", a.read+1), nil)
	}
	a.read++
	return rec, nil
}

func corrupt(msg string, cause error) error {
	return amerrors.New(amerrors.ErrCodeFileCorrupt, ErrCorruptArchive.Message+": "+msg, cause)
}
