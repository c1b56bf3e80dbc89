// Package archive reads and writes snapshot archives: gzip-compressed JSON
// lines, one stored snapshot per line.
//
//	{"collection":"carts","userId":"u1","updatedAt":"2026-01-02T03:04:05Z","payload":[...]}
package archive

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
)

// maxLine bounds a single archived snapshot.
const maxLine = 16 << 20

// Record is one archived snapshot. Payload is the stored JSON document.
type Record struct {
	Collection string
	UserID     string
	UpdatedAt  time.Time
	Payload    []byte
}

// Writer compresses records to an underlying writer.
type Writer struct {
	gz *pgzip.Writer
	e  jx.Encoder
	n  int
}

// NewWriter returns a Writer. Close must be called to flush the stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{gz: pgzip.NewWriter(w)}
}

// Write appends r. The payload must be valid JSON.
func (w *Writer) Write(r Record) error {
	if !jx.Valid(r.Payload) {
		return errors.Errorf("payload of %s/%s is not valid JSON", r.Collection, r.UserID)
	}

	w.e.Reset()
	w.e.ObjStart()
	w.e.FieldStart("collection")
	w.e.Str(r.Collection)
	w.e.FieldStart("userId")
	w.e.Str(r.UserID)
	if !r.UpdatedAt.IsZero() {
		w.e.FieldStart("updatedAt")
		w.e.Str(r.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}
	w.e.FieldStart("payload")
	w.e.Raw(r.Payload)
	w.e.ObjEnd()

	line := append(w.e.Bytes(), '\n')
	if _, err := w.gz.Write(line); err != nil {
		return errors.Wrap(err, "write record")
	}
	w.n++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int { return w.n }

// Close flushes the compressed stream. It does not close the underlying
// writer.
func (w *Writer) Close() error {
	return w.gz.Close()
}

// Read calls fn for every record in the compressed stream r and returns how
// many records were read.
func Read(ctx context.Context, r io.Reader, fn func(Record) error) (int, error) {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return 0, errors.Wrap(err, "open gzip stream")
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)

	n := 0
	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		rec, err := decodeRecord(scanner.Bytes())
		if err != nil {
			return n, errors.Wrapf(err, "line %d", line)
		}
		if err := fn(rec); err != nil {
			return n, err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Wrap(err, "scan archive")
	}
	return n, nil
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "collection":
			v, err := d.Str()
			rec.Collection = v
			return err
		case "userId":
			v, err := d.Str()
			rec.UserID = v
			return err
		case "updatedAt":
			v, err := d.Str()
			if err != nil {
				return err
			}
			rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, v)
			return err
		case "payload":
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			rec.Payload = append([]byte(nil), raw...)
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Record{}, errors.Wrap(err, "decode record")
	}
	if rec.Collection == "" || rec.UserID == "" || rec.Payload == nil {
		return Record{}, errors.New("record needs collection, userId and payload")
	}
	return rec, nil
}
