// Package csv reads a delimited extract into memory.
//
// The sales extract is small (thousands of rows) and the pipeline needs two
// passes over it, so rows are materialized rather than streamed.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Options controls how input is decoded.
type Options struct {
	// Encoding is "utf-8" (default), "latin1"/"iso-8859-1" or
	// "windows-1252"/"cp1252".
	Encoding string

	// Comma is the field delimiter; zero means ','.
	Comma rune

	LazyQuotes bool
}

// Table is a header plus raw string records. Records may be ragged; callers
// index defensively.
type Table struct {
	Header  []string
	Records [][]string
}

// ReadFile opens path and reads it with Read.
func ReadFile(ctx context.Context, path string, opt Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return Read(ctx, f, opt)
}

// Read decodes src into a Table.
//
// Edge cases:
//   - A UTF-8 byte order mark before the first header label is dropped.
//   - Header labels are trimmed of surrounding whitespace.
//   - Blank lines are skipped by encoding/csv.
//
// Errors:
//   - unsupported encoding
//   - empty input (no header)
//   - malformed CSV (the *csv.ParseError carries the line number)
func Read(ctx context.Context, src io.Reader, opt Options) (*Table, error) {
	r, err := decode(src, opt.Encoding)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &Table{Header: make([]string, len(hdr))}
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		t.Header[i] = strings.TrimSpace(h)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv read: %w", err)
		}
		t.Records = append(t.Records, rec)
	}
}

// decode wraps src with a transcoder to UTF-8 for legacy single-byte
// encodings.
func decode(src io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return src, nil
	case "latin1", "latin-1", "iso-8859-1":
		return transform.NewReader(src, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(src, charmap.Windows1252.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}
