package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Sternrassler/airtable-client/pkg/table"
	gzip "github.com/klauspost/pgzip"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrSchemaMismatch is matched by SchemaMismatchError.
var ErrSchemaMismatch = errors.New("table fields missing from existing csv header")

// SchemaMismatchError is returned when appending to a CSV file whose header
// lacks some of the table's fields.
type SchemaMismatchError struct {
	Path   string
	Fields []string
}

// Error implements the error interface.
func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s: header has no column for %s", e.Path, strings.Join(e.Fields, ", "))
}

// Is reports ErrSchemaMismatch equivalence.
func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

// output is an opened file, possibly behind a gzip compressor.
type output struct {
	w    io.Writer
	gz   *gzip.Writer
	file *os.File
}

func (o *output) Write(p []byte) (int, error) {
	return o.w.Write(p)
}

func (o *output) Close() error {
	var gzErr error
	if o.gz != nil {
		gzErr = o.gz.Close()
	}
	if o.file == nil {
		return gzErr
	}
	if err := o.file.Close(); err != nil {
		return err
	}
	return gzErr
}

// openOutput opens path for one write. "-" is stdout. A ".gz" suffix adds
// gzip compression; in append mode a new gzip member is appended, which
// readers treat as one continuous stream.
func openOutput(path string, mode Mode) (*output, error) {
	if path == "-" {
		return &output{w: os.Stdout}, nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if mode == ModeAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	out := &output{w: f, file: f}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewWriterLevel(f, gzip.BestCompression)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
		out.w = gz
		out.gz = gz
	}
	return out, nil
}

// CSVSink writes a header row of field names followed by one line per row.
// Missing values are empty cells.
type CSVSink struct {
	path string
	mode Mode
}

// NewCSVSink creates a CSV sink for path ("-" for stdout).
func NewCSVSink(path string, mode Mode) *CSVSink {
	return &CSVSink{path: path, mode: mode}
}

func (s *CSVSink) Name() string { return "csv" }

// Write writes tbl. Appending to a file that already has a header lays
// rows out in that header's column order; header columns the table lacks
// stay empty and table fields the header lacks fail with a
// *SchemaMismatchError before anything is written.
func (s *CSVSink) Write(_ context.Context, tbl *table.Table, _ Meta) (int, error) {
	columns := tbl.FieldNames
	writeHeader := true
	if s.mode == ModeAppend && s.path != "-" {
		header, err := readCSVHeader(s.path)
		if err != nil {
			return 0, err
		}
		if header != nil {
			if missing := fieldsNotIn(header, tbl.FieldNames); len(missing) > 0 {
				return 0, &SchemaMismatchError{Path: s.path, Fields: missing}
			}
			columns = header
			writeHeader = false
		}
	}

	out, err := openOutput(s.path, s.mode)
	if err != nil {
		return 0, err
	}

	w := csv.NewWriter(out)
	if writeHeader {
		if err := w.Write(columns); err != nil {
			out.Close()
			return 0, fmt.Errorf("write header: %w", err)
		}
	}

	cells := make([]string, len(columns))
	for _, row := range tbl.Rows {
		for i, name := range columns {
			cells[i] = FormatCell(row[name])
		}
		if err := w.Write(cells); err != nil {
			out.Close()
			return 0, fmt.Errorf("write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		out.Close()
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", s.path, err)
	}
	return tbl.Len(), nil
}

func (s *CSVSink) Close() error { return nil }

// readCSVHeader returns the first record of an existing CSV file, or nil
// when the file is absent or empty.
func readCSVHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, nil
	}

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip reader %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	return header, nil
}

// fieldsNotIn returns the entries of fields that header does not contain.
func fieldsNotIn(header, fields []string) []string {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[h] = true
	}
	var missing []string
	for _, f := range fields {
		if !have[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

// JSONLSink writes one JSON object per row with keys in field order.
// Missing values are written as null.
type JSONLSink struct {
	path string
	mode Mode
}

// NewJSONLSink creates a JSON Lines sink for path ("-" for stdout).
func NewJSONLSink(path string, mode Mode) *JSONLSink {
	return &JSONLSink{path: path, mode: mode}
}

func (s *JSONLSink) Name() string { return "jsonl" }

func (s *JSONLSink) Write(_ context.Context, tbl *table.Table, _ Meta) (int, error) {
	out, err := openOutput(s.path, s.mode)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	for _, row := range tbl.Rows {
		if err := enc.Encode(orderedRow(tbl, row)); err != nil {
			out.Close()
			return 0, fmt.Errorf("encode row: %w", err)
		}
	}

	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", s.path, err)
	}
	return tbl.Len(), nil
}

func (s *JSONLSink) Close() error { return nil }

// orderedRow copies row into an ordered map following tbl.FieldNames.
func orderedRow(tbl *table.Table, row table.Row) *orderedmap.OrderedMap[string, any] {
	om := orderedmap.New[string, any](len(tbl.FieldNames))
	for _, name := range tbl.FieldNames {
		om.Set(name, row[name])
	}
	return om
}
