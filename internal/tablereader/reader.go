// Package tablereader opens a seller's Parquet table, derives the
// projection the buyer is entitled to see, and produces row batches
// lazily with the compiled predicate filter already applied (spec §4.3).
package tablereader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sharelane/dataplane/internal/apierr"
	"github.com/sharelane/dataplane/internal/predicate"
	"github.com/sharelane/dataplane/pkg/valuetag"
)

// Projection is the resolved column set for one query: the buyer's
// requested columns unioned with the dataset's anchor columns, which are
// always read so the watermark step can compute a row anchor even when
// the buyer never asked for those columns (spec §4.3).
type Projection struct {
	// Columns is every column to read from the file, in schema order.
	Columns []string
	// Requested is the subset the buyer actually asked to see in the
	// response; anchor-only columns are stripped before emitting rows
	// unless the buyer also requested them.
	Requested map[string]bool
}

// BuildProjection validates requestedColumns against the schema and
// returns the read projection. An empty requestedColumns means "all
// columns". A requested column absent from the schema is a 400; an
// anchor column absent from the schema is a 500 (spec §4.3, §4.11).
func BuildProjection(schemaColumns, requestedColumns, anchorColumns []string) (Projection, error) {
	schemaSet := predicate.SchemaColumns(schemaColumns)

	for _, col := range anchorColumns {
		if !schemaSet[col] {
			return Projection{}, apierr.New(apierr.CodeSchemaMismatch,
				fmt.Sprintf("configured anchor column %q not found in table schema", col))
		}
	}

	requested := requestedColumns
	if len(requested) == 0 {
		requested = schemaColumns
	}
	requestedSet := make(map[string]bool, len(requested))
	var missing []string
	for _, col := range requested {
		if !schemaSet[col] {
			missing = append(missing, col)
		}
		requestedSet[col] = true
	}
	if len(missing) > 0 {
		return Projection{}, apierr.New(apierr.CodeUnknownColumn, fmt.Sprintf("columns not found: %v", missing))
	}

	union := make(map[string]bool, len(requested)+len(anchorColumns))
	for _, col := range requested {
		union[col] = true
	}
	for _, col := range anchorColumns {
		union[col] = true
	}

	// Preserve schema order in the projection so downstream Arrow reads
	// stay column-index-stable.
	ordered := make([]string, 0, len(union))
	for _, col := range schemaColumns {
		if union[col] {
			ordered = append(ordered, col)
		}
	}

	return Projection{Columns: ordered, Requested: requestedSet}, nil
}

// Scanner produces row batches from a single Parquet object, one
// arrow.Record at a time, with the compiled predicate already applied.
type Scanner struct {
	schema *arrow.Schema
	reader pqarrow.RecordReader
	filter predicate.CompiledFilter
	closer io.Closer
}

// Schema returns the Arrow schema of the projected columns actually read
// (not the full table schema).
func (s *Scanner) Schema() *arrow.Schema { return s.schema }

// TimestampColumns returns the subset of the scanner's schema that are
// timestamp-typed, discovered structurally rather than by column name
// (spec §4.5: "discovered by schema, not name").
func (s *Scanner) TimestampColumns() []string {
	var out []string
	for _, f := range s.schema.Fields() {
		if _, ok := f.Type.(*arrow.TimestampType); ok {
			out = append(out, f.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Next returns the next filtered record batch, or io.EOF when exhausted.
// Unfiltered batches are re-sliced locally so the filter still benefits
// from Parquet's columnar decode even though the predicate itself is
// applied row-at-a-time in Go rather than pushed into the Parquet
// reader's own row-group statistics pruning.
func (s *Scanner) Next(ctx context.Context) (arrow.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.reader.Read()
		if err != nil {
			return nil, err
		}
		filtered := filterRecord(rec, s.filter)
		rec.Release()
		if filtered == nil {
			continue
		}
		return filtered, nil
	}
}

// Close releases the underlying Parquet file handle.
func (s *Scanner) Close() error {
	s.reader.Release()
	return s.closer.Close()
}

// Table is an opened Parquet object whose full schema is known but whose
// rows have not yet been read. Splitting "open and read schema" from
// "scan projected columns" lets the pipeline build a Projection (which
// needs the full column list) before committing to which columns to
// decode.
type Table struct {
	fileReader *pqarrow.FileReader
	fullSchema *arrow.Schema
	closer     io.Closer
}

// Schema returns every column the underlying Parquet file carries,
// regardless of what a query ultimately projects.
func (t *Table) Schema() *arrow.Schema { return t.fullSchema }

// Close releases the underlying file handle. The Scanner returned by Scan
// shares this same handle and Scanner.Close releases it as well; the
// callers in this repository defer both Close calls.
func (t *Table) Close() error { return t.closer.Close() }

// Scan resolves proj.Columns against the table's full schema and returns
// a Scanner that reads only those columns, applying filter per row.
func (t *Table) Scan(ctx context.Context, proj Projection, filter predicate.CompiledFilter) (*Scanner, error) {
	indices := make([]int, 0, len(proj.Columns))
	for _, col := range proj.Columns {
		idx := t.fullSchema.FieldIndices(col)
		if len(idx) == 0 {
			return nil, apierr.New(apierr.CodeSchemaMismatch, fmt.Sprintf("projected column %q missing from parquet schema", col))
		}
		indices = append(indices, idx[0])
	}

	recordReader, err := t.fileReader.GetRecordReader(ctx, indices, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "failed to build record reader", err)
	}

	return &Scanner{
		schema: recordReader.Schema(),
		reader: recordReader,
		filter: filter,
		closer: t.closer,
	}, nil
}

// OpenTable downloads the object at key from bucket and opens it as a
// Parquet file, returning a Table positioned to scan any projection of
// its columns. The whole object is buffered in memory: result sets here
// are per-query slices of a seller's table, not the table itself, and
// the seller's original implementation made the same tradeoff reading
// through pyarrow's dataset API.
func OpenTable(ctx context.Context, client *s3.Client, bucket, key string) (*Table, error) {
	obj, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "failed to open table object", err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "failed to read table object", err)
	}

	reader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "failed to open parquet file", err)
	}

	fileReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		reader.Close()
		return nil, apierr.Wrap(apierr.CodeInternal, "failed to open arrow reader", err)
	}

	fullSchema, err := fileReader.Schema()
	if err != nil {
		reader.Close()
		return nil, apierr.Wrap(apierr.CodeInternal, "failed to read schema", err)
	}

	return &Table{fileReader: fileReader, fullSchema: fullSchema, closer: reader}, nil
}

// filterRecord applies filter row-by-row to rec, returning a new record
// holding only the matching rows, or nil if none matched. Returns rec
// itself (retained) when filter has no predicates, since the conjunction
// of zero predicates is vacuously true for every row.
func filterRecord(rec arrow.Record, filter predicate.CompiledFilter) arrow.Record {
	keep := make([]int, 0, rec.NumRows())
	for i := 0; i < int(rec.NumRows()); i++ {
		row := rowAt(rec, i)
		if filter.Matches(row) {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return nil
	}
	if len(keep) == int(rec.NumRows()) {
		rec.Retain()
		return rec
	}
	return takeRows(rec, keep)
}

// rowAt extracts row i of rec into the valuetag representation shared
// with row-anchor computation and predicate evaluation.
func rowAt(rec arrow.Record, i int) map[string]valuetag.Value {
	row := make(map[string]valuetag.Value, int(rec.NumCols()))
	schema := rec.Schema()
	for c := 0; c < int(rec.NumCols()); c++ {
		row[schema.Field(c).Name] = columnValue(rec.Column(c), i)
	}
	return row
}
