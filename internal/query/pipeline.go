// Package query orchestrates one end-to-end request through every
// component of the sharing data plane: authenticate, resolve the
// dataset, parse and validate predicates, scan and filter the table,
// embed the buyer's watermark, materialize the result, sign a download
// URL, render the Delta Sharing wire response, and record the audit
// trail (spec §2, §5). It is the single place that orders those steps;
// every component it calls is independently testable, but only this
// package asserts the order they run in.
package query

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/sharelane/dataplane/internal/apierr"
	"github.com/sharelane/dataplane/internal/audit"
	"github.com/sharelane/dataplane/internal/auth"
	"github.com/sharelane/dataplane/internal/catalog"
	"github.com/sharelane/dataplane/internal/config"
	"github.com/sharelane/dataplane/internal/materializer"
	"github.com/sharelane/dataplane/internal/predicate"
	"github.com/sharelane/dataplane/internal/protocol"
	"github.com/sharelane/dataplane/internal/rowanchor"
	"github.com/sharelane/dataplane/internal/tablereader"
	"github.com/sharelane/dataplane/internal/watermark"
	"github.com/sharelane/dataplane/pkg/valuetag"
)

// watermarkIDColumn is the synthetic column name trial shares get,
// always absent from the underlying table schema (spec §4.5).
const watermarkIDColumn = "_watermark_id"

// schemaName is the only schema this server ever exposes — the original
// implementation hard-codes it too (spec §6).
const schemaName = "default"

// Deps are the dependency-injected collaborators a Pipeline needs. Every
// field is required except Clock and Log, which default to time.Now and
// a no-op logger, and AuditWriter: when it is nil no audit row is written.
type Deps struct {
	Auth         *auth.Authenticator
	Datasets     catalog.DatasetStore
	S3           *s3.Client
	Materializer *materializer.ParquetMaterializer
	AuditWriter  *audit.Writer
	Config       *config.Config
	Clock        func() time.Time
	Log          *zap.Logger
}

// Pipeline runs queries against one seller's resolved ShareStore/S3
// bucket pair.
type Pipeline struct {
	deps Deps
}

// New builds a Pipeline from deps, defaulting Clock and Log.
func New(deps Deps) *Pipeline {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Pipeline{deps: deps}
}

// resolved is the common prefix every wire endpoint needs: an
// authenticated, access-checked share and its backing dataset.
type resolved struct {
	share   *catalog.Share
	dataset *catalog.Dataset
}

// resolve authenticates authorization, confirms it names shareName, and
// loads the dataset it grants access to. Every handler in
// internal/httpapi funnels through this first (spec §4.1, §4.10).
func (p *Pipeline) resolve(ctx context.Context, authorization, shareName string) (*resolved, error) {
	share, err := p.deps.Auth.Authenticate(ctx, authorization)
	if err != nil {
		return nil, err
	}
	if _, err := auth.ShareNameID(shareName, share); err != nil {
		return nil, err
	}
	dataset, err := p.deps.Datasets.DatasetByID(ctx, share.DatasetID)
	if err != nil {
		if err == catalog.ErrNotFound {
			return nil, apierr.New(apierr.CodeDatasetNotFound, "dataset not found")
		}
		return nil, apierr.Wrap(apierr.CodeInternal, "dataset lookup failed", err)
	}
	return &resolved{share: share, dataset: dataset}, nil
}

// tableName is the wire-visible table name for a dataset: its configured
// TableName, falling back to Name (spec.md's distillation never names
// this fallback; original_source's list_tables does).
func tableName(d *catalog.Dataset) string {
	if d.TableName != "" {
		return d.TableName
	}
	return d.Name
}

func checkTableName(dataset *catalog.Dataset, requested string) error {
	if requested != tableName(dataset) {
		return apierr.New(apierr.CodeTableNotFound, fmt.Sprintf("table %s not found", requested))
	}
	return nil
}

// ShareItem/SchemaItem/TableItem back the /shares, .../schemas, and
// .../tables listing endpoints.
type ShareItem struct{ Name string }
type SchemaItem struct{ Name, Share string }
type TableItem struct{ Name, Share, Schema string }

// ListShares authenticates authorization and returns the single share it
// names (spec §6: a bearer token is scoped to exactly one share).
func (p *Pipeline) ListShares(ctx context.Context, authorization string) (ShareItem, error) {
	share, err := p.deps.Auth.Authenticate(ctx, authorization)
	if err != nil {
		return ShareItem{}, err
	}
	return ShareItem{Name: fmt.Sprintf("share_%d", share.ID)}, nil
}

// ListSchemas returns the one fixed schema a share exposes.
func (p *Pipeline) ListSchemas(ctx context.Context, authorization, shareName string) (SchemaItem, error) {
	if _, err := p.resolve(ctx, authorization, shareName); err != nil {
		return SchemaItem{}, err
	}
	return SchemaItem{Name: schemaName, Share: shareName}, nil
}

// ListTables returns the single table a share's dataset backs.
func (p *Pipeline) ListTables(ctx context.Context, authorization, shareName, schemaNameIn string) (TableItem, error) {
	r, err := p.resolve(ctx, authorization, shareName)
	if err != nil {
		return TableItem{}, err
	}
	return TableItem{Name: tableName(r.dataset), Share: shareName, Schema: schemaNameIn}, nil
}

// MetadataResult is what the .../metadata endpoint renders.
type MetadataResult struct {
	Body         string
	TableVersion int64
}

// Metadata renders the protocol+metaData NDJSON body for a table's full
// schema, with no row access (spec §4.7, §6).
func (p *Pipeline) Metadata(ctx context.Context, authorization, shareName, reqSchemaName, reqTableName string) (*MetadataResult, error) {
	r, err := p.resolve(ctx, authorization, shareName)
	if err != nil {
		return nil, err
	}
	if err := checkTableName(r.dataset, reqTableName); err != nil {
		return nil, err
	}

	table, err := tablereader.OpenTable(ctx, p.deps.S3, p.deps.Config.S3BucketName, r.dataset.TablePath)
	if err != nil {
		return nil, err
	}
	defer table.Close()

	schemaColumns := fieldNames(table.Schema())
	schemaString, err := protocol.SchemaString(table.Schema(), schemaColumns)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "failed to render schema", err)
	}

	version := tableVersion(r.dataset)
	body, err := protocol.MetadataResponse(reqTableName, schemaString, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "failed to render metadata response", err)
	}
	return &MetadataResult{Body: body, TableVersion: version}, nil
}

// Version reports a table's current version with no body (spec §6).
func (p *Pipeline) Version(ctx context.Context, authorization, shareName, reqSchemaName, reqTableName string) (int64, error) {
	r, err := p.resolve(ctx, authorization, shareName)
	if err != nil {
		return 0, err
	}
	if err := checkTableName(r.dataset, reqTableName); err != nil {
		return 0, err
	}
	return tableVersion(r.dataset), nil
}

// tableVersion stands in for Delta Lake's log-derived version number:
// this data plane serves single Parquet objects directly rather than a
// Delta transaction log, so there is no incrementing version to read.
// Every response reports version 1, which is always consistent with the
// schema and file just rendered (DESIGN.md, Open Question decisions,
// item 4 — no Delta log in scope).
func tableVersion(d *catalog.Dataset) int64 {
	return 1
}

// Request is one buyer query against a table (spec §4.2-4.7).
type Request struct {
	Authorization      string
	ShareName          string
	SchemaName         string
	TableName          string
	ClientIP           string
	RequestedColumns   []string
	RequestedLimit     int
	PredicateHints     []string
	JSONPredicateHints []predicate.JSONPredicate
}

// Result is the rendered NDJSON response to a query.
type Result struct {
	Body         string
	TableVersion int64
}

// Query runs the full pipeline: auth -> parse -> scan -> watermark ->
// materialize -> sign -> emit -> audit (spec §2, §5).
func (p *Pipeline) Query(ctx context.Context, req Request) (*Result, error) {
	r, err := p.resolve(ctx, req.Authorization, req.ShareName)
	if err != nil {
		return nil, err
	}
	if err := checkTableName(r.dataset, req.TableName); err != nil {
		return nil, err
	}
	share, dataset := r.share, r.dataset

	table, err := tablereader.OpenTable(ctx, p.deps.S3, p.deps.Config.S3BucketName, dataset.TablePath)
	if err != nil {
		return nil, err
	}
	defer table.Close()

	schemaColumns := fieldNames(table.Schema())
	anchorColumns, err := resolveAnchorColumns(dataset, schemaColumns)
	if err != nil {
		return nil, err
	}

	limits := predicate.Limits{MaxPredicates: p.deps.Config.MaxPredicates, MaxInListSize: p.deps.Config.MaxInListSize}
	nodes, err := predicate.RequestPredicates(req.JSONPredicateHints, req.PredicateHints, limits)
	if err != nil {
		return nil, err
	}
	if err := predicate.Validate(nodes, predicate.SchemaColumns(schemaColumns), limits); err != nil {
		return nil, err
	}

	proj, err := tablereader.BuildProjection(schemaColumns, req.RequestedColumns, anchorColumns)
	if err != nil {
		return nil, err
	}

	scanner, err := table.Scan(ctx, proj, predicate.Compile(nodes))
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	effectiveLimit, limited := share.EffectiveRowLimit(req.RequestedLimit)
	rows, err := scanRows(ctx, scanner, effectiveLimit, limited)
	if err != nil {
		return nil, err
	}

	timestampCols := scanner.TimestampColumns()
	key := watermark.DeriveKey(p.deps.Config.WatermarkSecret, share.BuyerID, share.ID)
	for _, row := range rows {
		key.EmbedRow(watermark.Row{Values: row, TimestampColumns: timestampCols}, anchorColumns)
		if share.IsTrial {
			anchor := rowanchor.Compute(row, anchorColumns)
			row[watermarkIDColumn] = valuetag.FromInt(watermark.WatermarkID(anchor))
		}
	}

	finalColumns := outputColumns(proj, req.RequestedColumns, share.IsTrial)

	// An empty result set gets no file action and never touches the
	// materializer — there is nothing to watermark or write (spec §8).
	var files []protocol.FileAction
	if needsMaterialization(rows) {
		finalSchema := outputSchema(table.Schema(), finalColumns)
		finalRecord := tablereader.BuildRecord(finalSchema, rows)
		defer finalRecord.Release()

		mf, err := p.deps.Materializer.Write(ctx, dataset.TablePath, share.ID, finalSchema, []arrow.Record{finalRecord})
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "failed to materialize result", err)
		}
		files = []protocol.FileAction{{
			URL:     mf.URL,
			ID:      mf.Key,
			Size:    mf.SizeBytes,
			Version: tableVersion(dataset),
		}}
	}

	schemaStringCols := intersect(finalColumns, schemaColumns)
	schemaString, err := protocol.SchemaString(table.Schema(), schemaStringCols)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "failed to render schema", err)
	}

	version := tableVersion(dataset)
	body, err := protocol.QueryResponse(req.TableName, schemaString, nil, files)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "failed to render query response", err)
	}

	if p.deps.AuditWriter != nil {
		p.deps.AuditWriter.Write(ctx, audit.Entry{
			BuyerID:             share.BuyerID,
			DatasetID:           dataset.ID,
			ShareID:             share.ID,
			QueryTime:           p.deps.Clock(),
			ColumnsRequested:    req.RequestedColumns,
			ColumnsReturned:     finalColumns,
			RowCountReturned:    len(rows),
			EffectiveLimit:      effectiveLimit,
			RequestedPredicates: requestedPredicatesForAudit(req),
			AppliedPredicates:   nodes,
			AnchorColumnsUsed:   anchorColumns,
			ClientIP:            req.ClientIP,
		})
	}

	return &Result{Body: body, TableVersion: version}, nil
}

// requestedPredicatesForAudit mirrors whichever predicate field the
// buyer actually sent, for the audit trail's predicates_requested column
// (spec §4.8).
func requestedPredicatesForAudit(req Request) any {
	if len(req.JSONPredicateHints) > 0 {
		return req.JSONPredicateHints
	}
	if len(req.PredicateHints) > 0 {
		return req.PredicateHints
	}
	return nil
}

// resolveAnchorColumns filters a dataset's configured anchor columns
// down to the ones actually present in the table schema, failing loud
// when configuration and schema have drifted (spec §4.3, matching the
// seller's two-stage anchor_columns check).
func resolveAnchorColumns(dataset *catalog.Dataset, schemaColumns []string) ([]string, error) {
	if len(dataset.AnchorColumns) == 0 {
		return nil, apierr.New(apierr.CodeSchemaMismatch, "dataset anchor_columns not configured")
	}
	schemaSet := predicate.SchemaColumns(schemaColumns)
	var filtered []string
	for _, c := range dataset.AnchorColumns {
		if schemaSet[c] {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return nil, apierr.New(apierr.CodeSchemaMismatch, "configured anchor columns not found in table schema")
	}
	return filtered, nil
}

// scanRows drains scanner into row maps, stopping once effectiveLimit
// rows have been collected when limited is true. The last batch is
// truncated rather than dropped so a limit never loses whole rows it
// could otherwise have returned (spec §4.11).
func scanRows(ctx context.Context, scanner *tablereader.Scanner, effectiveLimit int, limited bool) ([]map[string]valuetag.Value, error) {
	var rows []map[string]valuetag.Value
	for {
		if limited && len(rows) >= effectiveLimit {
			break
		}
		rec, err := scanner.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "failed to scan table", err)
		}
		batch := tablereader.RowsOf(rec)
		rec.Release()
		if limited && len(rows)+len(batch) > effectiveLimit {
			batch = batch[:effectiveLimit-len(rows)]
		}
		rows = append(rows, batch...)
	}
	return rows, nil
}

// needsMaterialization reports whether Query must write a watermarked
// Parquet file for this result. An empty table gets zero file actions and
// no watermarking attempt, not a materialized empty file (spec §8).
func needsMaterialization(rows []map[string]valuetag.Value) bool {
	return len(rows) > 0
}

// outputColumns is the final column set returned to the buyer: the
// buyer's own request when explicit (stripping any anchor-only column
// and _watermark_id it didn't ask for), or everything read plus
// _watermark_id for trial shares when the buyer asked for no specific
// projection (spec §4.3, §4.11).
func outputColumns(proj tablereader.Projection, requestedColumns []string, isTrial bool) []string {
	explicit := len(requestedColumns) > 0
	if !explicit {
		cols := append([]string(nil), proj.Columns...)
		if isTrial {
			cols = append(cols, watermarkIDColumn)
		}
		return cols
	}
	var cols []string
	for _, c := range proj.Columns {
		if proj.Requested[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// outputSchema builds the Arrow schema of finalColumns, reusing each
// real column's type from the table's own schema and defining
// _watermark_id as a non-nullable int64.
func outputSchema(tableSchema *arrow.Schema, finalColumns []string) *arrow.Schema {
	byName := make(map[string]arrow.Field, tableSchema.NumFields())
	for _, f := range tableSchema.Fields() {
		byName[f.Name] = f
	}
	fields := make([]arrow.Field, 0, len(finalColumns))
	for _, c := range finalColumns {
		if c == watermarkIDColumn {
			fields = append(fields, arrow.Field{Name: watermarkIDColumn, Type: arrow.PrimitiveTypes.Int64, Nullable: false})
			continue
		}
		if f, ok := byName[c]; ok {
			fields = append(fields, f)
		}
	}
	return arrow.NewSchema(fields, nil)
}

func fieldNames(schema *arrow.Schema) []string {
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return names
}

func intersect(a []string, bSet []string) []string {
	set := predicate.SchemaColumns(bSet)
	var out []string
	for _, c := range a {
		if set[c] {
			out = append(out, c)
		}
	}
	return out
}
