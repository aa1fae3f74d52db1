// Command watermark-verify scores a leaked Parquet file against
// candidate (buyer, share) pairs to attribute a leak to the buyer whose
// watermark it carries (spec §4.9). It has no corresponding HTTP
// endpoint — a leak investigation is an offline, operator-run task.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sharelane/dataplane/internal/config"
	"github.com/sharelane/dataplane/internal/materializer"
	"github.com/sharelane/dataplane/internal/predicate"
	"github.com/sharelane/dataplane/internal/tablereader"
	"github.com/sharelane/dataplane/internal/watermark"
	"github.com/sharelane/dataplane/pkg/valuetag"
)

var version = "dev"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "watermark-verify",
		Short: "Attribute a leaked file to a buyer/share by its embedded watermark",
	}
	root.AddCommand(newVerifyCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

type verifyOptions struct {
	bucket        string
	key           string
	anchorColumns string
	candidates    []string
}

func newVerifyCommand() *cobra.Command {
	opts := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Score a suspect file against one or more candidate buyer:share pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "S3 bucket holding the suspect file (defaults to S3_BUCKET_NAME)")
	cmd.Flags().StringVar(&opts.key, "key", "", "S3 object key of the suspect file")
	cmd.Flags().StringVar(&opts.anchorColumns, "anchor-columns", "", "comma-separated anchor columns used for this dataset")
	cmd.Flags().StringSliceVar(&opts.candidates, "candidate", nil, "buyer_id:share_id pair to test; may be repeated")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("anchor-columns")
	cmd.MarkFlagRequired("candidate")
	return cmd
}

type candidate struct {
	buyerID int64
	shareID int64
}

func parseCandidate(s string) (candidate, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return candidate{}, fmt.Errorf("candidate %q must be buyer_id:share_id", s)
	}
	buyerID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return candidate{}, fmt.Errorf("candidate %q: bad buyer_id: %w", s, err)
	}
	shareID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return candidate{}, fmt.Errorf("candidate %q: bad share_id: %w", s, err)
	}
	return candidate{buyerID: buyerID, shareID: shareID}, nil
}

type verdict struct {
	BuyerID int64            `json:"buyerId"`
	ShareID int64            `json:"shareId"`
	Found   bool             `json:"found"`
	Result  watermark.Result `json:"result"`
}

func runVerify(cmd *cobra.Command, opts *verifyOptions) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	bucket := opts.bucket
	if bucket == "" {
		bucket = cfg.S3BucketName
	}

	anchorColumns := strings.Split(opts.anchorColumns, ",")
	for i := range anchorColumns {
		anchorColumns[i] = strings.TrimSpace(anchorColumns[i])
	}

	candidates := make([]candidate, 0, len(opts.candidates))
	for _, raw := range opts.candidates {
		c, err := parseCandidate(raw)
		if err != nil {
			return err
		}
		candidates = append(candidates, c)
	}

	s3Client, err := materializer.NewS3Client(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build s3 client: %w", err)
	}

	table, err := tablereader.OpenTable(ctx, s3Client, bucket, opts.key)
	if err != nil {
		return fmt.Errorf("open suspect file: %w", err)
	}
	defer table.Close()

	schemaColumns := fieldNames(table)
	proj, err := tablereader.BuildProjection(schemaColumns, nil, anchorColumns)
	if err != nil {
		return fmt.Errorf("build projection: %w", err)
	}

	rows, err := readAllRows(ctx, table, proj)
	if err != nil {
		return fmt.Errorf("read suspect file: %w", err)
	}

	verifyRows := make([]watermark.VerifyRow, 0, len(rows))
	for _, row := range rows {
		verifyRows = append(verifyRows, watermark.VerifyRow{
			AnchorValues:    row,
			TimestampValues: row,
			WatermarkID:     watermarkIDFromRow(row),
		})
	}

	verdicts := make([]verdict, 0, len(candidates))
	for _, c := range candidates {
		key := watermark.DeriveKey(cfg.WatermarkSecret, c.buyerID, c.shareID)
		result := watermark.Verify(key, verifyRows, anchorColumns)
		verdicts = append(verdicts, verdict{BuyerID: c.buyerID, ShareID: c.shareID, Found: result.Found, Result: result})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(verdicts)
}

func fieldNames(table *tablereader.Table) []string {
	schema := table.Schema()
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return names
}

func readAllRows(ctx context.Context, table *tablereader.Table, proj tablereader.Projection) ([]map[string]valuetag.Value, error) {
	scanner, err := table.Scan(ctx, proj, predicate.Compile(nil))
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	var rows []map[string]valuetag.Value
	for {
		rec, err := scanner.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, tablereader.RowsOf(rec)...)
		rec.Release()
	}
	return rows, nil
}

// watermarkIDFromRow reads _watermark_id if the suspect file carries the
// trial-share synthetic column, nil otherwise (spec §4.9 — a
// non-trial-share leak has no watermark_id channel to score).
func watermarkIDFromRow(row map[string]valuetag.Value) *int64 {
	v, ok := row[watermarkIDColumn]
	if !ok || v.Kind() != valuetag.KindInt {
		return nil
	}
	id, err := strconv.ParseInt(v.Normalize(), 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

const watermarkIDColumn = "_watermark_id"
