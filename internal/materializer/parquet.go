package materializer

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sharelane/dataplane/internal/config"
)

// ParquetMaterializer writes watermarked record batches to a fresh object
// key and waits for the write to become visible before returning.
type ParquetMaterializer struct {
	s3     *s3.Client
	cfg    *config.Config
	signer *URLSigner
}

// NewParquetMaterializer wires a materializer against an already-built S3
// client and config.
func NewParquetMaterializer(client *s3.Client, cfg *config.Config) *ParquetMaterializer {
	return &ParquetMaterializer{
		s3:     client,
		cfg:    cfg,
		signer: NewURLSigner(client, cfg),
	}
}

// MaterializedFile is the result of writing and confirming one watermarked
// Parquet object.
type MaterializedFile struct {
	Key       string
	SizeBytes int64
	URL       string
}

// Write serializes records to Parquet, uploads them under
// {tablePrefix}/_watermarked_{shareID}_{8-hex}.parquet, confirms the
// upload is visible, and returns a signed URL (spec §4.6).
func (m *ParquetMaterializer) Write(ctx context.Context, tablePrefix string, shareID int64, schema *arrow.Schema, records []arrow.Record) (*MaterializedFile, error) {
	key, err := buildKey(tablePrefix, shareID)
	if err != nil {
		return nil, fmt.Errorf("materializer: build key: %w", err)
	}

	buf, err := encodeParquet(schema, records)
	if err != nil {
		return nil, fmt.Errorf("materializer: encode parquet: %w", err)
	}

	if _, err := m.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &m.cfg.S3BucketName,
		Key:    &key,
		Body:   bytes.NewReader(buf.Bytes()),
	}); err != nil {
		return nil, fmt.Errorf("materializer: put object: %w", err)
	}

	size, err := confirmVisible(ctx, m.s3, m.cfg, key)
	if err != nil {
		return nil, fmt.Errorf("materializer: confirm visibility: %w", err)
	}

	url, err := m.signer.Sign(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("materializer: sign url: %w", err)
	}

	return &MaterializedFile{Key: key, SizeBytes: size, URL: url}, nil
}

func buildKey(tablePrefix string, shareID int64) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/_watermarked_%d_%s.parquet", tablePrefix, shareID, hex.EncodeToString(suffix)), nil
}

// encodeParquet writes records to an in-memory Parquet file using the
// Arrow columnar writer. Batches are flushed as they arrive so memory use
// tracks the result set, not the whole table (spec §5).
func encodeParquet(schema *arrow.Schema, records []arrow.Record) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(parquet.Codecs.Snappy),
	)
	arrowProps := pqarrow.DefaultWriterProps()

	writer, err := pqarrow.NewFileWriter(schema, buf, writerProps, arrowProps)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if err := writer.WriteBuffered(rec); err != nil {
			writer.Close()
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

// confirmVisible HEADs the object with up to cfg.HeadRetries retries at
// cfg.HeadRetryInterval, defeating read-after-write ambiguity on
// non-strongly-consistent object stores (spec §4.6).
func confirmVisible(ctx context.Context, client *s3.Client, cfg *config.Config, key string) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.HeadRetries; attempt++ {
		out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: &cfg.S3BucketName,
			Key:    &key,
		})
		if err == nil {
			size := int64(0)
			if out.ContentLength != nil {
				size = *out.ContentLength
			}
			return size, nil
		}
		lastErr = err
		if attempt < cfg.HeadRetries {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(cfg.HeadRetryInterval):
			}
		}
	}
	return 0, lastErr
}
