package materializer

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/sharelane/dataplane/internal/config"
)

// watermarkedMarker is the basename prefix buildKey stamps onto every
// object this package writes. GC must never delete anything else —
// prefix is an operator-supplied scoping hint, not a safety boundary, so
// the marker check is what actually keeps this from touching a seller's
// source tables (spec §4.6, mirrors the original's
// cleanup_old_watermarked_files, which only ever globs "_watermarked_*").
const watermarkedMarker = "_watermarked_"

// GC opportunistically deletes watermarked Parquet files older than
// cfg.MaterializedFileTTL under prefix, never touching an object whose
// basename doesn't carry watermarkedMarker. Best effort: any listing or
// delete error is logged and otherwise ignored, matching the seller's
// cleanup_old_watermarked_files, which never lets garbage collection
// fail the request that triggered it.
func GC(ctx context.Context, client *s3.Client, cfg *config.Config, prefix string, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	cutoff := time.Now().Add(-cfg.MaterializedFileTTL)

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: &cfg.S3BucketName,
		Prefix: &prefix,
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			log.Warn("materializer gc: list failed", zap.String("prefix", prefix), zap.Error(err))
			return
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || !eligibleForDeletion(*obj.Key, obj.LastModified, cutoff) {
				continue
			}
			if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: &cfg.S3BucketName,
				Key:    obj.Key,
			}); err != nil {
				log.Warn("materializer gc: delete failed", zap.String("key", *obj.Key), zap.Error(err))
			}
		}
	}
}

// eligibleForDeletion is GC's entire safety boundary: an object is a
// candidate only when its basename carries watermarkedMarker, it has a
// .parquet suffix, and it was last modified before cutoff. prefix passed
// to GC is just a scoping hint for the list call, never relied on here —
// this check alone is what stops GC from ever touching a seller's source
// table, no matter how GC is invoked.
func eligibleForDeletion(key string, lastModified *time.Time, cutoff time.Time) bool {
	if !strings.HasSuffix(key, ".parquet") {
		return false
	}
	if !strings.HasPrefix(path.Base(key), watermarkedMarker) {
		return false
	}
	if lastModified == nil || lastModified.After(cutoff) {
		return false
	}
	return true
}
