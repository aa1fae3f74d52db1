// Package materializer writes watermarked record batches to object
// storage as Parquet, signs a time-limited GET URL for the result, and
// opportunistically garbage-collects old watermarked files (spec §4.6).
package materializer

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sharelane/dataplane/internal/config"
)

// NewS3Client builds an S3 client pointed at the operator's configured
// endpoint, with path-style addressing forced on so this also works
// against LocalStack and MinIO in development (mirrors the seller's
// boto3 client construction in s3_utils.py).
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKey, cfg.S3SecretKey, "",
		)),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.S3EndpointURL != "" {
			endpoint := cfg.S3EndpointURL
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// fixEndpointForClient rewrites an internal-network hostname a presigned
// URL might carry (e.g. "localstack" in a docker-compose network) back to
// one the caller, usually outside that network, can resolve.
func fixEndpointForClient(url string) string {
	return strings.ReplaceAll(url, "localstack", "localhost")
}
