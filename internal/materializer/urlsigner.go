package materializer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sharelane/dataplane/internal/config"
)

// URLSigner produces time-limited download URLs for materialized
// objects, substituting a plain URL in local development where no real
// signer is needed (spec §4.6).
type URLSigner struct {
	presign *s3.PresignClient
	cfg     *config.Config
}

// NewURLSigner builds a signer against an existing S3 client.
func NewURLSigner(client *s3.Client, cfg *config.Config) *URLSigner {
	s := &URLSigner{cfg: cfg}
	if client != nil {
		s.presign = s3.NewPresignClient(client)
	}
	return s
}

// Sign returns a GET URL for key valid for cfg.PresignTTL. Against a
// local-development object store it returns a plain URL instead, since
// LocalStack's SigV4 implementation frequently disagrees with the SDK's
// canonical request over host/port rewriting (mirrors
// get_presigned_url's is_localstack branch).
func (s *URLSigner) Sign(ctx context.Context, key string) (string, error) {
	if s.cfg.IsLocalObjectStore() {
		return fmt.Sprintf("%s/%s/%s", fixEndpointForClient(s.cfg.S3EndpointURL), s.cfg.S3BucketName, key), nil
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.cfg.S3BucketName,
		Key:    &key,
	}, s3.WithPresignExpires(s.cfg.PresignTTL))
	if err != nil {
		// Fall back to a plain URL rather than fail the query outright —
		// the seller's original server does the same on any signing
		// error, treating the presign step as best-effort.
		return fmt.Sprintf("%s/%s/%s", fixEndpointForClient(s.cfg.S3EndpointURL), s.cfg.S3BucketName, key), nil
	}
	return fixEndpointForClient(req.URL), nil
}
