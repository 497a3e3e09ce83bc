// Package source resolves s3:// and gs:// object URIs to time-limited
// pre-signed HTTPS GET URLs, the same scheme dispatch the teacher's
// GetDownloader performs, narrowed to resolution only: once resolved,
// the rest of blobfetch only ever speaks plain HTTP range-GET.
package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultExpiry is how long a resolved pre-signed URL remains valid.
const DefaultExpiry = 1 * time.Hour

// Resolver resolves source URIs to HTTPS GET URLs.
type Resolver struct {
	s3Presign *s3.PresignClient
	gcs       *storage.Client
	expiry    time.Duration
}

// New constructs a Resolver. Both clients are built lazily on first
// use of their respective scheme (in resolveS3 and resolveGCS), since
// most jobs only need one cloud provider's SDK initialized.
func New(ctx context.Context) (*Resolver, error) {
	return &Resolver{expiry: DefaultExpiry}, nil
}

// Resolve maps rawURL to a plain HTTPS GET URL. http:// and https://
// URLs pass through unchanged; s3:// and gs:// URIs are pre-signed.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	switch {
	case strings.HasPrefix(rawURL, "s3://"):
		return r.resolveS3(ctx, rawURL)
	case strings.HasPrefix(rawURL, "gs://"):
		return r.resolveGCS(ctx, rawURL)
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return rawURL, nil
	default:
		return "", fmt.Errorf("source: unrecognized URI scheme in %q", rawURL)
	}
}

func splitBucketKey(rawURL, scheme string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("source: parsing %s URI %q: %w", scheme, rawURL, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("source: %s URI %q missing bucket or key", scheme, rawURL)
	}
	return bucket, key, nil
}

func (r *Resolver) resolveS3(ctx context.Context, rawURL string) (string, error) {
	bucket, key, err := splitBucketKey(rawURL, "s3")
	if err != nil {
		return "", err
	}
	if r.s3Presign == nil {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return "", fmt.Errorf("source: loading AWS config: %w", err)
		}
		client := s3.NewFromConfig(cfg)
		r.s3Presign = s3.NewPresignClient(client)
	}
	req, err := r.s3Presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.expiry))
	if err != nil {
		return "", fmt.Errorf("source: presigning s3://%s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

func (r *Resolver) resolveGCS(ctx context.Context, rawURL string) (string, error) {
	bucket, key, err := splitBucketKey(rawURL, "gs")
	if err != nil {
		return "", err
	}
	if r.gcs == nil {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return "", fmt.Errorf("source: creating GCS client: %w", err)
		}
		r.gcs = client
	}
	signedURL, err := r.gcs.Bucket(bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(r.expiry),
	})
	if err != nil {
		return "", fmt.Errorf("source: signing gs://%s/%s: %w", bucket, key, err)
	}
	return signedURL, nil
}

// Close releases the GCS client, if one was created.
func (r *Resolver) Close() error {
	if r.gcs != nil {
		return r.gcs.Close()
	}
	return nil
}
