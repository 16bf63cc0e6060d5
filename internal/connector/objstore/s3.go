package objstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"maskflow/internal/config"
)

var _ Store = (*S3)(nil)

// S3 is a Store over an S3-compatible bucket.
type S3 struct {
	client *s3.Client
	loc    Location
}

// NewS3 creates an S3 store from static credentials. A custom endpoint
// switches to path-style addressing, which S3-compatible providers require.
func NewS3(loc Location, cfg config.StorageConfig) (*S3, error) {
	if cfg.S3KeyID == nil || cfg.S3Secret == nil {
		return nil, fmt.Errorf("S3 credentials are required for %s", loc.Root())
	}
	opts := s3.Options{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider(*cfg.S3KeyID, *cfg.S3Secret, ""),
	}
	if cfg.S3Region != nil && *cfg.S3Region != "" {
		opts.Region = *cfg.S3Region
	}
	if cfg.S3Endpoint != nil && *cfg.S3Endpoint != "" {
		endpoint := *cfg.S3Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return &S3{client: s3.New(opts), loc: loc}, nil
}

func (s *S3) Root() string { return s.loc.Root() }

func (s *S3) URI(key string) string { return s.loc.URI(key) }

// List pages through ListObjectsV2 below root/prefix.
func (s *S3) List(ctx context.Context, prefix string) ([]Object, error) {
	full := joinKey(s.loc.Prefix, prefix)
	if full != "" && !strings.HasSuffix(full, "/") && prefix == "" {
		full += "/"
	}
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.loc.Bucket),
		Prefix: aws.String(full),
	})
	var out []Object
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.loc.Bucket, full, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			rel := relKey(s.loc.Prefix, key)
			out = append(out, Object{URI: s.loc.URI(rel), Key: rel, Size: aws.ToInt64(obj.Size)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes an object.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.loc.Bucket),
		Key:    aws.String(joinKey(s.loc.Prefix, key)),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", s.URI(key), err)
	}
	return nil
}
