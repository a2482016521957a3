// Package s3blob implements storage.BlobStore against an S3-compatible
// object store, the cloud-backed counterpart to fsblob for deployments
// where worker-executor pods don't share a local disk. Grounded on
// kubernaut's use of the aws-sdk-go-v2 module family (config.LoadDefaultConfig
// plus a generated service client) for its Bedrock client, the same
// load-default-config-then-build-client shape applied here to s3.Client.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/golem-go/golem/pkg/storage"
)

// Store addresses blobs as objects named "<container>/<path>" within a
// single bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// New loads the default AWS credential chain (env vars, shared config,
// instance role) and builds a Store over bucket. region may be empty to
// defer to the loaded config's default region.
func New(ctx context.Context, bucket, region string) (*Store, error) {
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func key(container, path string) string {
	return container + "/" + path
}

func (s *Store) Put(ctx context.Context, container, path string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key(container, path)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (s *Store) Get(ctx context.Context, container, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key(container, path)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *Store) Delete(ctx context.Context, container, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key(container, path)),
	})
	return err
}

func (s *Store) Exists(ctx context.Context, container, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key(container, path)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List paginates ListObjectsV2 under the container prefix and strips it
// back off each returned key.
func (s *Store) List(ctx context.Context, container string) ([]string, error) {
	prefix := container + "/"
	var paths []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			paths = append(paths, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return paths, nil
}

func (s *Store) Close() error { return nil }

var _ storage.BlobStore = (*Store)(nil)
