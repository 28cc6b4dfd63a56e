// Package objectstore mirrors run outputs (raw sample cache, gsm.jsonl,
// reports) to an S3-compatible object store, for deployments that want run
// artifacts durable outside the runner's local disk. Adapted from
// pkg/logstore/gateway_store.go's bucket/prefix/ensure-bucket/put/
// list-prefix/prune conventions, but talking to MinIO directly via
// minio-go/v7 instead of routing through a gateway gRPC action (the
// gateway's generated gatewayv1 protobuf stubs are not available to this
// module, so the mirror writes straight to the object store it names).
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store mirrors run_root-relative paths into a bucket under a base prefix.
type Store struct {
	client     *minio.Client
	bucket     string
	basePrefix string
}

// NewFromEnv builds a Store from OBJECTSTORE_ENDPOINT, OBJECTSTORE_BUCKET,
// OBJECTSTORE_PREFIX (default "geo-linker"), OBJECTSTORE_ACCESS_KEY,
// OBJECTSTORE_SECRET_KEY, OBJECTSTORE_USE_SSL (default "true"), mirroring
// gateway_store.go's NewGatewayStoreFromEnv env-var convention.
func NewFromEnv() (*Store, error) {
	endpoint := getenv("OBJECTSTORE_ENDPOINT", "")
	if endpoint == "" {
		return nil, fmt.Errorf("objectstore: OBJECTSTORE_ENDPOINT is required")
	}
	bucket := getenv("OBJECTSTORE_BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("objectstore: OBJECTSTORE_BUCKET is required")
	}
	useSSL := getenv("OBJECTSTORE_USE_SSL", "true") != "false"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(getenv("OBJECTSTORE_ACCESS_KEY", ""), getenv("OBJECTSTORE_SECRET_KEY", ""), ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: connect: %w", err)
	}

	return &Store{
		client:     client,
		bucket:     bucket,
		basePrefix: getenv("OBJECTSTORE_PREFIX", "geo-linker"),
	}, nil
}

// EnsureBucket creates the target bucket if it does not already exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("objectstore: bucket exists check: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

// PutFile uploads the local file at localPath to runID/relPath under the
// store's base prefix.
func (s *Store) PutFile(ctx context.Context, runID, relPath, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("objectstore: read %s: %w", localPath, err)
	}
	key := s.key(runID, relPath)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// ListRunObjects lists every object key mirrored for runID.
func (s *Store) ListRunObjects(ctx context.Context, runID string) ([]string, error) {
	prefix := s.key(runID, "")
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("objectstore: list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Prune removes mirrored objects for runs older than retentionDays,
// following gateway_store.go's Prune timestamp-suffix convention, here
// keyed on the object's stored ModTime rather than a filename timestamp.
func (s *Store) Prune(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.basePrefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("objectstore: prune list: %w", obj.Err)
		}
		if obj.LastModified.Before(cutoff) {
			if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
				return fmt.Errorf("objectstore: prune remove %s: %w", obj.Key, err)
			}
		}
	}
	return nil
}

func (s *Store) key(runID, relPath string) string {
	if relPath == "" {
		return strings.Trim(path.Join(s.basePrefix, runID), "/")
	}
	return strings.Trim(path.Join(s.basePrefix, runID, relPath), "/")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
