package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// Store keeps run artifacts (raw tool outputs, aggregated findings) in a
// MinIO bucket.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
	log        zerolog.Logger
}

// New connects to MinIO and ensures the bucket exists.
func New(ctx context.Context, log zerolog.Logger, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Store{
		client:     cli,
		bucketName: bucket,
		region:     region,
		log:        log.With().Str("component", "artifact-store").Logger(),
	}, nil
}

// Upload puts a local file into the bucket and returns its URL. The
// local file is left in place.
func (s *Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}

	contentType := "application/octet-stream"
	switch filepath.Ext(localPath) {
	case ".json", ".sarif":
		contentType = "application/json"
	case ".ndjson", ".jsonl":
		contentType = "application/x-ndjson"
	}

	_, err := s.client.FPutObject(ctx, s.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}

	// Public-bucket URL; a private bucket needs presigning instead.
	url := fmt.Sprintf("http://%s/%s/%s", s.client.EndpointURL().Host, s.bucketName, key)
	return url, nil
}

// UploadAndCleanup uploads a local file and removes it afterwards. Raw
// per-tool outputs go through here so only the aggregated findings file
// stays on disk.
func (s *Store) UploadAndCleanup(ctx context.Context, localPath, key string) (string, error) {
	url, err := s.Upload(ctx, localPath, key)
	if err != nil {
		return "", err
	}

	if removeErr := os.Remove(localPath); removeErr != nil {
		// The upload already succeeded, so a leftover file is not fatal.
		s.log.Warn().Err(removeErr).Str("path", localPath).Msg("failed to remove local artifact")
	}

	return url, nil
}
