package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/opscore/orchestrator/pkg/models"
)

// S3StoreConfig configures an S3-compatible artifact store, used when
// workers run across more than one process and a shared filesystem isn't
// available.
type S3StoreConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// DefaultS3StoreConfig returns the default configuration.
func DefaultS3StoreConfig() *S3StoreConfig {
	return &S3StoreConfig{Region: "us-east-1"}
}

// S3Store stores artifacts in an S3-compatible bucket under
// <prefix>/workers/<worker_id>/<rel_path>, with the SHA-256 recorded as
// object metadata rather than a side index.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates a new S3-backed artifact store.
func NewS3Store(ctx context.Context, cfg *S3StoreConfig) (*S3Store, error) {
	if cfg == nil {
		cfg = DefaultS3StoreConfig()
	}

	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func (s *S3Store) objectKey(workerID, relPath string) string {
	key := path.Join("workers", workerID, relPath)
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Put buffers data to compute its SHA-256 (S3's Body must be re-readable
// for the immutability check below), then writes it with the hash and
// size recorded as object metadata.
func (s *S3Store) Put(ctx context.Context, workerID, relPath string, data io.Reader) (*models.Artifact, error) {
	var buf bytes.Buffer
	hasher := sha256.New()
	size, err := io.Copy(&buf, io.TeeReader(data, hasher))
	if err != nil {
		return nil, fmt.Errorf("buffer artifact: %w", err)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	key := s.objectKey(workerID, relPath)

	if existing, err := s.headSHA256(ctx, key); err == nil && existing != "" {
		if existing != sum {
			return nil, ErrImmutable
		}
		return &models.Artifact{WorkerID: workerID, RelPath: relPath, SHA256: existing, Size: size, CreatedAt: time.Now().UTC()}, nil
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   &s.bucket,
		Key:      &key,
		Body:     bytes.NewReader(buf.Bytes()),
		Metadata: map[string]string{"sha256": sum, "size": strconv.FormatInt(size, 10)},
	}); err != nil {
		return nil, fmt.Errorf("s3 put object: %w", err)
	}

	return &models.Artifact{WorkerID: workerID, RelPath: relPath, SHA256: sum, Size: size, CreatedAt: time.Now().UTC()}, nil
}

func (s *S3Store) headSHA256(ctx context.Context, key string) (string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return "", err
	}
	return out.Metadata["sha256"], nil
}

func (s *S3Store) Get(ctx context.Context, workerID, relPath string) (io.ReadCloser, error) {
	key := s.objectKey(workerID, relPath)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	return out.Body, nil
}

func (s *S3Store) Exists(ctx context.Context, workerID, relPath string) (bool, error) {
	key := s.objectKey(workerID, relPath)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return false, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && strings.EqualFold(apiErr.ErrorCode(), "NotFound") {
		return false, nil
	}
	return false, fmt.Errorf("s3 head object: %w", err)
}

// List enumerates every object under a worker's prefix.
func (s *S3Store) List(ctx context.Context, workerID string) ([]models.Artifact, error) {
	prefix := s.objectKey(workerID, "")
	var out []models.Artifact
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			relPath := strings.TrimPrefix(*obj.Key, prefix)
			sum, _ := s.headSHA256(ctx, *obj.Key)
			out = append(out, models.Artifact{
				WorkerID: workerID, RelPath: relPath, SHA256: sum,
				Size: aws.ToInt64(obj.Size), CreatedAt: aws.ToTime(obj.LastModified),
			})
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		token = page.NextContinuationToken
	}
	return out, nil
}

// DeleteWorker removes every object under a worker's prefix.
func (s *S3Store) DeleteWorker(ctx context.Context, workerID string) error {
	artifacts, err := s.List(ctx, workerID)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		key := s.objectKey(workerID, a.RelPath)
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
			return fmt.Errorf("s3 delete object %s: %w", key, err)
		}
	}
	return nil
}

// Close releases resources.
func (s *S3Store) Close() error { return nil }
