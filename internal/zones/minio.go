package zones

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"learner-analytics-pipeline/internal/model"
)

// MinioConfig carries connection settings for an S3-compatible backend.
type MinioConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UseSSL       bool   `yaml:"use_ssl"`
	BucketPrefix string `yaml:"bucket_prefix"` // zone buckets are <prefix>-<zone>
}

// MinioStore implements Store on MinIO/S3, one bucket per zone. Object PUTs
// are whole-object on S3, which gives the required reader-atomicity.
type MinioStore struct {
	client *minio.Client
	prefix string
}

// NewMinioStore connects to the endpoint and ensures the four zone buckets.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio: endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio: credentials are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: create client: %w", err)
	}
	prefix := cfg.BucketPrefix
	if prefix == "" {
		prefix = "datalake"
	}
	s := &MinioStore{client: client, prefix: prefix}
	for _, zone := range AllZones() {
		if err := s.ensureBucket(ctx, s.bucket(zone)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MinioStore) bucket(zone Zone) string {
	return s.prefix + "-" + string(zone)
}

func (s *MinioStore) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("minio: check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("minio: create bucket %s: %w", bucket, err)
	}
	return nil
}

// Put uploads the object in a single PUT.
func (s *MinioStore) Put(ctx context.Context, zone Zone, path string, data []byte) error {
	if !zone.IsValid() {
		return fmt.Errorf("put: unknown zone %q", zone)
	}
	_, err := s.client.PutObject(ctx, s.bucket(zone), path, bytes.NewReader(data),
		int64(len(data)), minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", zone, path, err)
	}
	return nil
}

// Get downloads an object, mapping a key miss to model.ErrNotFound.
func (s *MinioStore) Get(ctx context.Context, zone Zone, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket(zone), path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", zone, path, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return nil, fmt.Errorf("get %s/%s: %w", zone, path, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s/%s: %w", zone, path, err)
	}
	return data, nil
}

// List returns all object keys under prefix.
func (s *MinioStore) List(ctx context.Context, zone Zone, prefix string) ([]string, error) {
	var paths []string
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	for obj := range s.client.ListObjects(ctx, s.bucket(zone), opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", zone, prefix, obj.Err)
		}
		paths = append(paths, obj.Key)
	}
	return paths, nil
}

// Exists stats the object.
func (s *MinioStore) Exists(ctx context.Context, zone Zone, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket(zone), path, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return false, nil
		}
		return false, fmt.Errorf("exists %s/%s: %w", zone, path, err)
	}
	return true, nil
}
