// Package archive keeps the raw DANFE page of every fetched receipt in an
// S3-compatible bucket, so extraction can be re-run without the CAPTCHA.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrDisabled is returned by New when no endpoint is configured.
var ErrDisabled = errors.New("archive disabled")

const prefix = "danfe/"

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Store wraps MinIO/S3 access to the page bucket.
type Store struct {
	client *minio.Client
	bucket string
	region string
}

func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, ErrDisabled
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "danfe"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket creates the bucket on first use.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// ObjectKey maps an access key to its object name. Only letters and digits
// survive; a key with none gets a random name so the page is still kept.
func ObjectKey(accessKey string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		}
		return -1
	}, accessKey)
	if clean == "" {
		clean = "unknown-" + uuid.NewString()
	}
	return prefix + clean + ".html"
}

// SavePage uploads html under ObjectKey(accessKey) and returns the object name.
func (s *Store) SavePage(ctx context.Context, accessKey string, html []byte) (string, error) {
	key := ObjectKey(accessKey)
	opts := minio.PutObjectOptions{ContentType: "text/html; charset=utf-8"}
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(html), int64(len(html)), opts); err != nil {
		return "", fmt.Errorf("upload page: %w", err)
	}
	return key, nil
}

// LoadPage fetches the archived page for accessKey.
func (s *Store) LoadPage(ctx context.Context, accessKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ObjectKey(accessKey), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return buf, nil
}
