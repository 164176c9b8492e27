package recorder

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig locates an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
}

// MinioSink stores images as objects in a MinIO or S3 bucket.
type MinioSink struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioSink connects to cfg.Endpoint and creates the bucket when it is
// missing.
func NewMinioSink(ctx context.Context, cfg MinioConfig) (*MinioSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("recorder: minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("recorder: bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("recorder: make bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioSink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put implements ImageSink. PutObject is atomic on the server side: the
// object is visible only once fully uploaded.
func (s *MinioSink) Put(ctx context.Context, d *Discovery) (string, error) {
	key := path.Join(s.prefix, ObjectName(d))
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(d.ImageBytes), int64(len(d.ImageBytes)),
		minio.PutObjectOptions{
			ContentType: "image/" + d.Format,
			UserMetadata: map[string]string{
				"coordinate": d.Coord.Key(),
				"score":      strconv.FormatFloat(d.FinalScore, 'f', 4, 64),
				"top-prompt": d.TopPrompt,
			},
		})
	if err != nil {
		return "", err
	}
	return "s3://" + s.bucket + "/" + key, nil
}

// Stat reports the stored size of the object under key.
func (s *MinioSink) Stat(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}
