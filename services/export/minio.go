package exportsvc

import (
	"bytes"
	"context"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core"
)

const s3Scheme = "s3://"

var ErrInvalidTarget = errors.New("target must be of form s3://bucket/key")

// Store uploads exports to object storage.
type Store interface {
	Put(ctx context.Context, bucket, key string, content []byte, contentType string) (string, error)
}

type minioStore struct {
	client *minio.Client
	bucket string
}

var _ Store = (*minioStore)(nil)

func NewMinioStore(conf *core.Config) (Store, error) {
	client, err := minio.New(conf.Export.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.Export.AccessKey, conf.Export.SecretKey, ""),
		Secure: conf.Export.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating minio client")
	}
	return &minioStore{client: client, bucket: conf.Export.Bucket}, nil
}

// Put uploads content under key, creating the bucket when missing. An empty bucket means the configured one.
// It returns the object's s3:// location.
func (s *minioStore) Put(ctx context.Context, bucket, key string, content []byte, contentType string) (string, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return "", errors.Wrapf(err, "checking bucket %s", bucket)
	}
	if !exists {
		if err = s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return "", errors.Wrapf(err, "creating bucket %s", bucket)
		}
	}

	info, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", errors.Wrapf(err, "uploading %s", key)
	}
	return s3Scheme + info.Bucket + "/" + info.Key, nil
}

// IsRemote reports whether target is an object storage location.
func IsRemote(target string) bool {
	return strings.HasPrefix(target, s3Scheme)
}

// ParseTarget splits s3://bucket/key.
func ParseTarget(target string) (bucket, key string, err error) {
	if !IsRemote(target) {
		return "", "", ErrInvalidTarget
	}
	parts := strings.SplitN(strings.TrimPrefix(target, s3Scheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.HasSuffix(parts[1], "/") {
		return "", "", ErrInvalidTarget
	}
	return parts[0], parts[1], nil
}
