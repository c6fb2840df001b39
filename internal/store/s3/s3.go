package s3

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/jotfs/fsstress/internal/store"
)

// Config stores the connection parameters of an S3-compatible store.
type Config struct {
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	PathStyle  bool
	DisableSSL bool
}

// Store implements the Store interface for an S3-compatible backend.
type Store struct {
	client   *s3.S3
	uploader *s3manager.Uploader
}

// New creates a new client for accessing an S3-backed store. Credentials fall back to
// the default AWS chain when AccessKey is empty.
func New(cfg Config) (*Store, error) {
	awsCfg := aws.NewConfig().
		WithS3ForcePathStyle(cfg.PathStyle).
		WithDisableSSL(cfg.DisableSSL)
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""))
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, err
	}
	return &Store{client: s3.New(sess), uploader: s3manager.NewUploader(sess)}, nil
}

// Put uploads the content of r to bucket/key.
func (s *Store) Put(ctx context.Context, bucket string, key string, r io.Reader) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	return err
}

// Get downloads bucket/key. The caller must close the returned reader.
func (s *Store) Get(ctx context.Context, bucket string, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}
