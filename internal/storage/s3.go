package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
	"github.com/felipepmaragno/llm-cost-audit/internal/httputil"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store archives uploads in a single bucket with SSE-S3 encryption.
type S3Store struct {
	client s3API
	bucket string
	retry  httputil.RetryConfig
}

// NewS3Store returns a store over bucket.
func NewS3Store(cfg aws.Config, bucket string) *S3Store {
	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		retry:  httputil.DefaultRetryConfig(),
	}
}

func (s *S3Store) Write(ctx context.Context, key string, data []byte) error {
	_, err := httputil.Retry(ctx, s.retry, func() (*s3.PutObjectOutput, error) {
		return s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:               aws.String(s.bucket),
			Key:                  aws.String(key),
			Body:                 bytes.NewReader(data),
			ContentLength:        aws.Int64(int64(len(data))),
			ContentType:          aws.String("text/csv"),
			ServerSideEncryption: s3types.ServerSideEncryptionAes256,
		})
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

// Read returns domain.ErrObjectNotFound for a missing key.
func (s *S3Store) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := httputil.Retry(ctx, s.retry, func() ([]byte, error) {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var nsk *s3types.NoSuchKey
			if errors.As(err, &nsk) {
				return nil, httputil.Permanent(domain.ErrObjectNotFound)
			}
			return nil, err
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	})
	if errors.Is(err, domain.ErrObjectNotFound) {
		return nil, domain.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", key, err)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := httputil.Retry(ctx, s.retry, func() (*s3.DeleteObjectOutput, error) {
		return s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var nf *s3types.NotFound
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return false, nil
	}
	return false, fmt.Errorf("head object %q: %w", key, err)
}
