package blob

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Options configures an S3Backend.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // S3-compatible endpoint; enables path-style addressing
	AccessKey string // empty uses the default AWS credential chain
	SecretKey string
	Client    *http.Client
}

// S3Backend stores objects in Amazon S3 or a compatible service.
type S3Backend struct {
	client *s3.S3
	bucket string
	prefix string
	log    *slog.Logger
}

// NewS3Backend creates an S3 client for opts.Bucket.
func NewS3Backend(opts S3Options, log *slog.Logger) (*S3Backend, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("blob: s3 backend needs a bucket")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	cfg := aws.Config{
		Region:     aws.String(opts.Region),
		MaxRetries: aws.Int(2),
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	}
	if opts.Client != nil {
		cfg.HTTPClient = opts.Client
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client: s3.New(sess),
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		log:    log,
	}, nil
}

func (b *S3Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

func (b *S3Backend) ref(objectKey string) string {
	return "s3://" + b.bucket + "/" + objectKey
}

func (b *S3Backend) parseRef(ref string) (string, error) {
	want := "s3://" + b.bucket + "/"
	if !strings.HasPrefix(ref, want) {
		return "", fmt.Errorf("blob: %q is not in bucket %s", ref, b.bucket)
	}
	return strings.TrimPrefix(ref, want), nil
}

// Put uploads with the verified digest attached, so S3 re-checks integrity
// on its side as well.
func (b *S3Backend) Put(ctx context.Context, key string, r io.ReadSeeker, size int64, sha256 string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	objectKey := b.objectKey(key)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(objectKey),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/zip"),
	}
	if raw, err := hex.DecodeString(sha256); err == nil {
		input.ChecksumSHA256 = aws.String(base64.StdEncoding.EncodeToString(raw))
	}

	start := time.Now()
	if _, err := b.client.PutObjectWithContext(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload object to S3: %w", err)
	}

	b.log.Debug("stored blob",
		slog.String("bucket", b.bucket),
		slog.String("key", objectKey),
		slog.Int64("size", size),
		slog.Duration("duration", time.Since(start)))
	return b.ref(objectKey), nil
}

func (b *S3Backend) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	objectKey, err := b.parseRef(ref)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return out.Body, nil
}

func (b *S3Backend) Delete(ctx context.Context, ref string) error {
	objectKey, err := b.parseRef(ref)
	if err != nil {
		return err
	}
	_, err = b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return nil
}

// Available heads the bucket.
func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		b.log.Warn("S3 backend unavailable", slog.String("bucket", b.bucket), "err", err)
		return false
	}
	return true
}

func (b *S3Backend) Name() string { return "s3://" + b.bucket }
