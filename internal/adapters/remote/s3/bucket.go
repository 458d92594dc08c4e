// Package s3 provides a bucket on Amazon S3 or an S3-compatible service.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jbctechsolutions/focussync/internal/adapters/remote"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
)

var _ remote.Bucket = (*Bucket)(nil)

// Config configures the S3 bucket.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // For S3-compatible services (MinIO, etc.)
	// AccessKeyID and SecretAccessKey are optional static credentials. The
	// default AWS credential chain is used when they are empty.
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string // Key prefix for all objects
	UsePathStyle    bool   // Use path-style addressing
}

// API is the subset of the S3 client the bucket uses.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	s3.ListObjectsV2APIClient
}

// Bucket implements remote.Bucket on S3.
type Bucket struct {
	client API
	config Config
}

// NewBucket builds an S3 client from cfg and the default AWS config chain.
func NewBucket(ctx context.Context, cfg Config) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return NewBucketWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// NewBucketWithClient wraps an existing client.
func NewBucketWithClient(client API, cfg Config) *Bucket {
	return &Bucket{client: client, config: cfg}
}

func (b *Bucket) fullKey(key string) string {
	return b.config.Prefix + key
}

// Put uploads data and reads back the object's modification time.
func (b *Bucket) Put(ctx context.Context, key string, data []byte) (remote.ObjectInfo, error) {
	fullKey := b.fullKey(key)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(fullKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return remote.ObjectInfo{}, fmt.Errorf("S3 put object failed: %w", err)
	}

	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return remote.ObjectInfo{}, fmt.Errorf("S3 head object failed: %w", err)
	}
	return remote.ObjectInfo{
		Key:          key,
		LastModified: aws.ToTime(head.LastModified).UTC(),
		Size:         aws.ToInt64(head.ContentLength),
	}, nil
}

// Get downloads the object under key.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, remote.ObjectInfo, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, remote.ObjectInfo{}, fmt.Errorf("%w: %s", domainErrors.ErrObjectNotFound, key)
		}
		return nil, remote.ObjectInfo{}, fmt.Errorf("S3 get object failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, remote.ObjectInfo{}, fmt.Errorf("S3 read body failed: %w", err)
	}
	return data, remote.ObjectInfo{
		Key:          key,
		LastModified: aws.ToTime(resp.LastModified).UTC(),
		Size:         int64(len(data)),
	}, nil
}

// Delete removes the object under key. S3 deletes are idempotent.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.fullKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("S3 delete object failed: %w", err)
	}
	return nil
}

// List pages through every object under prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]remote.ObjectInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.config.Bucket),
		Prefix: aws.String(b.fullKey(prefix)),
	})

	var infos []remote.ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 list objects failed: %w", err)
		}
		for _, obj := range page.Contents {
			infos = append(infos, remote.ObjectInfo{
				// Remove the prefix to return relative keys
				Key:          strings.TrimPrefix(aws.ToString(obj.Key), b.config.Prefix),
				LastModified: aws.ToTime(obj.LastModified).UTC(),
				Size:         aws.ToInt64(obj.Size),
			})
		}
	}
	return infos, nil
}

// Ping checks that the bucket exists and is accessible.
func (b *Bucket) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.config.Bucket)})
	if err != nil {
		return fmt.Errorf("S3 head bucket failed: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404")
}
