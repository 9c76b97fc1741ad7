package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/timmy/catalogsync/internal/config"
)

// Bucket is an Objects backed by one S3, R2 or MinIO bucket.
type Bucket struct {
	api      *s3.Client
	name     string
	provider provider
	public   string
}

// Open connects to the configured bucket and creates it when missing.
// R2 buckets must already exist.
func Open(ctx context.Context, cfg *config.StorageConfig) (*Bucket, error) {
	b, err := newBucket(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := b.ensure(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func newBucket(ctx context.Context, cfg *config.StorageConfig) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	p := providerFor(cfg.Endpoint)
	region := cfg.Region
	if region == "" {
		region = p.defaultRegion()
	}

	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	endpoint, err := endpointURL(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	public := strings.TrimRight(cfg.PublicURL, "/")
	switch {
	case public != "":
	case endpoint != "":
		public = endpoint + "/" + cfg.Bucket
	default:
		public = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
	}
	return &Bucket{api: api, name: cfg.Bucket, provider: p, public: public}, nil
}

// endpointURL reduces a configured endpoint to scheme://host. A bare host
// gets https when useSSL is set.
func endpointURL(raw string, useSSL bool) (string, error) {
	if raw == "" {
		return "", nil
	}
	if !strings.Contains(raw, "://") {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		raw = scheme + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("storage: invalid endpoint %q", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

func (b *Bucket) ensure(ctx context.Context) error {
	if _, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.name)}); err == nil {
		return nil
	}
	if b.provider == providerR2 {
		return fmt.Errorf("storage: R2 bucket %s not found, create it in the dashboard", b.name)
	}
	if _, err := b.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.name)}); err != nil {
		return fmt.Errorf("storage: create bucket %s: %w", b.name, err)
	}
	return nil
}

// multipartThreshold is the smallest part S3 accepts; bodies at least this
// large go through the multipart uploader.
const multipartThreshold = manager.MinUploadPartSize

func (b *Bucket) Put(ctx context.Context, key string, body []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	}
	var err error
	if int64(len(body)) >= multipartThreshold {
		_, err = manager.NewUploader(b.api, func(u *manager.Uploader) {
			u.PartSize = multipartThreshold
		}).Upload(ctx, in)
	} else {
		in.ContentLength = aws.Int64(int64(len(body)))
		_, err = b.api.PutObject(ctx, in)
	}
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noKey) || errors.As(err, &notFound) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *Bucket) URL(key string) string {
	return b.public + "/" + strings.TrimLeft(key, "/")
}
