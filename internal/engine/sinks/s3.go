package sinks

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/infracollect/workerpack/internal/engine"
)

// S3Uploader is an interface for uploading objects to S3.
// This allows for easy mocking in tests.
type S3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Config contains configuration for the S3 sink.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// S3Sink uploads archives to S3-compatible object storage.
type S3Sink struct {
	bucket   string
	prefix   string
	uploader S3Uploader
}

var _ engine.MetadataWriter = (*S3Sink)(nil)

// NewS3Sink creates an S3 sink from cfg. Credentials fall back to the default
// AWS chain unless both static halves are set.
func NewS3Sink(ctx context.Context, cfg S3Config) (engine.Sink, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// R2, MinIO and other S3-compatible stores.
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return NewS3SinkWithUploader(cfg.Bucket, cfg.Prefix, manager.NewUploader(client)), nil
}

func loadAWSConfig(ctx context.Context, cfg S3Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(cleanhttp.DefaultPooledClient()),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewS3SinkWithUploader creates a new S3 sink with a custom uploader.
// This is useful for testing.
func NewS3SinkWithUploader(bucket, prefix string, uploader S3Uploader) *S3Sink {
	return &S3Sink{
		bucket:   bucket,
		prefix:   prefix,
		uploader: uploader,
	}
}

func (s *S3Sink) Name() string {
	if s.prefix != "" {
		return fmt.Sprintf("s3(%s/%s)", s.bucket, s.prefix)
	}
	return fmt.Sprintf("s3(%s)", s.bucket)
}

func (s *S3Sink) Kind() string {
	return "s3"
}

func (s *S3Sink) Write(ctx context.Context, name string, data io.Reader) error {
	return s.upload(ctx, s.putInput(name, data))
}

// WriteWithMetadata uploads an archive and records its digest and size as
// x-amz-meta-sha256 and x-amz-meta-size.
func (s *S3Sink) WriteWithMetadata(ctx context.Context, name string, data io.Reader, meta engine.ObjectMetadata) error {
	input := s.putInput(name, data)
	input.Metadata = map[string]string{
		"size": strconv.FormatInt(meta.Size, 10),
	}
	if meta.SHA256 != "" {
		input.Metadata["sha256"] = meta.SHA256
	}
	return s.upload(ctx, input)
}

func (s *S3Sink) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3Sink) putInput(name string, data io.Reader) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(s.key(name)),
		Body:               data,
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", path.Base(name))),
	}
	if contentType := contentTypeFromPath(name); contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	return input
}

func (s *S3Sink) upload(ctx context.Context, input *s3.PutObjectInput) error {
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to s3://%s/%s: %w", s.bucket, aws.ToString(input.Key), err)
	}
	return nil
}

// archiveContentTypes is checked in order, so compound extensions come first.
var archiveContentTypes = []struct {
	suffix      string
	contentType string
}{
	{".tar.gz", "application/gzip"},
	{".tgz", "application/gzip"},
	{".tar.zst", "application/zstd"},
	{".zip", "application/zip"},
	{".tar", "application/x-tar"},
	{".gz", "application/gzip"},
	{".zst", "application/zstd"},
}

// contentTypeFromPath returns the Content-Type of an archive name, or "" when
// the extension is not an archive one.
func contentTypeFromPath(name string) string {
	for _, ct := range archiveContentTypes {
		if strings.HasSuffix(name, ct.suffix) {
			return ct.contentType
		}
	}
	return ""
}

func (s *S3Sink) Close(ctx context.Context) error {
	return nil
}
