package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

// S3Config holds S3 connection parameters.
type S3Config struct {
	Name            string
	Bucket          string
	Region          string
	Endpoint        string // optional: MinIO, R2, localstack, etc.
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	// PublicURL is the base of the returned URLs.  Derived from the bucket,
	// region and endpoint when empty.
	PublicURL string
}

// PutObjectAPI is the slice of *s3.Client the provider needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads to AWS S3 or an S3-compatible store.
type S3 struct {
	cfg    S3Config
	client PutObjectAPI
}

// NewS3 builds an aws-sdk-go-v2 client from cfg.  Explicit keys take
// precedence over the default credential chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "provider.s3", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3WithClient(cfg, client)
}

// NewS3WithClient uses an existing client, e.g. a test double.
func NewS3WithClient(cfg S3Config, client PutObjectAPI) (*S3, error) {
	if client == nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "provider.s3", fmt.Errorf("client must not be nil"))
	}
	if cfg.Name == "" || cfg.Bucket == "" {
		return nil, apperrors.New(apperrors.CategoryConfig, "provider.s3", fmt.Errorf("name and bucket are required"))
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &S3{cfg: cfg, client: client}, nil
}

func (s *S3) Name() string { return s.cfg.Name }

func (s *S3) Upload(ctx context.Context, blob core.Blob, filename string) (string, error) {
	key := path.Join(strings.Trim(s.cfg.Prefix, "/"), uuid.NewString(), path.Base("/"+filename))
	contentType := blob.MIMEType
	if contentType == "" {
		contentType = core.FormatJPEG.MIMEType()
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(blob.Data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(blob.Size()),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return s.objectURL(key)
}

func (s *S3) objectURL(key string) (string, error) {
	switch {
	case s.cfg.PublicURL != "":
		return url.JoinPath(s.cfg.PublicURL, key)
	case s.cfg.Endpoint != "" && s.cfg.UsePathStyle:
		return url.JoinPath(s.cfg.Endpoint, s.cfg.Bucket, key)
	case s.cfg.Endpoint != "":
		u, err := url.Parse(s.cfg.Endpoint)
		if err != nil {
			return "", err
		}
		u.Host = s.cfg.Bucket + "." + u.Host
		return url.JoinPath(u.String(), key)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key), nil
	}
}

var _ core.Provider = (*S3)(nil)
