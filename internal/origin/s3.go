package origin

import (
	"context"
	stderrors "errors"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jmgilman/go/errors"
)

// GetObjectAPI is the part of *s3.Client the fetcher uses.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config locates an S3-compatible store. Endpoint may be empty for AWS.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Client builds a path-style client with static credentials.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "load aws config")
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// S3Fetcher loads s3://bucket/key URLs.
type S3Fetcher struct {
	client   GetObjectAPI
	maxBytes int64
}

func NewS3Fetcher(client GetObjectAPI) *S3Fetcher {
	return &S3Fetcher{client: client, maxBytes: DefaultMaxBytes}
}

func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string) (Object, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return Object{}, err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return Object{}, errors.Wrap(err, errors.CodeNotFound, "image object not found")
		}
		return Object{}, errors.Wrap(err, errors.CodeUnavailable, "get image object")
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, f.maxBytes+1))
	if err != nil {
		return Object{}, errors.Wrap(err, errors.CodeNetwork, "read image object")
	}
	if int64(len(body)) > f.maxBytes {
		return Object{}, errors.Newf(errors.CodeInvalidInput, "image exceeds %d bytes", f.maxBytes)
	}

	contentType := aws.ToString(out.ContentType)
	if contentType == "" || contentType == "binary/octet-stream" || contentType == "application/octet-stream" {
		contentType = contentTypeByExt(key)
	}
	if !isImage(contentType) {
		return Object{}, errors.Newf(errors.CodeSchemaFailed, "image object has content type %q", contentType)
	}
	return Object{Body: body, ContentType: contentType}, nil
}

func parseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", errors.Wrap(err, errors.CodeInvalidInput, "invalid s3 url")
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || u.Host == "" || key == "" {
		return "", "", errors.Newf(errors.CodeInvalidInput, "invalid s3 url %q", rawURL)
	}
	return u.Host, key, nil
}

func contentTypeByExt(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".avif":
		return "image/avif"
	case ".svg":
		return "image/svg+xml"
	default:
		return ""
	}
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	return stderrors.As(err, &nsk)
}
