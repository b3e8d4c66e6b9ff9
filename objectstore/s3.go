package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 stores objects in Amazon S3 or an S3-compatible service.
type S3 struct {
	client  *s3.Client
	retries int
	logger  *slog.Logger
}

// NewS3 creates an S3 store. Without an access key the client falls back to
// anonymous requests.
func NewS3(cfg Config, retries int, logger *slog.Logger) *S3 {
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		UsePathStyle: cfg.S3URLStyle != "vhost",
	}
	if cfg.S3AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")
	}
	if cfg.S3Endpoint != "" {
		endpoint := cfg.S3Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return &S3{client: s3.New(opts), retries: retries, logger: logger}
}

func (s *S3) Open(ctx context.Context, p string) (File, error) {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = withRetry(ctx, s.retries, s.logger, "get", p, func(ctx context.Context) error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return mapS3Error(p, err)
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newMemFile(data), nil
}

func (s *S3) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return nil, err
	}
	return &uploadWriter{upload: func(data []byte) error {
		return withRetry(ctx, s.retries, s.logger, "put", p, func(ctx context.Context) error {
			_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(bucket),
				Key:         aws.String(key),
				Body:        bytes.NewReader(data),
				ContentType: aws.String("application/octet-stream"),
			})
			return mapS3Error(p, err)
		})
	}}, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	bucket, key, err := splitBucketKey(prefix)
	if err != nil {
		return nil, err
	}
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	var out []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	})
	for paginator.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err = withRetry(ctx, s.retries, s.logger, "list", prefix, func(ctx context.Context) error {
			var err error
			page, err = paginator.NextPage(ctx)
			return mapS3Error(prefix, err)
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if strings.HasSuffix(k, "/") {
				continue
			}
			out = append(out, fmt.Sprintf("%s://%s/%s", Scheme(prefix), bucket, k))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *S3) IsDir(ctx context.Context, p string) (bool, error) {
	bucket, key, err := splitBucketKey(p)
	if err != nil {
		return false, err
	}
	if key == "" {
		return true, nil
	}
	var out *s3.ListObjectsV2Output
	err = withRetry(ctx, s.retries, s.logger, "list", p, func(ctx context.Context) error {
		var err error
		out, err = s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(bucket),
			Prefix:  aws.String(strings.TrimSuffix(key, "/") + "/"),
			MaxKeys: aws.Int32(1),
		})
		return mapS3Error(p, err)
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0, nil
}

func mapS3Error(p string, err error) error {
	if err == nil {
		return nil
	}
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return notExist(p, err)
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return notExist(p, err)
		case http.StatusForbidden, http.StatusUnauthorized:
			return permission(p, err)
		}
	}
	return err
}
