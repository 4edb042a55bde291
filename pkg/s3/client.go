package s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewClient creates a new S3 client with the provided configuration. Empty
// credentials fall back to the default AWS credential chain.
func NewClient(ctx context.Context, region, endpoint, accessKeyID, secretAccessKey string) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		// Third party providers (MinIO etc.) need path-style addressing.
		o.UsePathStyle = true
	}), nil
}

// PutObjectAPI is the subset of *s3.Client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type UploadResult struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag"`
}

// ObjectKey joins prefix and the base name of filePath into an object key.
func ObjectKey(prefix, filePath string) string {
	name := path.Base(strings.ReplaceAll(filePath, "\\", "/"))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// UploadFile streams the file at filePath to bucket/key.
func UploadFile(ctx context.Context, api PutObjectAPI, bucket, key, filePath string) (*UploadResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	out, err := api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(fileInfo.Size()),
		ContentType:   aws.String("application/zip"),
	})
	if err != nil {
		return nil, fmt.Errorf("upload to s3://%s/%s failed: %w", bucket, key, err)
	}

	return &UploadResult{
		Bucket: bucket,
		Key:    key,
		Size:   fileInfo.Size(),
		ETag:   strings.Trim(aws.ToString(out.ETag), `"`),
	}, nil
}
