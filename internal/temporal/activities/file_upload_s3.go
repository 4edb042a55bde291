package activities

import (
	"context"
	"fmt"

	pkgs3 "archiver/pkg/s3"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

type ArchiveUploadS3ActivityInput struct {
	FilePath string `json:"file_path"`
	// Key overrides the object key derived from s3.prefix and the file name.
	Key string `json:"key,omitempty"`
}

type ArchiveUploadS3ActivityOutput struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag"`
}

// ArchiveUploadS3Activity copies a finished archive to the configured bucket.
func (a *Activities) ArchiveUploadS3Activity(ctx context.Context, input ArchiveUploadS3ActivityInput) (*ArchiveUploadS3ActivityOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Debug("ArchiveUploadS3Activity called", "filePath", input.FilePath)

	s3Config := a.Config.S3
	if !s3Config.Enabled() {
		return nil, temporal.NewNonRetryableApplicationError("s3.bucket is not configured", "configuration", nil)
	}

	uploader := a.S3
	if uploader == nil {
		client, err := pkgs3.NewClient(ctx, s3Config.Region, s3Config.Endpoint, s3Config.AccessKeyID, s3Config.SecretAccessKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		uploader = client
	}

	key := input.Key
	if key == "" {
		key = pkgs3.ObjectKey(s3Config.Prefix, input.FilePath)
	}

	logger.Info("Uploading archive to S3", "bucket", s3Config.Bucket, "key", key)
	res, err := pkgs3.UploadFile(ctx, uploader, s3Config.Bucket, key, input.FilePath)
	if err != nil {
		return nil, err
	}

	logger.Info("Archive uploaded successfully to S3", "size", res.Size, "etag", res.ETag)
	return &ArchiveUploadS3ActivityOutput{
		Bucket: res.Bucket,
		Key:    res.Key,
		Size:   res.Size,
		ETag:   res.ETag,
	}, nil
}
