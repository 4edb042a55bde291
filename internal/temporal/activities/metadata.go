package activities

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.temporal.io/sdk/activity"
)

type GetFileMetadataActivityInput struct {
	FilePath string `json:"file_path"`
}

type GetFileMetadataActivityOutput struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	MimeType string `json:"mime_type"`
}

// GetFileMetadataActivity returns size and SHA-256 of a finished archive.
func (a *Activities) GetFileMetadataActivity(ctx context.Context, input GetFileMetadataActivityInput) (*GetFileMetadataActivityOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Debug("GetFileMetadataActivity called", "filePath", input.FilePath)

	file, err := os.Open(input.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	result := &GetFileMetadataActivityOutput{
		Name:     filepath.Base(input.FilePath),
		Size:     stat.Size(),
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
		MimeType: "application/zip",
	}
	logger.Info("File metadata calculated", "size", result.Size, "checksum", result.Checksum)
	return result, nil
}
