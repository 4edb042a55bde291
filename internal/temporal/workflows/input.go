package workflows

import (
	"archiver/internal/archive"
	"archiver/internal/temporal/activities"
)

// ArchiveWorkflowInput is sent by the client when triggering the archive workflow.
type ArchiveWorkflowInput struct {
	JobID           string                      `json:"job_id,omitempty"`
	SourcePath      string                      `json:"source_path"`
	DestinationPath string                      `json:"destination_path"`
	Backend         string                      `json:"backend,omitempty"`
	Profile         *archive.CompressionProfile `json:"profile,omitempty"`
	// Upload copies the archive to the worker's configured S3 bucket.
	Upload bool   `json:"upload"`
	Key    string `json:"key,omitempty"`
	// RemoveLocal deletes the local archive after a successful upload.
	RemoveLocal bool `json:"remove_local"`
}

type ArchiveWorkflowOutput struct {
	Outcome  archive.Outcome                           `json:"outcome"`
	Name     string                                    `json:"name"`
	Size     int64                                     `json:"size"`
	Checksum string                                    `json:"checksum"`
	Upload   *activities.ArchiveUploadS3ActivityOutput `json:"upload,omitempty"`
}
