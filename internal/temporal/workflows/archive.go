package workflows

import (
	"time"

	"archiver/internal/archive"
	"archiver/internal/temporal/activities"
	"archiver/pkg/names"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ArchiveWorkflow archives a source path, records the archive's metadata and
// optionally uploads it and removes the local copy.
func ArchiveWorkflow(ctx workflow.Context, input ArchiveWorkflowInput) (*ArchiveWorkflowOutput, error) {
	logger := workflow.GetLogger(ctx)

	jobID := input.JobID
	if jobID == "" {
		jobID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}

	archiveCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    time.Minute,
		WaitForCancellation: true,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				string(archive.KindInvalidInput),
				string(archive.KindCancelled),
				string(archive.KindIntegrityCheckFailed),
			},
		},
	})

	var archiveOut activities.ArchiveActivityOutput
	err := workflow.ExecuteActivity(archiveCtx, names.ActivityNameArchive, activities.ArchiveActivityInput{
		JobID:           jobID,
		SourcePath:      input.SourcePath,
		DestinationPath: input.DestinationPath,
		Backend:         input.Backend,
		Profile:         input.Profile,
	}).Get(ctx, &archiveOut)
	if err != nil {
		return nil, err
	}
	destination := archiveOut.Outcome.Destination
	if destination == "" {
		destination = input.DestinationPath
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 1 * time.Hour,
	})

	var meta activities.GetFileMetadataActivityOutput
	err = workflow.ExecuteActivity(ctx, names.ActivityNameGetFileMetadata,
		activities.GetFileMetadataActivityInput{FilePath: destination}).Get(ctx, &meta)
	if err != nil {
		return nil, err
	}

	out := &ArchiveWorkflowOutput{
		Outcome:  archiveOut.Outcome,
		Name:     meta.Name,
		Size:     meta.Size,
		Checksum: meta.Checksum,
	}
	if !input.Upload {
		return out, nil
	}

	var upload activities.ArchiveUploadS3ActivityOutput
	err = workflow.ExecuteActivity(ctx, names.ActivityNameUploadS3,
		activities.ArchiveUploadS3ActivityInput{FilePath: destination, Key: input.Key}).Get(ctx, &upload)
	if err != nil {
		return nil, err
	}
	out.Upload = &upload

	if input.RemoveLocal {
		err = workflow.ExecuteActivity(ctx, names.ActivityNameCleanup,
			activities.CleanupActivityInput{Paths: []string{destination}}).Get(ctx, nil)
		if err != nil {
			logger.Error("Failed to remove local archive", "path", destination, "error", err)
		}
	}

	logger.Info("Archive workflow completed", "job_id", jobID, "size", out.Size, "backend", out.Outcome.BackendUsed)
	return out, nil
}
