package activities

import (
	"context"
	"os"

	"go.temporal.io/sdk/activity"
)

type CleanupActivityInput struct {
	Paths []string `json:"paths"`
}

type CleanupActivityOutput struct {
	Removed []string `json:"removed"`
}

// CleanupActivity removes local files once they are no longer needed. Failures
// are logged and do not fail the activity.
func (a *Activities) CleanupActivity(ctx context.Context, input CleanupActivityInput) (*CleanupActivityOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("CleanupActivity started")

	out := &CleanupActivityOutput{}
	for _, path := range input.Paths {
		if path == "" {
			continue
		}
		logger.Info("Removing path", "path", path)
		if err := os.RemoveAll(path); err != nil {
			logger.Error("Failed to remove path", "path", path, "error", err)
			continue
		}
		out.Removed = append(out.Removed, path)
	}

	logger.Info("CleanupActivity completed", "removed", len(out.Removed))
	return out, nil
}
