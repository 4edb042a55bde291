package activities

import (
	"archiver/internal/app"
	"archiver/internal/config"
	pkgs3 "archiver/pkg/s3"
)

// Activities holds all activity implementations of the worker
type Activities struct {
	Config *config.Config
	App    *app.App
	// S3 receives uploads; when nil a client is built from Config.S3 per upload.
	S3 pkgs3.PutObjectAPI
}

// NewActivities creates a new Activities instance with required dependencies
func NewActivities(cfg *config.Config, a *app.App, uploader pkgs3.PutObjectAPI) *Activities {
	return &Activities{
		Config: cfg,
		App:    a,
		S3:     uploader,
	}
}
