package names

const (
	// Workflows
	WorkflowNameArchive = "archive"

	// Activity Names
	ActivityNameArchive         = "ArchiveActivity"
	ActivityNameProbeBinary     = "ProbeBinaryActivity"
	ActivityNameGetFileMetadata = "GetFileMetadataActivity"
	ActivityNameUploadS3        = "ArchiveUploadS3Activity"
	ActivityNameCleanup         = "CleanupActivity"
)
