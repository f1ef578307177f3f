package model

// Job statuses
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Where a wallpaper came from
type SourceOrigin string

const (
	SourceRemote SourceOrigin = "remote"
	SourceUser   SourceOrigin = "user"
)

// Coarse type of a fetched asset, inferred from its file extension
type AssetType string

const (
	AssetTypePhoto   AssetType = "photo"
	AssetTypeVideo   AssetType = "video"
	AssetTypeUnknown AssetType = "unknown"
)
