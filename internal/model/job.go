package model

import "time"

// Job represents a background job in the system
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"` // "animate" or "import"
	WallpaperID string     `json:"wallpaperId"`
	Generation  uint64     `json:"generation"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RetryCount  int        `json:"retryCount"`
}

// Job types
const (
	JobTypeAnimate = "animate"
	JobTypeImport  = "import"
)

// AnimateJobPayload contains the data for an animate job
type AnimateJobPayload struct {
	JobID          string `json:"jobId"`
	WallpaperID    string `json:"wallpaperId"`
	Generation     uint64 `json:"generation"`
	Prompt         string `json:"prompt,omitempty"`
	SourceVideoKey string `json:"sourceVideoKey,omitempty"`
}

// ImportJobPayload contains the data for a remote import job
type ImportJobPayload struct {
	JobID       string `json:"jobId"`
	WallpaperID string `json:"wallpaperId"`
	Locator     string `json:"locator"`
}

// JobStatusResponse is returned by GET /api/jobs/:id
type JobStatusResponse struct {
	JobID       string     `json:"jobId"`
	Type        string     `json:"type"`
	WallpaperID string     `json:"wallpaperId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RetryCount  int        `json:"retryCount"`
}
