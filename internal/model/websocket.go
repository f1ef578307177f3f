package model

import "github.com/livewall/api/internal/assetstate"

// WebSocket message types
const (
	WSMessageTypeState    = "state"
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// Error codes carried by WSErrorMessage
const (
	WSErrorAnimateFailed = "ANIMATE_FAILED"
	WSErrorImportFailed  = "IMPORT_FAILED"
	WSErrorSuperseded    = "SUPERSEDED"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStateMessage carries a committed asset state transition
type WSStateMessage struct {
	Type        string           `json:"type"`
	WallpaperID string           `json:"wallpaperId"`
	State       assetstate.State `json:"state"`
	Generation  uint64           `json:"generation"`
}

// WSProgressMessage represents a progress update
type WSProgressMessage struct {
	Type        string    `json:"type"`
	WallpaperID string    `json:"wallpaperId"`
	JobID       string    `json:"jobId"`
	Progress    int       `json:"progress"`
	Status      JobStatus `json:"status"`
	CurrentStep string    `json:"currentStep,omitempty"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type        string            `json:"type"`
	WallpaperID string            `json:"wallpaperId"`
	JobID       string            `json:"jobId"`
	Result      WallpaperResponse `json:"result"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type        string  `json:"type"`
	WallpaperID string  `json:"wallpaperId"`
	JobID       string  `json:"jobId"`
	Error       WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
