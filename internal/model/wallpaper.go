package model

import (
	"time"

	"github.com/livewall/api/internal/assetstate"
)

// Wallpaper is the persisted wallpaper record
type Wallpaper struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	LocalImagePath string       `json:"localImagePath"`
	LocalVideoPath string       `json:"localVideoPath,omitempty"`
	IsAnimated     bool         `json:"isAnimated"`
	CreatedAt      time.Time    `json:"createdAt"`
	SourceOrigin   SourceOrigin `json:"sourceOrigin"`
	RemoteLocator  *string      `json:"remoteLocator,omitempty"`
	ImageKey       string       `json:"imageKey,omitempty"`
	BundleKey      string       `json:"bundleKey,omitempty"`
}

// CreateWallpaperRequest carries the form fields of POST /api/wallpapers
type CreateWallpaperRequest struct {
	Name        string `form:"name" validate:"required,min=1,max=120"`
	Description string `form:"description" validate:"omitempty,max=500"`
}

// AnimateRequest is the body of POST /api/wallpapers/:id/animate
type AnimateRequest struct {
	Prompt         string `json:"prompt" validate:"omitempty,max=500"`
	SourceVideoKey string `json:"sourceVideoKey" validate:"omitempty,max=512"`
}

// ImportRequest is the body of POST /api/remote/import
type ImportRequest struct {
	Locator string `json:"locator" validate:"required,max=512"`
	Name    string `json:"name" validate:"omitempty,max=120"`
}

// WallpaperResponse is the API view of a wallpaper
type WallpaperResponse struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	IsAnimated    bool             `json:"isAnimated"`
	SourceOrigin  SourceOrigin     `json:"sourceOrigin"`
	RemoteLocator *string          `json:"remoteLocator,omitempty"`
	ImageURL      string           `json:"imageUrl,omitempty"`
	StillURL      string           `json:"stillUrl,omitempty"`
	MotionURL     string           `json:"motionUrl,omitempty"`
	State         assetstate.State `json:"state"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// WallpaperListResponse is returned by GET /api/wallpapers
type WallpaperListResponse struct {
	Wallpapers []WallpaperResponse `json:"wallpapers"`
	Total      int                 `json:"total"`
}

// WallpaperStateResponse is returned by GET /api/wallpapers/:id/state
type WallpaperStateResponse struct {
	WallpaperID string           `json:"wallpaperId"`
	State       assetstate.State `json:"state"`
	Generation  uint64           `json:"generation"`
}

// JobStartResponse is returned when an animate or import job is queued
type JobStartResponse struct {
	JobID       string    `json:"jobId"`
	WallpaperID string    `json:"wallpaperId"`
	Status      JobStatus `json:"status"`
	Generation  uint64    `json:"generation"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RemoteAsset is one object in the remote wallpaper folder
type RemoteAsset struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Type         AssetType `json:"type"`
	Size         int64     `json:"size"`
	URL          string    `json:"url"`
	LastModified time.Time `json:"lastModified"`
}

// RemoteAssetsResponse is returned by GET /api/remote/assets
type RemoteAssetsResponse struct {
	Prefix string        `json:"prefix"`
	Assets []RemoteAsset `json:"assets"`
}

// PipelineStatsResponse is returned by GET /api/pipeline/stats
type PipelineStatsResponse struct {
	MaxConcurrentTasks int   `json:"maxConcurrentTasks"`
	Active             int   `json:"active"`
	Pending            int   `json:"pending"`
	Completed          int64 `json:"completed"`
	Failed             int64 `json:"failed"`
}
