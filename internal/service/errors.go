package service

import "errors"

var (
	ErrWallpaperNotFound = errors.New("wallpaper not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrNotAnimatable     = errors.New("wallpaper cannot be animated")
	ErrAlreadyLoading    = errors.New("wallpaper is already being processed")
	ErrInvalidLocator    = errors.New("invalid storage locator")
	ErrStorageDisabled   = errors.New("remote storage is not configured")
	ErrUnsupportedAsset  = errors.New("unsupported asset type")
)
