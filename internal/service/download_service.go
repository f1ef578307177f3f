package service

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/client"
	"github.com/livewall/api/internal/model"
)

var (
	photoExtensions = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "heic": true}
	videoExtensions = map[string]bool{"mov": true, "mp4": true, "m4v": true, "avi": true}
)

// AssetTypeFor infers the asset type from a file name's extension
func AssetTypeFor(name string) model.AssetType {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	switch {
	case photoExtensions[ext]:
		return model.AssetTypePhoto
	case videoExtensions[ext]:
		return model.AssetTypeVideo
	default:
		return model.AssetTypeUnknown
	}
}

// ParseLocator turns a storage locator into a bucket key. Plain keys and
// r2://, s3:// or gs:// URLs are accepted.
func ParseLocator(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLocator)
	}

	key := locator
	if strings.Contains(locator, "://") {
		u, err := url.Parse(locator)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidLocator, err)
		}
		switch u.Scheme {
		case "r2", "s3", "gs":
		default:
			return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocator, u.Scheme)
		}
		key = u.Path
	}

	key = path.Clean("/" + key)[1:]
	if key == "" || strings.HasSuffix(locator, "/") {
		return "", fmt.Errorf("%w: %q names a folder", ErrInvalidLocator, locator)
	}
	return key, nil
}

// DownloadService fetches remote assets into the local cache
type DownloadService struct {
	storage  client.StorageClient
	cacheDir string
	logger   zerolog.Logger
}

func NewDownloadService(storage client.StorageClient, cacheDir string, logger zerolog.Logger) *DownloadService {
	return &DownloadService{
		storage:  storage,
		cacheDir: cacheDir,
		logger:   logger.With().Str("component", "download").Logger(),
	}
}

// Fetch downloads locator into a new cache file and reports its type. Every
// call gets its own file, owned by the caller.
func (s *DownloadService) Fetch(ctx context.Context, locator string) (string, model.AssetType, error) {
	if s.storage == nil {
		return "", model.AssetTypeUnknown, ErrStorageDisabled
	}

	key, err := ParseLocator(locator)
	if err != nil {
		return "", model.AssetTypeUnknown, err
	}

	dst := filepath.Join(s.cacheDir, "remote", uuid.NewString()+"-"+path.Base(key))
	if err := s.storage.Download(ctx, key, dst); err != nil {
		return "", model.AssetTypeUnknown, err
	}

	assetType := AssetTypeFor(key)
	s.logger.Info().Str("key", key).Str("path", dst).Str("type", string(assetType)).Msg("asset downloaded")
	return dst, assetType, nil
}
