package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/client"
	"github.com/livewall/api/internal/model"
)

// WallpaperService manages wallpaper records
type WallpaperService struct {
	repo     WallpaperRepository
	machine  *assetstate.Machine
	storage  client.StorageClient
	cacheDir string
	prefix   string
	logger   zerolog.Logger
}

func NewWallpaperService(repo WallpaperRepository, machine *assetstate.Machine, storage client.StorageClient, cacheDir, prefix string, logger zerolog.Logger) *WallpaperService {
	return &WallpaperService{
		repo:     repo,
		machine:  machine,
		storage:  storage,
		cacheDir: cacheDir,
		prefix:   strings.Trim(prefix, "/"),
		logger:   logger.With().Str("component", "wallpapers").Logger(),
	}
}

// Create stores an uploaded image as a new user wallpaper shown as a still
func (s *WallpaperService) Create(ctx context.Context, req *model.CreateWallpaperRequest, filename string, image io.Reader) (*model.WallpaperResponse, error) {
	if AssetTypeFor(filename) != model.AssetTypePhoto {
		return nil, fmt.Errorf("%w: %s is not an image", ErrUnsupportedAsset, filename)
	}

	id := uuid.New().String()
	ext := strings.ToLower(path.Ext(filename))
	localPath := filepath.Join(s.wallpaperDir(id), "image"+ext)

	if err := writeFile(localPath, image); err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	w := &model.Wallpaper{
		ID:             id,
		Name:           req.Name,
		Description:    req.Description,
		LocalImagePath: localPath,
		CreatedAt:      time.Now().UTC(),
		SourceOrigin:   model.SourceUser,
	}

	if s.storage != nil {
		key := s.objectKey(id, "image"+ext)
		f, err := os.Open(localPath)
		if err != nil {
			return nil, err
		}
		_, err = s.storage.Upload(ctx, key, f, contentTypeFor(ext))
		f.Close()
		if err != nil {
			os.RemoveAll(s.wallpaperDir(id))
			return nil, err
		}
		w.ImageKey = key
	}

	if err := s.repo.Create(ctx, w, assetstate.Snapshot{State: assetstate.Initial()}); err != nil {
		return nil, fmt.Errorf("failed to save wallpaper: %w", err)
	}

	snap, err := s.machine.Fire(ctx, id, assetstate.Event{Type: assetstate.EventShowImage})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("wallpaperId", id).Msg("wallpaper created")
	resp := s.Response(w, snap.State)
	return &resp, nil
}

// Get returns one wallpaper with its current state
func (s *WallpaperService) Get(ctx context.Context, id string) (*model.WallpaperResponse, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := s.machine.Current(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := s.Response(w, snap.State)
	return &resp, nil
}

// List returns all wallpapers, newest first
func (s *WallpaperService) List(ctx context.Context) (*model.WallpaperListResponse, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.WallpaperResponse, 0, len(records))
	for _, w := range records {
		snap, err := s.machine.Current(ctx, w.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("wallpaperId", w.ID).Msg("wallpaper without state")
			continue
		}
		out = append(out, s.Response(w, snap.State))
	}

	return &model.WallpaperListResponse{Wallpapers: out, Total: len(out)}, nil
}

// State returns the current display state and generation
func (s *WallpaperService) State(ctx context.Context, id string) (*model.WallpaperStateResponse, error) {
	snap, err := s.machine.Current(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.WallpaperStateResponse{
		WallpaperID: id,
		State:       snap.State,
		Generation:  snap.Generation,
	}, nil
}

// Reset abandons any in-flight run and falls back to the still image when
// there is one. A late pipeline result for the abandoned run is discarded.
func (s *WallpaperService) Reset(ctx context.Context, id string) (*model.WallpaperStateResponse, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	snap, err := s.machine.Fire(ctx, id, assetstate.Event{Type: assetstate.EventReset})
	if err != nil {
		return nil, err
	}
	if w.LocalImagePath != "" {
		if snap, err = s.machine.Fire(ctx, id, assetstate.Event{Type: assetstate.EventShowImage}); err != nil {
			return nil, err
		}
	}

	s.logger.Info().Str("wallpaperId", id).Str("state", snap.State.String()).Msg("wallpaper reset")
	return &model.WallpaperStateResponse{
		WallpaperID: id,
		State:       snap.State,
		Generation:  snap.Generation,
	}, nil
}

// Response builds the API view of w
func (s *WallpaperService) Response(w *model.Wallpaper, state assetstate.State) model.WallpaperResponse {
	resp := model.WallpaperResponse{
		ID:            w.ID,
		Name:          w.Name,
		Description:   w.Description,
		IsAnimated:    w.IsAnimated,
		SourceOrigin:  w.SourceOrigin,
		RemoteLocator: w.RemoteLocator,
		State:         state,
		CreatedAt:     w.CreatedAt,
	}
	if s.storage != nil {
		if w.ImageKey != "" {
			resp.ImageURL = s.storage.GetPublicURL(w.ImageKey)
		}
		if w.BundleKey != "" {
			resp.StillURL = s.storage.GetPublicURL(w.BundleKey + "/still.jpg")
			resp.MotionURL = s.storage.GetPublicURL(w.BundleKey + "/motion.mov")
		}
	}
	return resp
}

func (s *WallpaperService) wallpaperDir(id string) string {
	return filepath.Join(s.cacheDir, "wallpapers", id)
}

func (s *WallpaperService) objectKey(id string, parts ...string) string {
	return path.Join(append([]string{s.prefix, id}, parts...)...)
}

func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}

func contentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".heic":
		return "image/heic"
	case ".mov":
		return "video/quicktime"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
