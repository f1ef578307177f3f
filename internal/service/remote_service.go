package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/client"
	"github.com/livewall/api/internal/model"
)

const (
	presignExpiry      = time.Hour
	presignConcurrency = 8
)

// RemoteService browses the remote wallpaper folder and imports from it
type RemoteService struct {
	storage client.StorageClient
	repo    WallpaperRepository
	machine *assetstate.Machine
	jobs    JobTracker
	queue   Enqueuer
	prefix  string
	logger  zerolog.Logger
}

func NewRemoteService(storage client.StorageClient, repo WallpaperRepository, machine *assetstate.Machine, jobs JobTracker, queue Enqueuer, prefix string, logger zerolog.Logger) *RemoteService {
	return &RemoteService{
		storage: storage,
		repo:    repo,
		machine: machine,
		jobs:    jobs,
		queue:   queue,
		prefix:  strings.Trim(prefix, "/"),
		logger:  logger.With().Str("component", "remote").Logger(),
	}
}

// List returns the importable assets under the remote prefix with presigned URLs
func (s *RemoteService) List(ctx context.Context) (*model.RemoteAssetsResponse, error) {
	if s.storage == nil {
		return nil, ErrStorageDisabled
	}

	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}

	objects, err := s.storage.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	assets := make([]model.RemoteAsset, 0, len(objects))
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		t := AssetTypeFor(obj.Key)
		if t == model.AssetTypeUnknown {
			continue
		}
		assets = append(assets, model.RemoteAsset{
			Key:          obj.Key,
			Name:         path.Base(obj.Key),
			Type:         t,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(presignConcurrency)
	for i := range assets {
		i := i
		g.Go(func() error {
			u, err := s.storage.GetSignedURL(gctx, assets[i].Key, presignExpiry)
			if err != nil {
				return fmt.Errorf("presign %s: %w", assets[i].Key, err)
			}
			assets[i].URL = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &model.RemoteAssetsResponse{Prefix: s.prefix, Assets: assets}, nil
}

// Import creates a remote wallpaper record in needsDownload and queues the download
func (s *RemoteService) Import(ctx context.Context, req *model.ImportRequest) (*model.JobStartResponse, error) {
	if s.storage == nil {
		return nil, ErrStorageDisabled
	}

	key, err := ParseLocator(req.Locator)
	if err != nil {
		return nil, err
	}
	if AssetTypeFor(key) == model.AssetTypeUnknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, key)
	}

	name := req.Name
	if name == "" {
		name = strings.TrimSuffix(path.Base(key), path.Ext(key))
	}

	now := time.Now().UTC()
	locator := req.Locator
	w := &model.Wallpaper{
		ID:            uuid.New().String(),
		Name:          name,
		CreatedAt:     now,
		SourceOrigin:  model.SourceRemote,
		RemoteLocator: &locator,
	}

	if err := s.repo.Create(ctx, w, assetstate.Snapshot{State: assetstate.Initial()}); err != nil {
		return nil, fmt.Errorf("failed to save wallpaper: %w", err)
	}

	snap, err := s.machine.Fire(ctx, w.ID, assetstate.Event{Type: assetstate.EventRequestDownload})
	if err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	job := &model.Job{
		ID:          jobID,
		Type:        model.JobTypeImport,
		WallpaperID: w.ID,
		Generation:  snap.Generation,
		Status:      model.JobStatusQueued,
		CreatedAt:   now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, opts, err := newImportTask(&model.ImportJobPayload{
		JobID:       jobID,
		WallpaperID: w.ID,
		Locator:     req.Locator,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	if _, err := s.queue.Enqueue(task, opts...); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info().Str("wallpaperId", w.ID).Str("key", key).Str("jobId", jobID).Msg("import queued")

	return &model.JobStartResponse{
		JobID:       jobID,
		WallpaperID: w.ID,
		Status:      model.JobStatusQueued,
		Generation:  snap.Generation,
		CreatedAt:   now,
	}, nil
}
