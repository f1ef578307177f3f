package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/model"
)

// AnimateService starts animate jobs
type AnimateService struct {
	repo        WallpaperRepository
	machine     *assetstate.Machine
	jobs        JobTracker
	queue       Enqueuer
	canGenerate bool
	logger      zerolog.Logger
}

// NewAnimateService creates the service. canGenerate reports whether an
// image-to-video backend is configured.
func NewAnimateService(repo WallpaperRepository, machine *assetstate.Machine, jobs JobTracker, queue Enqueuer, canGenerate bool, logger zerolog.Logger) *AnimateService {
	return &AnimateService{
		repo:        repo,
		machine:     machine,
		jobs:        jobs,
		queue:       queue,
		canGenerate: canGenerate,
		logger:      logger.With().Str("component", "animate").Logger(),
	}
}

// Animate moves the wallpaper to loading and queues a new pipeline run
func (s *AnimateService) Animate(ctx context.Context, wallpaperID string, req *model.AnimateRequest) (*model.JobStartResponse, error) {
	w, err := s.repo.Get(ctx, wallpaperID)
	if err != nil {
		return nil, err
	}

	if req.SourceVideoKey != "" {
		if _, err := ParseLocator(req.SourceVideoKey); err != nil {
			return nil, err
		}
		if AssetTypeFor(req.SourceVideoKey) != model.AssetTypeVideo {
			return nil, fmt.Errorf("%w: %s is not a video", ErrUnsupportedAsset, req.SourceVideoKey)
		}
	} else {
		if w.LocalImagePath == "" {
			return nil, fmt.Errorf("%w: no image", ErrNotAnimatable)
		}
		if !s.canGenerate {
			return nil, fmt.Errorf("%w: video generation is not configured", ErrNotAnimatable)
		}
	}

	snap, err := s.machine.Fire(ctx, wallpaperID, assetstate.Event{Type: assetstate.EventAnimate})
	if err != nil {
		if errors.Is(err, assetstate.ErrInvalidTransition) && snap.State.InFlight() {
			return nil, ErrAlreadyLoading
		}
		return nil, err
	}

	jobID := uuid.New().String()
	now := time.Now()
	job := &model.Job{
		ID:          jobID,
		Type:        model.JobTypeAnimate,
		WallpaperID: wallpaperID,
		Generation:  snap.Generation,
		Status:      model.JobStatusQueued,
		CreatedAt:   now,
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = DefaultPrompt(w.Description)
	}

	payload := &model.AnimateJobPayload{
		JobID:          jobID,
		WallpaperID:    wallpaperID,
		Generation:     snap.Generation,
		Prompt:         prompt,
		SourceVideoKey: req.SourceVideoKey,
	}

	if err := s.enqueue(ctx, job, payload); err != nil {
		// Do not leave the wallpaper stuck in loading.
		_, ferr := s.machine.Fire(ctx, wallpaperID, assetstate.Event{
			Type:       assetstate.EventPipelineFailed,
			Error:      assetstate.ErrorInternal,
			Generation: snap.Generation,
		})
		if ferr != nil {
			s.logger.Error().Err(ferr).Str("wallpaperId", wallpaperID).Msg("failed to roll back state")
		}
		return nil, err
	}

	s.logger.Info().
		Str("wallpaperId", wallpaperID).
		Str("jobId", jobID).
		Uint64("generation", snap.Generation).
		Msg("animate queued")

	return &model.JobStartResponse{
		JobID:       jobID,
		WallpaperID: wallpaperID,
		Status:      model.JobStatusQueued,
		Generation:  snap.Generation,
		CreatedAt:   now,
	}, nil
}

func (s *AnimateService) enqueue(ctx context.Context, job *model.Job, payload *model.AnimateJobPayload) error {
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	task, opts, err := newAnimateTask(payload)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if _, err := s.queue.Enqueue(task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// DefaultPrompt is the generation prompt used when the request has none
func DefaultPrompt(description string) string {
	prompt := "Make things in this picture slightly move."
	if description != "" {
		prompt += " Here is the description of the image: " + description
	}
	return prompt
}
