package livephoto

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/media"
)

// Stage names reported while a request runs.
type Stage string

const (
	StageTranscoding Stage = "transcoding"
	StageNormalizing Stage = "normalizing"
	StageBuilding    Stage = "building"
)

// VideoNormalizer is the media stage of the pipeline.
type VideoNormalizer interface {
	TranscodeContainer(ctx context.Context, sourcePath string) (*media.Asset, error)
	NormalizeDuration(ctx context.Context, sourcePath string, target media.Target) (*media.NormalizedVideo, error)
}

// AssetBuilder is the bundle stage of the pipeline.
type AssetBuilder interface {
	Build(ctx context.Context, video media.NormalizedVideo) (*Bundle, error)
}

// Request is one source clip to turn into a Live Photo.
type Request struct {
	ID         string
	SourcePath string
	// KeepSource leaves the caller's file in place after a successful transcode.
	KeepSource bool
	OnStage    func(stage Stage)
}

// Result is a finished bundle plus the retained motion video location.
type Result struct {
	Bundle     *Bundle
	MotionPath string
	Normalized media.NormalizedVideo
	Elapsed    time.Duration
}

// Pipeline runs transcode, normalize and build for one request. Each stage
// deletes the file it consumed once it is done with it; the caller's source
// survives a failed transcode so it can be resubmitted.
type Pipeline struct {
	normalizer VideoNormalizer
	builder    AssetBuilder
	target     media.Target
	log        zerolog.Logger
	removeFile func(name string) error
}

// NewPipeline wires the stages together for a fixed output target.
func NewPipeline(normalizer VideoNormalizer, builder AssetBuilder, target media.Target, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		builder:    builder,
		target:     target,
		log:        logger.With().Str("component", "livephoto-pipeline").Logger(),
		removeFile: os.Remove,
	}
}

// Target returns the output shape every request is normalized to.
func (p *Pipeline) Target() media.Target {
	return p.target
}

// Run executes the pipeline. Errors are *media.Error or *Error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	log := p.log.With().Str("requestId", req.ID).Str("source", req.SourcePath).Logger()

	if strings.TrimSpace(req.SourcePath) == "" {
		return nil, &media.Error{Op: "transcode", Kind: media.ErrCannotLoadMetadata, Reason: "source path is required"}
	}

	emit(req.OnStage, StageTranscoding)
	transcoded, err := p.normalizer.TranscodeContainer(ctx, req.SourcePath)
	if err != nil {
		log.Warn().Err(err).Msg("transcode failed")
		return nil, err
	}
	if !req.KeepSource {
		p.discard(req.SourcePath)
	}

	emit(req.OnStage, StageNormalizing)
	normalized, err := p.normalizer.NormalizeDuration(ctx, transcoded.Path, p.target)
	p.discard(transcoded.Path)
	if err != nil {
		log.Warn().Err(err).Msg("normalize failed")
		return nil, err
	}

	emit(req.OnStage, StageBuilding)
	bundle, err := p.builder.Build(ctx, *normalized)
	p.discard(normalized.Path)
	if err != nil {
		log.Warn().Err(err).Msg("bundle build failed")
		return nil, err
	}

	elapsed := time.Since(started)
	log.Info().Str("assetId", bundle.ID()).Dur("elapsed", elapsed).Msg("live photo ready")

	return &Result{
		Bundle:     bundle,
		MotionPath: bundle.MotionPath(),
		Normalized: *normalized,
		Elapsed:    elapsed,
	}, nil
}

func (p *Pipeline) discard(path string) {
	if err := p.removeFile(path); err != nil && !os.IsNotExist(err) {
		p.log.Warn().Err(err).Str("path", path).Msg("failed to remove intermediate file")
	}
}

func emit(cb func(Stage), stage Stage) {
	if cb != nil {
		cb(stage)
	}
}
