package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/client"
	"github.com/livewall/api/internal/livephoto"
	"github.com/livewall/api/internal/model"
	"github.com/livewall/api/internal/service"
)

// Shown to users for any failure; the precise kind is only logged.
const (
	animateFailedMessage = "Could not animate this wallpaper. Your image is unchanged."
	importFailedMessage  = "Could not import this wallpaper."
)

// Processor runs a Live Photo pipeline under the admission limit
type Processor interface {
	Submit(ctx context.Context, req livephoto.Request) (*livephoto.Result, error)
}

// Fetcher downloads remote assets
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (string, model.AssetType, error)
}

// Broadcaster pushes job updates to subscribers
type Broadcaster interface {
	BroadcastProgress(wallpaperID, jobID string, progress int, status model.JobStatus, step string)
	BroadcastComplete(wallpaperID, jobID string, result model.WallpaperResponse)
	BroadcastError(wallpaperID, jobID, code, message string)
}

// Options configures an AnimateWorker. Generator and Storage may be nil.
type Options struct {
	Repo      service.WallpaperRepository
	Machine   *assetstate.Machine
	Jobs      service.JobTracker
	Processor Processor
	Generator client.VideoGenerator
	Fetcher   Fetcher
	Storage   client.StorageClient
	Hub       Broadcaster
	Respond   func(*model.Wallpaper, assetstate.State) model.WallpaperResponse
	WorkDir   string
	Prefix    string
	Logger    zerolog.Logger
}

// AnimateWorker processes animate and import jobs
type AnimateWorker struct {
	opts   Options
	logger zerolog.Logger
}

// NewAnimateWorker creates a new animate worker
func NewAnimateWorker(opts Options) *AnimateWorker {
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &AnimateWorker{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "animate-worker").Logger(),
	}
}

// run identifies one pipeline execution of one wallpaper
type run struct {
	jobID       string
	wallpaperID string
	generation  uint64
}

// ProcessAnimateTask handles wallpaper:animate tasks
func (w *AnimateWorker) ProcessAnimateTask(ctx context.Context, t *asynq.Task) error {
	var payload model.AnimateJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal animate payload: %v: %w", err, asynq.SkipRetry)
	}

	r := run{jobID: payload.JobID, wallpaperID: payload.WallpaperID, generation: payload.Generation}
	log := w.logger.With().Str("jobId", r.jobID).Str("wallpaperId", r.wallpaperID).Uint64("generation", r.generation).Logger()
	log.Info().Msg("starting animate job")

	snap, err := w.opts.Machine.Current(ctx, r.wallpaperID)
	if err != nil {
		w.failJob(ctx, r, model.WSErrorAnimateFailed, animateFailedMessage)
		return fmt.Errorf("load state: %v: %w", err, asynq.SkipRetry)
	}
	if snap.Generation != r.generation || snap.State.Kind != assetstate.KindLoading {
		// A newer request or a reset replaced this run.
		log.Info().Str("state", snap.State.String()).Uint64("current", snap.Generation).Msg("animate job superseded")
		w.failJob(ctx, r, model.WSErrorSuperseded, "superseded by a newer request")
		return nil
	}

	wp, err := w.opts.Repo.Get(ctx, r.wallpaperID)
	if err != nil {
		return w.fail(ctx, r, assetstate.ErrorInternal, err)
	}

	w.updateProgress(ctx, r, 5, "Preparing source video...")
	source, kind, err := w.obtainSource(ctx, r, wp, &payload)
	if err != nil {
		return w.fail(ctx, r, kind, err)
	}

	return w.runPipeline(ctx, r, source)
}

// ProcessImportTask handles wallpaper:import tasks
func (w *AnimateWorker) ProcessImportTask(ctx context.Context, t *asynq.Task) error {
	var payload model.ImportJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal import payload: %v: %w", err, asynq.SkipRetry)
	}

	log := w.logger.With().Str("jobId", payload.JobID).Str("wallpaperId", payload.WallpaperID).Logger()
	log.Info().Str("locator", payload.Locator).Msg("starting import job")

	snap, err := w.opts.Machine.Fire(ctx, payload.WallpaperID, assetstate.Event{Type: assetstate.EventDownloadStarted})
	if err != nil {
		log.Warn().Err(err).Msg("import no longer pending")
		w.failJob(ctx, run{jobID: payload.JobID, wallpaperID: payload.WallpaperID}, model.WSErrorSuperseded, "import is no longer pending")
		return nil
	}
	r := run{jobID: payload.JobID, wallpaperID: payload.WallpaperID, generation: snap.Generation}

	w.updateProgress(ctx, r, 10, "Downloading asset...")
	var local string
	assetType := model.AssetTypeUnknown
	if w.opts.Fetcher == nil {
		err = service.ErrStorageDisabled
	} else {
		local, assetType, err = w.opts.Fetcher.Fetch(ctx, payload.Locator)
	}
	if err == nil && assetType == model.AssetTypeUnknown {
		os.Remove(local)
		err = fmt.Errorf("%w: %s", service.ErrUnsupportedAsset, payload.Locator)
	}
	if err != nil {
		log.Error().Err(err).Msg("download failed")
		w.fire(ctx, r, assetstate.Event{Type: assetstate.EventDownloadFailed, Generation: r.generation})
		w.failJob(ctx, r, model.WSErrorImportFailed, importFailedMessage)
		return fmt.Errorf("import %s: %v: %w", payload.WallpaperID, err, asynq.SkipRetry)
	}

	wp, err := w.opts.Repo.Get(ctx, r.wallpaperID)
	if err != nil {
		os.Remove(local)
		w.fire(ctx, r, assetstate.Event{Type: assetstate.EventDownloadFailed, Generation: r.generation})
		w.failJob(ctx, r, model.WSErrorImportFailed, importFailedMessage)
		return fmt.Errorf("import %s: %v: %w", payload.WallpaperID, err, asynq.SkipRetry)
	}

	if assetType == model.AssetTypePhoto {
		wp.LocalImagePath = local
		if key, err := service.ParseLocator(payload.Locator); err == nil {
			wp.ImageKey = key
		}

		finished := assetstate.Event{Type: assetstate.EventDownloadFinished, Display: assetstate.DisplayImage, Generation: r.generation}
		snap, err := w.opts.Machine.FireWith(ctx, r.wallpaperID, finished, func(ctx context.Context, prev, next assetstate.Snapshot) (bool, error) {
			return w.opts.Repo.CommitRecord(ctx, wp, prev, next)
		})
		if err != nil {
			os.Remove(local)
			if dropped(err) {
				log.Info().Err(err).Msg("import dropped")
				return w.superseded(ctx, r)
			}
			w.fire(ctx, r, assetstate.Event{Type: assetstate.EventDownloadFailed, Generation: r.generation})
			w.failJob(ctx, r, model.WSErrorImportFailed, importFailedMessage)
			return fmt.Errorf("import %s: %v: %w", payload.WallpaperID, err, asynq.SkipRetry)
		}

		w.complete(ctx, r, wp, snap.State)
		return nil
	}

	// Videos go straight through the Live Photo pipeline.
	snap, ok := w.fire(ctx, r, assetstate.Event{Type: assetstate.EventAnimate})
	if !ok {
		os.Remove(local)
		return w.superseded(ctx, r)
	}
	r.generation = snap.Generation
	return w.runPipeline(ctx, r, local)
}

// obtainSource returns a video the pipeline may consume
func (w *AnimateWorker) obtainSource(ctx context.Context, r run, wp *model.Wallpaper, payload *model.AnimateJobPayload) (string, assetstate.ErrorKind, error) {
	if payload.SourceVideoKey != "" {
		if w.opts.Fetcher == nil {
			return "", assetstate.ErrorDownload, service.ErrStorageDisabled
		}
		local, _, err := w.opts.Fetcher.Fetch(ctx, payload.SourceVideoKey)
		if err != nil {
			return "", assetstate.ErrorDownload, err
		}
		return local, "", nil
	}

	if w.opts.Generator == nil {
		return "", assetstate.ErrorGeneration, service.ErrNotAnimatable
	}

	w.updateProgress(ctx, r, 10, "Generating video...")
	dst := filepath.Join(w.opts.WorkDir, fmt.Sprintf("generated-%s.mp4", r.jobID))
	if err := w.opts.Generator.GenerateVideo(ctx, wp.LocalImagePath, payload.Prompt, dst); err != nil {
		os.Remove(dst)
		return "", assetstate.ErrorGeneration, err
	}
	return dst, "", nil
}

// runPipeline converts source into a Live Photo and publishes the outcome.
// The bundle is only kept when its record commits together with the
// generation-checked transition; every other path removes it.
func (w *AnimateWorker) runPipeline(ctx context.Context, r run, source string) error {
	w.updateProgress(ctx, r, 45, "Waiting for a pipeline slot...")

	result, err := w.opts.Processor.Submit(ctx, livephoto.Request{
		ID:         r.jobID,
		SourcePath: source,
		OnStage: func(stage livephoto.Stage) {
			progress, step := stageProgress(stage)
			w.updateProgress(ctx, r, progress, step)
		},
	})
	if err != nil {
		os.Remove(source)
		return w.fail(ctx, r, assetstate.ErrorKindFor(err), err)
	}
	bundle := result.Bundle

	if !w.current(ctx, r) {
		w.discard(ctx, bundle, "")
		return w.superseded(ctx, r)
	}

	w.updateProgress(ctx, r, 90, "Saving Live Photo...")

	wp, err := w.opts.Repo.Get(ctx, r.wallpaperID)
	if err != nil {
		w.discard(ctx, bundle, "")
		return w.fail(ctx, r, assetstate.ErrorInternal, err)
	}

	bundleKey, err := w.uploadBundle(ctx, r.wallpaperID, bundle)
	if err != nil {
		w.discard(ctx, bundle, "")
		return w.fail(ctx, r, assetstate.ErrorInternal, err)
	}

	previous := *wp
	previousDir := ""
	if wp.LocalVideoPath != "" {
		previousDir = filepath.Dir(wp.LocalVideoPath)
	}

	wp.LocalVideoPath = result.MotionPath
	wp.IsAnimated = true
	if bundleKey != "" {
		wp.BundleKey = bundleKey
	}
	if wp.LocalImagePath == "" || (previousDir != "" && filepath.Dir(wp.LocalImagePath) == previousDir) {
		wp.LocalImagePath = bundle.StillPath()
	}

	ready := assetstate.Event{Type: assetstate.EventLivePhotoReady, Generation: r.generation}
	snap, err := w.opts.Machine.FireWith(ctx, r.wallpaperID, ready, func(ctx context.Context, prev, next assetstate.Snapshot) (bool, error) {
		return w.opts.Repo.CommitRecord(ctx, wp, prev, next)
	})
	if err != nil {
		w.discard(ctx, bundle, bundleKey)
		if dropped(err) {
			w.logger.Info().Err(err).Str("jobId", r.jobID).Str("wallpaperId", r.wallpaperID).Msg("live photo dropped")
			return w.superseded(ctx, r)
		}
		return w.fail(ctx, r, assetstate.ErrorInternal, err)
	}

	w.retire(ctx, &previous, bundle, bundleKey)
	w.complete(ctx, r, wp, snap.State)
	w.logger.Info().
		Str("jobId", r.jobID).
		Str("wallpaperId", r.wallpaperID).
		Str("assetId", bundle.ID()).
		Dur("elapsed", result.Elapsed).
		Msg("wallpaper animated")
	return nil
}

// current reports whether r still owns the wallpaper
func (w *AnimateWorker) current(ctx context.Context, r run) bool {
	snap, err := w.opts.Machine.Current(ctx, r.wallpaperID)
	if err != nil {
		w.logger.Warn().Err(err).Str("wallpaperId", r.wallpaperID).Msg("failed to load state")
		return false
	}
	return snap.Generation == r.generation && snap.State.Kind == assetstate.KindLoading
}

func (w *AnimateWorker) superseded(ctx context.Context, r run) error {
	w.failJob(ctx, r, model.WSErrorSuperseded, "superseded by a newer request")
	return nil
}

// discard removes a bundle that will never be published, locally and in storage
func (w *AnimateWorker) discard(ctx context.Context, bundle *livephoto.Bundle, bundleKey string) {
	if err := os.RemoveAll(bundle.Dir()); err != nil {
		w.logger.Warn().Err(err).Str("dir", bundle.Dir()).Msg("failed to remove bundle")
	}
	if bundleKey != "" {
		w.deleteObjects(ctx, bundleObjectKeys(bundleKey, bundle))
	}
}

// retire removes the bundle an earlier run published for the same wallpaper
func (w *AnimateWorker) retire(ctx context.Context, previous *model.Wallpaper, current *livephoto.Bundle, currentKey string) {
	if previous.LocalVideoPath != "" {
		dir := filepath.Dir(previous.LocalVideoPath)
		if _, err := livephoto.Open(dir); err == nil && dir != current.Dir() {
			if err := os.RemoveAll(dir); err != nil {
				w.logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove bundle")
			}
		}
	}
	if previous.BundleKey != "" && previous.BundleKey != currentKey {
		w.deleteObjects(ctx, bundleObjectKeys(previous.BundleKey, current))
	}
}

func (w *AnimateWorker) uploadBundle(ctx context.Context, wallpaperID string, bundle *livephoto.Bundle) (string, error) {
	if w.opts.Storage == nil {
		return "", nil
	}

	prefix := path.Join(w.opts.Prefix, wallpaperID, "livephoto", bundle.ID())
	var uploaded []string
	for _, file := range bundleFiles(bundle) {
		key := path.Join(prefix, filepath.Base(file))
		if err := w.upload(ctx, key, file); err != nil {
			w.deleteObjects(ctx, uploaded)
			return "", err
		}
		uploaded = append(uploaded, key)
	}
	return prefix, nil
}

func (w *AnimateWorker) upload(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := w.opts.Storage.Upload(ctx, key, f, contentTypeFor(file)); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (w *AnimateWorker) deleteObjects(ctx context.Context, keys []string) {
	if w.opts.Storage == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := w.opts.Storage.Delete(ctx, key); err != nil {
			w.logger.Warn().Err(err).Str("key", key).Msg("failed to delete object")
		}
	}
}

func bundleFiles(b *livephoto.Bundle) []string {
	return []string{b.StillPath(), b.MotionPath(), b.ManifestPath()}
}

func bundleObjectKeys(prefix string, b *livephoto.Bundle) []string {
	files := bundleFiles(b)
	keys := make([]string, len(files))
	for i, file := range files {
		keys[i] = path.Join(prefix, filepath.Base(file))
	}
	return keys
}

func contentTypeFor(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".jpg":
		return "image/jpeg"
	case ".mov":
		return "video/quicktime"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func stageProgress(stage livephoto.Stage) (int, string) {
	switch stage {
	case livephoto.StageTranscoding:
		return 50, "Converting video..."
	case livephoto.StageNormalizing:
		return 65, "Fitting video to wallpaper..."
	case livephoto.StageBuilding:
		return 80, "Building Live Photo..."
	default:
		return 50, string(stage)
	}
}

// fire applies ev and reports whether it was committed. Stale outcomes are
// expected when a newer request replaced this run.
func (w *AnimateWorker) fire(ctx context.Context, r run, ev assetstate.Event) (assetstate.Snapshot, bool) {
	snap, err := w.opts.Machine.Fire(ctx, r.wallpaperID, ev)
	if err != nil {
		level := zerolog.ErrorLevel
		if dropped(err) {
			level = zerolog.InfoLevel
		}
		w.logger.WithLevel(level).Err(err).Str("wallpaperId", r.wallpaperID).Str("event", string(ev.Type)).Msg("state transition dropped")
		return snap, false
	}
	return snap, true
}

// dropped reports whether err means a newer request or a reset replaced the run
func dropped(err error) bool {
	return errors.Is(err, assetstate.ErrStaleGeneration) || errors.Is(err, assetstate.ErrInvalidTransition)
}

// fail records a pipeline failure. The wallpaper keeps its image.
func (w *AnimateWorker) fail(ctx context.Context, r run, kind assetstate.ErrorKind, cause error) error {
	w.logger.Error().
		Err(cause).
		Str("jobId", r.jobID).
		Str("wallpaperId", r.wallpaperID).
		Str("kind", string(kind)).
		Msg("animate failed")

	w.fire(ctx, r, assetstate.Event{Type: assetstate.EventPipelineFailed, Error: kind, Generation: r.generation})
	w.failJob(ctx, r, model.WSErrorAnimateFailed, animateFailedMessage)
	return fmt.Errorf("animate %s: %v: %w", r.wallpaperID, cause, asynq.SkipRetry)
}

func (w *AnimateWorker) complete(ctx context.Context, r run, wp *model.Wallpaper, state assetstate.State) {
	if err := w.opts.Jobs.CompleteJob(ctx, r.jobID); err != nil {
		w.logger.Warn().Err(err).Str("jobId", r.jobID).Msg("failed to mark job as completed")
	}
	w.opts.Hub.BroadcastComplete(r.wallpaperID, r.jobID, w.opts.Respond(wp, state))
}

func (w *AnimateWorker) updateProgress(ctx context.Context, r run, progress int, step string) {
	if err := w.opts.Jobs.UpdateJobProgress(ctx, r.jobID, progress, step); err != nil {
		w.logger.Warn().Err(err).Str("jobId", r.jobID).Msg("failed to update progress")
	}
	w.opts.Hub.BroadcastProgress(r.wallpaperID, r.jobID, progress, model.JobStatusRunning, step)
}

func (w *AnimateWorker) failJob(ctx context.Context, r run, code, message string) {
	if err := w.opts.Jobs.FailJob(ctx, r.jobID, message); err != nil {
		w.logger.Warn().Err(err).Str("jobId", r.jobID).Msg("failed to mark job as failed")
	}
	w.opts.Hub.BroadcastError(r.wallpaperID, r.jobID, code, message)
}
