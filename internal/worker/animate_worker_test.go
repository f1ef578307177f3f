package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/client"
	"github.com/livewall/api/internal/livephoto"
	"github.com/livewall/api/internal/media"
	"github.com/livewall/api/internal/model"
	"github.com/livewall/api/internal/service"
)

type memRepo struct {
	*assetstate.MemoryStore
	mu      sync.Mutex
	records map[string]model.Wallpaper
}

func newMemRepo() *memRepo {
	return &memRepo{MemoryStore: assetstate.NewMemoryStore(), records: make(map[string]model.Wallpaper)}
}

func (r *memRepo) Create(_ context.Context, w *model.Wallpaper, snap assetstate.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[w.ID] = *w
	r.Put(w.ID, snap)
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*model.Wallpaper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.records[id]
	if !ok {
		return nil, service.ErrWallpaperNotFound
	}
	return &w, nil
}

func (r *memRepo) List(context.Context) ([]*model.Wallpaper, error) { return nil, nil }

func (r *memRepo) CommitRecord(ctx context.Context, w *model.Wallpaper, prev, next assetstate.Snapshot) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.SwapSnapshot(ctx, w.ID, prev, next)
	if ok {
		r.records[w.ID] = *w
	}
	return ok, err
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func (j *memJobs) CreateJob(_ context.Context, job *model.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs[job.ID] = job
	return nil
}

func (j *memJobs) GetStatus(_ context.Context, id string) (*model.JobStatusResponse, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	return &model.JobStatusResponse{JobID: id, Status: job.Status, Progress: job.Progress, Error: job.Error}, nil
}

func (j *memJobs) UpdateJobProgress(_ context.Context, id string, progress int, step string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs[id].Status, j.jobs[id].Progress, j.jobs[id].CurrentStep = model.JobStatusRunning, progress, step
	return nil
}

func (j *memJobs) CompleteJob(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs[id].Status, j.jobs[id].Progress = model.JobStatusSucceeded, 100
	return nil
}

func (j *memJobs) FailJob(_ context.Context, id, msg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs[id].Status, j.jobs[id].Error = model.JobStatusFailed, &msg
	return nil
}

type hubRecorder struct {
	mu       sync.Mutex
	progress []string
	complete []model.WallpaperResponse
	errors   []string
}

func (h *hubRecorder) BroadcastProgress(_, _ string, _ int, _ model.JobStatus, step string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = append(h.progress, step)
}

func (h *hubRecorder) BroadcastComplete(_, _ string, result model.WallpaperResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.complete = append(h.complete, result)
}

func (h *hubRecorder) BroadcastError(_, _, code, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, code+": "+message)
}

type processorFunc func(ctx context.Context, req livephoto.Request) (*livephoto.Result, error)

func (f processorFunc) Submit(ctx context.Context, req livephoto.Request) (*livephoto.Result, error) {
	return f(ctx, req)
}

type generatorFunc func(ctx context.Context, imagePath, prompt, dst string) error

func (f generatorFunc) GenerateVideo(ctx context.Context, imagePath, prompt, dst string) error {
	return f(ctx, imagePath, prompt, dst)
}

type fetcherFunc func(ctx context.Context, locator string) (string, model.AssetType, error)

func (f fetcherFunc) Fetch(ctx context.Context, locator string) (string, model.AssetType, error) {
	return f(ctx, locator)
}

type uploadRecorder struct {
	mu       sync.Mutex
	keys     []string
	deleted  []string
	failOn   string
	onUpload func(key string)
}

var _ client.StorageClient = (*uploadRecorder)(nil)

func (u *uploadRecorder) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	if u.onUpload != nil {
		u.onUpload(key)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failOn != "" && strings.HasSuffix(key, u.failOn) {
		return "", errors.New("r2: service unavailable")
	}
	u.keys = append(u.keys, key)
	return "https://cdn.example/" + key, nil
}

func (u *uploadRecorder) Delete(_ context.Context, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deleted = append(u.deleted, key)
	return nil
}

// stored returns uploaded keys that were not deleted since.
func (u *uploadRecorder) stored() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	gone := make(map[string]bool, len(u.deleted))
	for _, k := range u.deleted {
		gone[k] = true
	}
	var out []string
	for _, k := range u.keys {
		if !gone[k] {
			out = append(out, k)
		}
	}
	return out
}

func (u *uploadRecorder) GetSignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}
func (u *uploadRecorder) GetPublicURL(key string) string { return "https://cdn.example/" + key }
func (u *uploadRecorder) List(context.Context, string) ([]client.ObjectInfo, error) {
	return nil, nil
}
func (u *uploadRecorder) Download(context.Context, string, string) error { return nil }

// writeBundle lays out a bundle directory the way Builder.Build does. The
// directory name is the asset identifier.
func writeBundle(t *testing.T, dir string) *livephoto.Bundle {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"still.jpg", "motion.mov"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	manifest, _ := json.Marshal(livephoto.Manifest{
		AssetIdentifier: filepath.Base(dir),
		Still:           "still.jpg",
		Motion:          "motion.mov",
		Duration:        2,
		Width:           1080,
		Height:          1920,
		FrameRate:       60,
	})
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), manifest, 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := livephoto.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

type fixture struct {
	repo    *memRepo
	jobs    *memJobs
	hub     *hubRecorder
	storage *uploadRecorder
	machine *assetstate.Machine
	opts    Options
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		repo:    newMemRepo(),
		jobs:    &memJobs{jobs: make(map[string]*model.Job)},
		hub:     &hubRecorder{},
		storage: &uploadRecorder{},
	}
	f.machine = assetstate.NewMachine(f.repo)
	f.opts = Options{
		Repo:    f.repo,
		Machine: f.machine,
		Jobs:    f.jobs,
		Storage: f.storage,
		Hub:     f.hub,
		Respond: func(w *model.Wallpaper, s assetstate.State) model.WallpaperResponse {
			return model.WallpaperResponse{ID: w.ID, IsAnimated: w.IsAnimated, State: s}
		},
		WorkDir: t.TempDir(),
		Prefix:  "wallpapers",
		Logger:  zerolog.Nop(),
	}
	return f
}

// seedLoading stores a wallpaper whose animate request was just accepted.
func (f *fixture) seedLoading(t *testing.T, id string) {
	t.Helper()
	w := &model.Wallpaper{ID: id, Name: "Dunes", LocalImagePath: "/cache/" + id + "/image.png", SourceOrigin: model.SourceUser}
	f.repo.Create(context.Background(), w, assetstate.Snapshot{State: assetstate.Success(assetstate.DisplayImage)})
	if _, err := f.machine.Fire(context.Background(), id, assetstate.Event{Type: assetstate.EventAnimate}); err != nil {
		t.Fatal(err)
	}
	f.jobs.jobs["job-1"] = &model.Job{ID: "job-1", WallpaperID: id, Status: model.JobStatusQueued}
}

func animateTask(t *testing.T, p model.AnimateJobPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(service.TaskTypeAnimate, data)
}

func TestProcessAnimateTask_GeneratesAndPublishes(t *testing.T) {
	f := newFixture(t)
	f.seedLoading(t, "wp-1")
	bundleDir := filepath.Join(t.TempDir(), "ASSET-1")

	var generatedFrom string
	f.opts.Generator = generatorFunc(func(_ context.Context, imagePath, prompt, dst string) error {
		generatedFrom = imagePath
		return os.WriteFile(dst, []byte("mp4"), 0o644)
	})
	var stages []livephoto.Stage
	f.opts.Processor = processorFunc(func(_ context.Context, req livephoto.Request) (*livephoto.Result, error) {
		if _, err := os.Stat(req.SourcePath); err != nil {
			t.Errorf("source missing: %v", err)
		}
		for _, s := range []livephoto.Stage{livephoto.StageTranscoding, livephoto.StageNormalizing, livephoto.StageBuilding} {
			stages = append(stages, s)
			req.OnStage(s)
		}
		os.Remove(req.SourcePath)
		b := writeBundle(t, bundleDir)
		return &livephoto.Result{Bundle: b, MotionPath: b.MotionPath()}, nil
	})

	w := NewAnimateWorker(f.opts)
	err := w.ProcessAnimateTask(context.Background(), animateTask(t, model.AnimateJobPayload{
		JobID: "job-1", WallpaperID: "wp-1", Generation: 1, Prompt: "slight motion",
	}))
	if err != nil {
		t.Fatalf("ProcessAnimateTask() error: %v", err)
	}

	if generatedFrom != "/cache/wp-1/image.png" {
		t.Errorf("generator input = %q", generatedFrom)
	}
	if len(stages) != 3 {
		t.Errorf("stages = %v", stages)
	}

	snap, _ := f.machine.Current(context.Background(), "wp-1")
	if snap.State != assetstate.Success(assetstate.DisplayLivePhoto) {
		t.Errorf("state = %s, want success(livePhoto)", snap.State)
	}

	wp, _ := f.repo.Get(context.Background(), "wp-1")
	if !wp.IsAnimated || wp.LocalVideoPath != filepath.Join(bundleDir, "motion.mov") {
		t.Errorf("record = %+v", wp)
	}
	if wp.BundleKey != "wallpapers/wp-1/livephoto/ASSET-1" {
		t.Errorf("BundleKey = %q", wp.BundleKey)
	}
	if wp.LocalImagePath != "/cache/wp-1/image.png" {
		t.Errorf("image path changed to %q", wp.LocalImagePath)
	}

	sort.Strings(f.storage.keys)
	want := []string{
		"wallpapers/wp-1/livephoto/ASSET-1/manifest.json",
		"wallpapers/wp-1/livephoto/ASSET-1/motion.mov",
		"wallpapers/wp-1/livephoto/ASSET-1/still.jpg",
	}
	if strings.Join(f.storage.keys, ",") != strings.Join(want, ",") {
		t.Errorf("uploaded = %v", f.storage.keys)
	}

	if f.jobs.jobs["job-1"].Status != model.JobStatusSucceeded {
		t.Errorf("job status = %s", f.jobs.jobs["job-1"].Status)
	}
	if len(f.hub.complete) != 1 || !f.hub.complete[0].IsAnimated {
		t.Errorf("complete broadcasts = %+v", f.hub.complete)
	}

	entries, _ := os.ReadDir(f.opts.WorkDir)
	if len(entries) != 0 {
		t.Errorf("work dir not empty: %v", entries)
	}
}

func TestProcessAnimateTask_PipelineFailureKeepsImage(t *testing.T) {
	f := newFixture(t)
	f.seedLoading(t, "wp-1")
	f.opts.Generator = generatorFunc(func(_ context.Context, _, _, dst string) error {
		return os.WriteFile(dst, []byte("mp4"), 0o644)
	})
	f.opts.Processor = processorFunc(func(context.Context, livephoto.Request) (*livephoto.Result, error) {
		return nil, &media.Error{Op: "normalize", Kind: media.ErrExportFailed, Reason: "encoder exited 1"}
	})

	err := NewAnimateWorker(f.opts).ProcessAnimateTask(context.Background(), animateTask(t, model.AnimateJobPayload{
		JobID: "job-1", WallpaperID: "wp-1", Generation: 1,
	}))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry", err)
	}

	snap, _ := f.machine.Current(context.Background(), "wp-1")
	if snap.State != assetstate.Failure(assetstate.ErrorNormalization) {
		t.Errorf("state = %s, want failure(normalization)", snap.State)
	}

	wp, _ := f.repo.Get(context.Background(), "wp-1")
	if wp.IsAnimated || wp.LocalImagePath != "/cache/wp-1/image.png" {
		t.Errorf("record changed on failure: %+v", wp)
	}

	if len(f.hub.errors) != 1 || !strings.Contains(f.hub.errors[0], animateFailedMessage) {
		t.Errorf("errors = %v", f.hub.errors)
	}
	if strings.Contains(f.hub.errors[0], "encoder") {
		t.Error("user-facing message must not leak the failure detail")
	}
	entries, _ := os.ReadDir(f.opts.WorkDir)
	if len(entries) != 0 {
		t.Errorf("generated source left behind: %v", entries)
	}
}

func TestProcessAnimateTask_GenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.seedLoading(t, "wp-1")
	f.opts.Generator = generatorFunc(func(context.Context, string, string, string) error {
		return client.ErrGenerationTimeout
	})
	f.opts.Processor = processorFunc(func(context.Context, livephoto.Request) (*livephoto.Result, error) {
		t.Error("pipeline must not run without a source")
		return nil, nil
	})

	NewAnimateWorker(f.opts).ProcessAnimateTask(context.Background(), animateTask(t, model.AnimateJobPayload{
		JobID: "job-1", WallpaperID: "wp-1", Generation: 1,
	}))

	snap, _ := f.machine.Current(context.Background(), "wp-1")
	if snap.State != assetstate.Failure(assetstate.ErrorGeneration) {
		t.Errorf("state = %s, want failure(generation)", snap.State)
	}
}

func TestProcessAnimateTask_SupersededRunIsDropped(t *testing.T) {
	f := newFixture(t)
	f.seedLoading(t, "wp-1")
	f.opts.Processor = processorFunc(func(context.Context, livephoto.Request) (*livephoto.Result, error) {
		t.Error("superseded run must not reach the pipeline")
		return nil, nil
	})

	// The user reset and re-animated: generation 2 is current.
	f.machine.Fire(context.Background(), "wp-1", assetstate.Event{Type: assetstate.EventReset})
	f.machine.Fire(context.Background(), "wp-1", assetstate.Event{Type: assetstate.EventAnimate})

	err := NewAnimateWorker(f.opts).ProcessAnimateTask(context.Background(), animateTask(t, model.AnimateJobPayload{
		JobID: "job-1", WallpaperID: "wp-1", Generation: 1,
	}))
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	snap, _ := f.machine.Current(context.Background(), "wp-1")
	if snap.State != assetstate.Loading() || snap.Generation != 2 {
		t.Errorf("newer run disturbed: %+v", snap)
	}
}

func TestProcessAnimateTask_ProvidedVideo(t *testing.T) {
	f := newFixture(t)
	f.seedLoading(t, "wp-1")
	cache := t.TempDir()
	f.opts.Fetcher = fetcherFunc(func(_ context.Context, locator string) (string, model.AssetType, error) {
		if locator != "clips/waves.mp4" {
			t.Errorf("locator = %q", locator)
		}
		p := filepath.Join(cache, "waves.mp4")
		return p, model.AssetTypeVideo, os.WriteFile(p, []byte("mp4"), 0o644)
	})
	var source string
	f.opts.Processor = processorFunc(func(_ context.Context, req livephoto.Request) (*livephoto.Result, error) {
		source = req.SourcePath
		b := writeBundle(t, filepath.Join(t.TempDir(), "ASSET-1"))
		return &livephoto.Result{Bundle: b, MotionPath: b.MotionPath()}, nil
	})

	err := NewAnimateWorker(f.opts).ProcessAnimateTask(context.Background(), animateTask(t, model.AnimateJobPayload{
		JobID: "job-1", WallpaperID: "wp-1", Generation: 1, SourceVideoKey: "clips/waves.mp4",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if source != filepath.Join(cache, "waves.mp4") {
		t.Errorf("pipeline source = %q", source)
	}
}

func importTask(t *testing.T, p model.ImportJobPayload) *asynq.Task {
	t.Helper()
	data, _ := json.Marshal(p)
	return asynq.NewTask(service.TaskTypeImport, data)
}

func (f *fixture) seedImport(t *testing.T, id string) {
	t.Helper()
	locator := "wallpapers/" + id
	w := &model.Wallpaper{ID: id, Name: "Remote", SourceOrigin: model.SourceRemote, RemoteLocator: &locator}
	f.repo.Create(context.Background(), w, assetstate.Snapshot{State: assetstate.Initial()})
	if _, err := f.machine.Fire(context.Background(), id, assetstate.Event{Type: assetstate.EventRequestDownload}); err != nil {
		t.Fatal(err)
	}
	f.jobs.jobs["job-1"] = &model.Job{ID: "job-1", WallpaperID: id, Status: model.JobStatusQueued}
}

func TestProcessImportTask_Photo(t *testing.T) {
	f := newFixture(t)
	f.seedImport(t, "wp-1")
	local := filepath.Join(t.TempDir(), "aurora.jpg")
	f.opts.Fetcher = fetcherFunc(func(context.Context, string) (string, model.AssetType, error) {
		return local, model.AssetTypePhoto, os.WriteFile(local, []byte("jpg"), 0o644)
	})

	err := NewAnimateWorker(f.opts).ProcessImportTask(context.Background(), importTask(t, model.ImportJobPayload{
		JobID: "job-1", WallpaperID: "wp-1", Locator: "wallpapers/aurora.jpg",
	}))
	if err != nil {
		t.Fatal(err)
	}

	snap, _ := f.machine.Current(context.Background(), "wp-1")
	if snap.State != assetstate.Success(assetstate.DisplayImage) {
		t.Errorf("state = %s", snap.State)
	}
	wp, _ := f.repo.Get(context.Background(), "wp-1")
	if wp.LocalImagePath != local || wp.ImageKey != "wallpapers/aurora.jpg" {
		t.Errorf("record = %+v", wp)
	}
}

func TestProcessImportTask_VideoBecomesLivePhoto(t *testing.T) {
	f := newFixture(t)
	f.seedImport(t, "wp-1")
	local := filepath.Join(t.TempDir(), "waves.mov")
	f.opts.Fetcher = fetcherFunc(func(context.Context, string) (string, model.AssetType, error) {
		return local, model.AssetTypeVideo, os.WriteFile(local, []byte("mov"), 0o644)
	})

	var observed []assetstate.State
	f.opts.Processor = processorFunc(func(ctx context.Context, req livephoto.Request) (*livephoto.Result, error) {
		snap, _ := f.machine.Current(ctx, "wp-1")
		observed = append(observed, snap.State)
		b := writeBundle(t, filepath.Join(t.TempDir(), "ASSET-1"))
		return &livephoto.Result{Bundle: b, MotionPath: b.MotionPath()}, nil
	})

	if err := NewAnimateWorker(f.opts).ProcessImportTask(context.Background(), importTask(t, model.ImportJobPayload{
		JobID: "job-1", WallpaperID: "wp-1", Locator: "wallpapers/waves.mov",
	})); err != nil {
		t.Fatal(err)
	}

	if len(observed) != 1 || observed[0] != assetstate.Loading() {
		t.Errorf("state during pipeline = %v, want loading", observed)
	}
	snap, _ := f.machine.Current(context.Background(), "wp-1")
	if snap.State != assetstate.Success(assetstate.DisplayLivePhoto) || snap.Generation != 2 {
		t.Errorf("final snapshot = %+v", snap)
	}
	wp, _ := f.repo.Get(context.Background(), "wp-1")
	if !wp.IsAnimated || !strings.HasSuffix(wp.LocalImagePath, "still.jpg") {
		t.Errorf("record = %+v", wp)
	}
}

func TestProcessImportTask_DownloadFailure(t *testing.T) {
	f := newFixture(t)
	f.seedImport(t, "wp-1")
	f.opts.Fetcher = fetcherFunc(func(context.Context, string) (string, model.AssetType, error) {
		return "", model.AssetTypeUnknown, fmt.Errorf("%w: wallpapers/gone.jpg", client.ErrObjectNotFound)
	})

	err := NewAnimateWorker(f.opts).ProcessImportTask(context.Background(), importTask(t, model.ImportJobPayload{
		JobID: "job-1", WallpaperID: "wp-1", Locator: "wallpapers/gone.jpg",
	}))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v", err)
	}
	snap, _ := f.machine.Current(context.Background(), "wp-1")
	if snap.State != assetstate.Failure(assetstate.ErrorDownload) {
		t.Errorf("state = %s, want failure(download)", snap.State)
	}
	if f.jobs.jobs["job-1"].Status != model.JobStatusFailed {
		t.Errorf("job status = %s", f.jobs.jobs["job-1"].Status)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestProcessAnimateTask_ResetDuringPipelineKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.seedLoading(t, "wp-1")
	f.opts.Generator = generatorFunc(func(_ context.Context, _, _, dst string) error {
		return os.WriteFile(dst, []byte("mp4"), 0o644)
	})
	bundleDir := filepath.Join(t.TempDir(), "ASSET-1")
	f.opts.Processor = processorFunc(func(ctx context.Context, req livephoto.Request) (*livephoto.Result, error) {
		// The user gives up on the animation while it is being built.
		f.machine.Fire(ctx, "wp-1", assetstate.Event{Type: assetstate.EventReset})
		f.machine.Fire(ctx, "wp-1", assetstate.Event{Type: assetstate.EventShowImage})
		os.Remove(req.SourcePath)
		b := writeBundle(t, bundleDir)
		return &livephoto.Result{Bundle: b, MotionPath: b.MotionPath()}, nil
	})

	err := NewAnimateWorker(f.opts).ProcessAnimateTask(context.Background(), animateTask(t, model.AnimateJobPayload{
		JobID: "job-1", WallpaperID: "wp-1", Generation: 1,
	}))
	if err != nil {
		t.Fatalf("err = %v", err)
	}

	snap, _ := f.machine.Current(context.Background(), "wp-1")
	if snap.State != assetstate.Success(assetstate.DisplayImage) {
		t.Errorf("state = %s, want success(image)", snap.State)
	}
	wp, _ := f.repo.Get(context.Background(), "wp-1")
	if wp.IsAnimated || wp.LocalVideoPath != "" || wp.BundleKey != "" {
		t.Errorf("abandoned run wrote the record: %+v", wp)
	}
	if exists(bundleDir) {
		t.Error("abandoned bundle left on disk")
	}
	if len(f.storage.keys) != 0 {
		t.Errorf("abandoned bundle uploaded: %v", f.storage.keys)
	}
	if len(f.hub.complete) != 0 {
		t.Errorf("complete broadcast for an abandoned run: %+v", f.hub.complete)
	}
	if len(f.hub.errors) != 1 || !strings.HasPrefix(f.hub.errors[0], model.WSErrorSuperseded) {
		t.Errorf("errors = %v", f.hub.errors)
	}
}

func TestProcessAnimateTask_ResetDuringUploadRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seedLoading(t, "wp-1")
	f.opts.Generator = generatorFunc(func(_ context.Context, _, _, dst string) error {
		return os.WriteFile(dst, []byte("mp4"), 0o644)
	})
	bundleDir := filepath.Join(t.TempDir(), "ASSET-1")
	f.opts.Processor = processorFunc(func(context.Context, livephoto.Request) (*livephoto.Result, error) {
		b := writeBundle(t, bundleDir)
		return &livephoto.Result{Bundle: b, MotionPath: b.MotionPath()}, nil
	})
	var once sync.Once
	f.storage.onUpload = func(string) {
		once.Do(func() {
			f.machine.Fire(context.Background(), "wp-1", assetstate.Event{Type: assetstate.EventReset})
		})
	}

	err := NewAnimateWorker(f.opts).ProcessAnimateTask(context.Background(), animateTask(t, model.AnimateJobPayload{
		JobID: "job-1", WallpaperID: "wp-1", Generation: 1,
	}))
	if err != nil {
		t.Fatalf("err = %v", err)
	}

	snap, _ := f.machine.Current(context.Background(), "wp-1")
	if snap.State != assetstate.Initial() {
		t.Errorf("state = %s, want initial", snap.State)
	}
	wp, _ := f.repo.Get(context.Background(), "wp-1")
	if wp.IsAnimated || wp.BundleKey != "" {
		t.Errorf("record = %+v", wp)
	}
	if len(f.storage.keys) != 3 {
		t.Fatalf("uploaded = %v, want the full bundle", f.storage.keys)
	}
	if left := f.storage.stored(); len(left) != 0 {
		t.Errorf("objects left in storage: %v", left)
	}
	if exists(bundleDir) {
		t.Error("bundle left on disk")
	}
}

func TestProcessAnimateTask_UploadFailureRemovesBundle(t *testing.T) {
	f := newFixture(t)
	f.seedLoading(t, "wp-1")
	f.opts.Generator = generatorFunc(func(_ context.Context, _, _, dst string) error {
		return os.WriteFile(dst, []byte("mp4"), 0o644)
	})
	bundleDir := filepath.Join(t.TempDir(), "ASSET-1")
	f.opts.Processor = processorFunc(func(context.Context, livephoto.Request) (*livephoto.Result, error) {
		b := writeBundle(t, bundleDir)
		return &livephoto.Result{Bundle: b, MotionPath: b.MotionPath()}, nil
	})
	f.storage.failOn = "motion.mov"

	err := NewAnimateWorker(f.opts).ProcessAnimateTask(context.Background(), animateTask(t, model.AnimateJobPayload{
		JobID: "job-1", WallpaperID: "wp-1", Generation: 1,
	}))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry", err)
	}

	snap, _ := f.machine.Current(context.Background(), "wp-1")
	if snap.State != assetstate.Failure(assetstate.ErrorInternal) {
		t.Errorf("state = %s, want failure(internal)", snap.State)
	}
	if exists(bundleDir) {
		t.Error("bundle left on disk after a failed upload")
	}
	if left := f.storage.stored(); len(left) != 0 {
		t.Errorf("partial upload left in storage: %v", left)
	}
	wp, _ := f.repo.Get(context.Background(), "wp-1")
	if wp.IsAnimated {
		t.Errorf("record = %+v", wp)
	}
}

func TestProcessAnimateTask_ReanimateRetiresPreviousBundle(t *testing.T) {
	f := newFixture(t)
	f.seedLoading(t, "wp-1")

	oldDir := filepath.Join(t.TempDir(), "ASSET-0")
	old := writeBundle(t, oldDir)
	f.repo.mu.Lock()
	wp := f.repo.records["wp-1"]
	wp.IsAnimated = true
	wp.LocalVideoPath = old.MotionPath()
	wp.BundleKey = "wallpapers/wp-1/livephoto/ASSET-0"
	f.repo.records["wp-1"] = wp
	f.repo.mu.Unlock()

	f.opts.Generator = generatorFunc(func(_ context.Context, _, _, dst string) error {
		return os.WriteFile(dst, []byte("mp4"), 0o644)
	})
	newDir := filepath.Join(t.TempDir(), "ASSET-1")
	f.opts.Processor = processorFunc(func(context.Context, livephoto.Request) (*livephoto.Result, error) {
		b := writeBundle(t, newDir)
		return &livephoto.Result{Bundle: b, MotionPath: b.MotionPath()}, nil
	})

	if err := NewAnimateWorker(f.opts).ProcessAnimateTask(context.Background(), animateTask(t, model.AnimateJobPayload{
		JobID: "job-1", WallpaperID: "wp-1", Generation: 1,
	})); err != nil {
		t.Fatal(err)
	}

	if exists(oldDir) {
		t.Error("previous bundle left on disk")
	}
	if !exists(newDir) {
		t.Error("current bundle removed")
	}
	sort.Strings(f.storage.deleted)
	want := []string{
		"wallpapers/wp-1/livephoto/ASSET-0/manifest.json",
		"wallpapers/wp-1/livephoto/ASSET-0/motion.mov",
		"wallpapers/wp-1/livephoto/ASSET-0/still.jpg",
	}
	if strings.Join(f.storage.deleted, ",") != strings.Join(want, ",") {
		t.Errorf("deleted = %v", f.storage.deleted)
	}
	got, _ := f.repo.Get(context.Background(), "wp-1")
	if got.LocalVideoPath != filepath.Join(newDir, "motion.mov") || got.BundleKey != "wallpapers/wp-1/livephoto/ASSET-1" {
		t.Errorf("record = %+v", got)
	}
}
