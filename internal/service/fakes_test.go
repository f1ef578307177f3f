package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/client"
	"github.com/livewall/api/internal/model"
)

type fakeRepo struct {
	*assetstate.MemoryStore
	mu      sync.Mutex
	records map[string]*model.Wallpaper
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{MemoryStore: assetstate.NewMemoryStore(), records: make(map[string]*model.Wallpaper)}
}

func (r *fakeRepo) Create(_ context.Context, w *model.Wallpaper, snap assetstate.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *w
	r.records[w.ID] = &cp
	r.Put(w.ID, snap)
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (*model.Wallpaper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWallpaperNotFound, id)
	}
	cp := *w
	return &cp, nil
}

func (r *fakeRepo) List(_ context.Context) ([]*model.Wallpaper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Wallpaper, 0, len(r.records))
	for _, w := range r.records {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) CommitRecord(ctx context.Context, w *model.Wallpaper, prev, next assetstate.Snapshot) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.SwapSnapshot(ctx, w.ID, prev, next)
	if ok {
		cp := *w
		r.records[w.ID] = &cp
	}
	return ok, err
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: make(map[string]*model.Job)} }

func (j *fakeJobs) CreateJob(_ context.Context, job *model.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *job
	j.jobs[job.ID] = &cp
	return nil
}

func (j *fakeJobs) GetStatus(_ context.Context, id string) (*model.JobStatusResponse, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &model.JobStatusResponse{JobID: job.ID, Status: job.Status, Progress: job.Progress, CurrentStep: job.CurrentStep, Error: job.Error}, nil
}

func (j *fakeJobs) UpdateJobProgress(_ context.Context, id string, progress int, step string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status, job.Progress, job.CurrentStep = model.JobStatusRunning, progress, step
	return nil
}

func (j *fakeJobs) CompleteJob(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status, job.Progress = model.JobStatusSucceeded, 100
	return nil
}

func (j *fakeJobs) FailJob(_ context.Context, id, msg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status, job.Error = model.JobStatusFailed, &msg
	return nil
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(q.tasks)), Type: task.Type()}, nil
}

type fakeStorage struct {
	mu         sync.Mutex
	objects    map[string][]byte
	uploaded   map[string]string // key -> content type
	presignErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte), uploaded: make(map[string]string)}
}

var _ client.StorageClient = (*fakeStorage)(nil)

func (s *fakeStorage) Upload(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.uploaded[key] = contentType
	return s.GetPublicURL(key), nil
}

func (s *fakeStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeStorage) GetSignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return fmt.Sprintf("https://signed.example/%s?ttl=%d", key, int(expiry.Seconds())), nil
}

func (s *fakeStorage) GetPublicURL(key string) string {
	return "https://cdn.example/" + key
}

func (s *fakeStorage) List(_ context.Context, prefix string) ([]client.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []client.ObjectInfo
	for k, v := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, client.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *fakeStorage) Download(_ context.Context, key, dst string) error {
	s.mu.Lock()
	data, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", client.ErrObjectNotFound, key)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

var errQueueDown = errors.New("redis: connection refused")
