package service

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/livewall/api/internal/model"
)

const (
	TaskTypeAnimate = "wallpaper:animate"
	TaskTypeImport  = "wallpaper:import"

	QueueAnimate = "animate"
	QueueImport  = "import"
)

// Enqueuer is the part of *asynq.Client the services use
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func newAnimateTask(payload *model.AnimateJobPayload) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	// Pipeline failures are not retried; a new animate request starts a new run.
	opts := []asynq.Option{
		asynq.Queue(QueueAnimate),
		asynq.MaxRetry(0),
		asynq.Timeout(20 * time.Minute),
		asynq.Retention(24 * time.Hour),
	}
	return asynq.NewTask(TaskTypeAnimate, data), opts, nil
}

func newImportTask(payload *model.ImportJobPayload) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueImport),
		asynq.MaxRetry(0),
		asynq.Timeout(20 * time.Minute),
		asynq.Retention(24 * time.Hour),
	}
	return asynq.NewTask(TaskTypeImport, data), opts, nil
}
