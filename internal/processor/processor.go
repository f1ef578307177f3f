package processor

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/livephoto"
)

// ErrPipelinePanic wraps a panic recovered from an admitted pipeline.
var ErrPipelinePanic = errors.New("pipeline panicked")

// Pipeline is the expensive unit of work the processor gates.
type Pipeline interface {
	Run(ctx context.Context, req livephoto.Request) (*livephoto.Result, error)
}

// Phase is a request's position in its lifecycle.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseAdmitted  Phase = "admitted"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	// PhaseWithdrawn ends a request whose context was cancelled while still queued.
	PhaseWithdrawn Phase = "withdrawn"
)

// Event reports one phase change together with the gate occupancy after it.
type Event struct {
	RequestID string
	Seq       uint64
	Phase     Phase
	Err       error
	Active    int
	Pending   int
	At        time.Time
}

// Stats is a snapshot of the gate.
type Stats struct {
	Max       int    `json:"maxConcurrentTasks"`
	Active    int    `json:"activeTasks"`
	Pending   int    `json:"pendingTasks"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Option customizes a Processor.
type Option func(*Processor)

// WithObserver registers fn for every phase change. fn is called with the
// processor's lock held, in the order the changes happen, and must not call
// back into the processor. A panic in fn is logged and does not reach the
// submitter.
func WithObserver(fn func(Event)) Option {
	return func(p *Processor) {
		p.observers = append(p.observers, fn)
	}
}

type waiter struct {
	id    string
	seq   uint64
	ready chan struct{}
	elem  *list.Element
}

// Processor bounds how many pipelines run at once. Excess submissions wait in
// a FIFO queue; each finished pipeline hands its slot to the queue head.
type Processor struct {
	pipeline  Pipeline
	max       int
	log       zerolog.Logger
	observers []func(Event)
	now       func() time.Time

	mu        sync.Mutex
	active    int
	pending   *list.List
	seq       uint64
	completed uint64
	failed    uint64
}

// New creates a processor admitting at most maxConcurrentTasks pipelines; values below 1 mean 1.
func New(maxConcurrentTasks int, pipeline Pipeline, logger zerolog.Logger, opts ...Option) *Processor {
	if maxConcurrentTasks < 1 {
		maxConcurrentTasks = 1
	}
	p := &Processor{
		pipeline: pipeline,
		max:      maxConcurrentTasks,
		log:      logger.With().Str("component", "processor").Logger(),
		now:      time.Now,
		pending:  list.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit runs req once a slot is free and returns its result. While queued,
// cancelling ctx withdraws the request. Once admitted the pipeline runs to
// completion regardless of ctx, and the slot is released on every exit path.
func (p *Processor) Submit(ctx context.Context, req livephoto.Request) (res *livephoto.Result, err error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	w, err := p.acquire(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("requestId", w.id).Interface("panic", r).Msg("pipeline panicked")
			res = nil
			err = fmt.Errorf("%w: %v", ErrPipelinePanic, r)
		}
		p.release(w, err)
	}()

	p.mu.Lock()
	p.emitLocked(w, PhaseRunning, nil)
	p.mu.Unlock()

	return p.pipeline.Run(context.WithoutCancel(ctx), req)
}

// Stats returns the current occupancy.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Max:       p.max,
		Active:    p.active,
		Pending:   p.pending.Len(),
		Completed: p.completed,
		Failed:    p.failed,
	}
}

func (p *Processor) acquire(ctx context.Context, id string) (*waiter, error) {
	p.mu.Lock()
	p.seq++
	w := &waiter{id: id, seq: p.seq}

	// Only admit directly when nobody is waiting; otherwise we would overtake the queue.
	if p.active < p.max && p.pending.Len() == 0 {
		p.emitLocked(w, PhaseQueued, nil)
		p.active++
		p.emitLocked(w, PhaseAdmitted, nil)
		p.mu.Unlock()
		return w, nil
	}

	w.ready = make(chan struct{})
	w.elem = p.pending.PushBack(w)
	p.emitLocked(w, PhaseQueued, nil)
	p.mu.Unlock()

	p.log.Debug().Str("requestId", id).Uint64("seq", w.seq).Msg("request queued")

	select {
	case <-w.ready:
		return w, nil
	case <-ctx.Done():
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-w.ready:
		// Admitted while we were waking up; the slot is ours and must be used.
		return w, nil
	default:
	}
	p.pending.Remove(w.elem)
	p.emitLocked(w, PhaseWithdrawn, ctx.Err())
	return nil, ctx.Err()
}

func (p *Processor) release(w *waiter, runErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active--
	if runErr != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.emitLocked(w, PhaseCompleted, runErr)

	front := p.pending.Front()
	if front == nil {
		return
	}
	next := p.pending.Remove(front).(*waiter)
	p.active++
	p.emitLocked(next, PhaseAdmitted, nil)
	close(next.ready)
}

func (p *Processor) emitLocked(w *waiter, phase Phase, err error) {
	if len(p.observers) == 0 {
		return
	}
	ev := Event{
		RequestID: w.id,
		Seq:       w.seq,
		Phase:     phase,
		Err:       err,
		Active:    p.active,
		Pending:   p.pending.Len(),
		At:        p.now(),
	}
	for _, fn := range p.observers {
		p.notify(fn, ev)
	}
}

// notify runs one observer. A panicking observer is logged and skipped so the
// gate's bookkeeping under p.mu always completes.
func (p *Processor) notify(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("requestId", ev.RequestID).Str("phase", string(ev.Phase)).
				Interface("panic", r).Msg("observer panicked")
		}
	}()
	fn(ev)
}
