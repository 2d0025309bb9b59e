// Package dispatch runs inbound work through function pipelines on a pool of
// workers. Work submitted under the same key always lands on the same worker
// and is processed in submission order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"app-fritzbutton-go/internal/pkg/logger"
)

var (
	ErrQueueFull       = errors.New("dispatch queue full")
	ErrStopped         = errors.New("dispatcher stopped")
	ErrUnknownPipeline = errors.New("unknown pipeline")
)

// PipelineFunc is one step of a pipeline. Returning nil data ends the
// pipeline early without error.
type PipelineFunc func(ctx context.Context, data interface{}) (interface{}, error)

// Pipeline is a thread safe list of steps
type Pipeline struct {
	mu    sync.RWMutex
	steps []PipelineFunc
}

func NewPipeline() *Pipeline {
	return &Pipeline{}
}

func (p *Pipeline) AddStep(step PipelineFunc) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step)
	return p
}

func (p *Pipeline) Execute(ctx context.Context, input interface{}) (interface{}, error) {
	p.mu.RLock()
	steps := p.steps
	p.mu.RUnlock()

	var err error
	current := input
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current, err = step(ctx, current)
		if err != nil || current == nil {
			return current, err
		}
	}
	return current, nil
}

// task pairs submitted data with the pipeline that handles it
type task struct {
	pipeID string
	pipe   *Pipeline
	key    string
	data   interface{}
}

// Dispatcher owns one queue per worker
type Dispatcher struct {
	routes map[string]*Pipeline
	mu     sync.RWMutex

	queues  []chan *task
	timeout time.Duration
	stopped bool
	started bool
	wg      sync.WaitGroup

	lc logger.LoggingClient
}

var _ DispatcherInterface = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher with workers queues of queueSize each.
// timeout bounds a single pipeline run.
func NewDispatcher(workers, queueSize int, timeout time.Duration, lc logger.LoggingClient) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	queues := make([]chan *task, workers)
	for i := range queues {
		queues[i] = make(chan *task, queueSize)
	}
	return &Dispatcher{
		routes:  make(map[string]*Pipeline),
		queues:  queues,
		timeout: timeout,
		lc:      lc,
	}
}

// AddFunctionsPipeline registers a pipeline of funcs under id
func (d *Dispatcher) AddFunctionsPipeline(id string, funcs ...PipelineFunc) error {
	if id == "" {
		return errors.New("pipeline id cannot be empty")
	}
	if len(funcs) == 0 {
		return fmt.Errorf("pipeline %s has no functions", id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.routes[id]; exists {
		return fmt.Errorf("pipeline %s already registered", id)
	}
	pipe := NewPipeline()
	for _, f := range funcs {
		pipe.AddStep(f)
	}
	d.routes[id] = pipe
	return nil
}

// Start launches the workers; it is a no-op after the first call
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i, q := range d.queues {
		d.wg.Add(1)
		go d.worker(ctx, i, q)
	}
	d.lc.Infof("Dispatcher started with %d workers", len(d.queues))
}

// Submit queues data for the pipeline id on the worker owning key.
// It never blocks; a full queue drops the data.
func (d *Dispatcher) Submit(id string, key string, data interface{}) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrStopped
	}
	pipe, ok := d.routes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPipeline, id)
	}

	idx := shard(key, len(d.queues))
	select {
	case d.queues[idx] <- &task{pipeID: id, pipe: pipe, key: key, data: data}:
		return nil
	default:
		d.lc.Warnf("Dropped %s work for key '%s' (worker %d queue full)", id, key, idx)
		return ErrQueueFull
	}
}

// Stop closes the queues and waits for the workers to drain them
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.lc.Info("Dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, id int, queue <-chan *task) {
	defer d.wg.Done()
	for t := range queue {
		d.processTask(ctx, t, id)
	}
}

func (d *Dispatcher) processTask(parentCtx context.Context, t *task, id int) {
	ctx := parentCtx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parentCtx, d.timeout)
		defer cancel()
	}

	if _, err := t.pipe.Execute(ctx, t.data); err != nil {
		d.lc.Errorf("[Worker %d] %s failed for key '%s': %v", id, t.pipeID, t.key, err)
	}
}

func shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
