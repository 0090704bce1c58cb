package worker

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EXCurryBar/mybot/internal/observability"
)

var (
	ErrDispatcherBusy   = errors.New("dispatcher queue full")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type keyQueue struct {
	jobs     []Job
	enqueued bool // in the ready list
	running  bool // a job of this key is on a worker
}

type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job // entry point for submitted jobs
	handler  Handler
	wake     chan struct{}
	quit     chan struct{}

	mu        sync.Mutex
	queues    map[string]*keyQueue     // pending jobs per conversation key
	ready     *list.List               // round-robin order of keys with a runnable job
	positions map[string]*list.Element // key -> element in ready
	closed    bool
	inflight  sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, handler Handler) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	d := &Dispatcher{
		jobQueue:  make(chan Job, cfg.QueueSize),
		handler:   handler,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, d.execute)

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues job without blocking. It fails with ErrDispatcherBusy when the
// queue is full and ErrDispatcherClosed after Stop.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	select {
	case d.jobQueue <- job:
		return nil
	default:
		d.inflight.Done()
		return ErrDispatcherBusy
	}
}

// Stop refuses new jobs and waits for queued and running ones to finish or
// for ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		close(d.quit)
		d.pool.close()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop dispatcher: %w", ctx.Err())
	}
}

// Workers reports live workers, busy or idle.
func (d *Dispatcher) Workers() int {
	return d.pool.Running()
}

func (d *Dispatcher) run() {
	for {
		if d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			default:
			}
			continue
		}
		// nothing runnable: wait for a new job or a key to free up
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.wake:
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued || q.running {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne hands the next job of the front key to a worker
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	// the key leaves the ready list until its job is done
	q.enqueued = false
	q.running = true
	d.ready.Remove(elem)
	delete(d.positions, key)
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	debugLog("dispatch job", "key", key, "request_id", job.RequestID)
	workerChan <- job
	return true
}

// finish puts key back at the end of the ready list if it has more jobs
func (d *Dispatcher) finish(key string) {
	d.mu.Lock()
	if q := d.queues[key]; q != nil {
		q.running = false
		if len(q.jobs) == 0 {
			delete(d.queues, key)
		} else {
			q.enqueued = true
			d.positions[key] = d.ready.PushBack(key)
		}
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) execute(job Job) {
	defer d.inflight.Done()
	defer d.finish(job.Key)

	ctx := context.Background()
	if job.RequestID != "" {
		ctx = observability.WithRequestID(ctx, job.RequestID)
	}
	log := observability.LoggerFromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "key", job.Key, "panic", r)
		}
	}()

	start := time.Now()
	if err := d.handler(ctx, job); err != nil {
		log.Error("job failed", "key", job.Key, "err", err)
		return
	}
	debugLog("job done", "key", job.Key, "elapsed", time.Since(start))
}
