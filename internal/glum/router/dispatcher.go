package router

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/glum/internal/glum/chat"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("router: dispatcher closed")

const defaultQueueSize = 64

// HandleFunc processes one event.
type HandleFunc func(ctx context.Context, evt chat.Event) error

// Dispatcher fans events out to a fixed set of workers. Every event of a
// thread goes to the same worker, so a thread's events are handled one at a
// time in arrival order while different threads proceed in parallel.
type Dispatcher struct {
	handle HandleFunc
	queues []chan chat.Event
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher with the given number of workers. One
// worker handles everything sequentially.
func NewDispatcher(workers int, handle HandleFunc, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	queues := make([]chan chat.Event, workers)
	for i := range queues {
		queues[i] = make(chan chat.Event, defaultQueueSize)
	}
	return &Dispatcher{
		handle: handle,
		queues: queues,
		logger: logger.With("component", "dispatcher"),
	}
}

// Workers returns the number of workers.
func (d *Dispatcher) Workers() int { return len(d.queues) }

func (d *Dispatcher) shard(threadID string) int {
	h := fnv.New32a()
	h.Write([]byte(threadID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

// Submit queues evt, blocking while its worker's queue is full.
func (d *Dispatcher) Submit(ctx context.Context, evt chat.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queues[d.shard(evt.ThreadID)] <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the workers and blocks until Close has been called and every
// queued event was handled. Handling continues after ctx is cancelled so
// in-flight replies can finish; ctx only supplies values.
func (d *Dispatcher) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	var g errgroup.Group
	for i, q := range d.queues {
		g.Go(func() error {
			for evt := range q {
				if err := d.handle(work, evt); err != nil {
					d.logger.Debug("event failed", "worker", i, "thread", evt.ThreadID, "err", err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Close stops accepting events. Queued events are still handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
}
