// Package dispatcher owns the conversion worker pool and the queue feeding it.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
	"github.com/JakeFAU/realtime-file-converter/internal/logging"
	"github.com/JakeFAU/realtime-file-converter/internal/worker"
)

// ErrInvalidItem rejects queue items that no worker could process.
var ErrInvalidItem = errors.New("invalid queue item")

// Dispatcher starts the pool and admits uploads onto its queue.
type Dispatcher struct {
	queue   convert.Queue
	workers []*worker.Worker
	logger  *zap.Logger
	running atomic.Int32
}

// New creates a Dispatcher over queue and workers.
func New(queue convert.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logging.OrNop(logger),
	}
}

// Run blocks until every worker has returned, which happens once ctx ends or
// the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(len(d.workers))
	for i, w := range d.workers {
		d.running.Add(1)
		go func() {
			defer wg.Done()
			defer d.running.Add(-1)
			w.Run(ctx)
			d.logger.Debug("worker exited", zap.Int("index", i))
		}()
	}
	wg.Wait()
}

// Running reports how many workers have not returned yet.
func (d *Dispatcher) Running() int {
	return int(d.running.Load())
}

// Enqueue validates item and hands it to the queue. First submissions get
// Attempt 1.
func (d *Dispatcher) Enqueue(ctx context.Context, item convert.QueueItem) error {
	if item.JobID == "" || item.InputKey == "" {
		return fmt.Errorf("%w: job id and input key are required", ErrInvalidItem)
	}
	if item.Attempt <= 0 {
		item.Attempt = 1
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueue job %s: %w", item.JobID, err)
	}
	d.logger.Debug("job enqueued",
		zap.String("job_id", item.JobID),
		zap.String("conversion_type", item.ConversionType),
		zap.Int("attempt", item.Attempt),
	)
	return nil
}
