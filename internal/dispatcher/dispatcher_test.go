package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
	"github.com/JakeFAU/realtime-file-converter/internal/queue/memory"
	"github.com/JakeFAU/realtime-file-converter/internal/worker"
)

func idleWorker(q convert.Queue) *worker.Worker {
	return worker.New(q, nil, nil, nil, nil, nil, nil, worker.Config{}, zap.NewNop())
}

func TestRunStartsEveryWorkerAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 3)}
	dispatch := New(queue, []*worker.Worker{idleWorker(queue), idleWorker(queue), idleWorker(queue)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-queue.started:
		case <-time.After(time.Second):
			t.Fatal("worker did not begin dequeuing")
		}
	}
	require.Equal(t, 3, dispatch.Running())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
	require.Zero(t, dispatch.Running())
}

func TestRunReturnsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(1)
	dispatch := New(queue, []*worker.Worker{idleWorker(queue)}, zap.NewNop())
	queue.Close()

	done := make(chan struct{})
	go func() {
		dispatch.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after queue close")
	}
}

func TestEnqueueDefaultsAttempt(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{}
	dispatch := New(queue, nil, nil)

	require.NoError(t, dispatch.Enqueue(context.Background(), convert.QueueItem{JobID: "job-1", InputKey: "uploads/job-1/a.txt"}))
	require.NoError(t, dispatch.Enqueue(context.Background(), convert.QueueItem{JobID: "job-2", InputKey: "uploads/job-2/b.txt", Attempt: 3}))

	items := queue.all()
	require.Len(t, items, 2)
	require.Equal(t, 1, items[0].Attempt)
	require.Equal(t, 3, items[1].Attempt)
}

func TestEnqueueRejectsIncompleteItems(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{}
	dispatch := New(queue, nil, nil)

	err := dispatch.Enqueue(context.Background(), convert.QueueItem{JobID: "job"})
	require.ErrorIs(t, err, ErrInvalidItem)
	err = dispatch.Enqueue(context.Background(), convert.QueueItem{InputKey: "uploads/x"})
	require.ErrorIs(t, err, ErrInvalidItem)
	require.Empty(t, queue.all())
}

func TestEnqueueWrapsQueueErrors(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{err: convert.ErrQueueClosed}
	dispatch := New(queue, nil, nil)

	err := dispatch.Enqueue(context.Background(), convert.QueueItem{JobID: "job", InputKey: "uploads/job/a"})
	require.ErrorIs(t, err, convert.ErrQueueClosed)
	require.EqualError(t, err, "enqueue job job: "+convert.ErrQueueClosed.Error())

	queue.err = errors.New("boom")
	err = dispatch.Enqueue(context.Background(), convert.QueueItem{JobID: "job", InputKey: "uploads/job/a"})
	require.EqualError(t, err, "enqueue job job: boom")
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, convert.QueueItem) error { return nil }

func (q *blockingQueue) Dequeue(ctx context.Context) (convert.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return convert.QueueItem{}, ctx.Err()
}

type recordingQueue struct {
	mu    sync.Mutex
	err   error
	items []convert.QueueItem
}

func (q *recordingQueue) Enqueue(_ context.Context, item convert.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, item)
	return nil
}

func (q *recordingQueue) Dequeue(ctx context.Context) (convert.QueueItem, error) {
	<-ctx.Done()
	return convert.QueueItem{}, ctx.Err()
}

func (q *recordingQueue) all() []convert.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]convert.QueueItem(nil), q.items...)
}
