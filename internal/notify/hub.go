package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
	"github.com/JakeFAU/realtime-file-converter/internal/metrics"
)

// ErrHubClosed is returned when subscribing to a closed hub.
var ErrHubClosed = errors.New("notify hub closed")

// FrameWriter is one push channel connection. WriteFrame sends a single text
// frame; Close tears the connection down so its read loop ends.
type FrameWriter interface {
	WriteFrame(data []byte) error
	Close() error
}

// Config controls buffering for the Hub.
//   - BufferSize: pending broadcasts before Notify starts dropping (default 256).
//   - SubscriberBuffer: frames queued per connection (default 16).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize       int
	SubscriberBuffer int
	Logger           *zap.Logger
}

const (
	defaultBufferSize       = 256
	defaultSubscriberBuffer = 16
	dropLogInterval         = 5 * time.Second
)

type subscriber struct {
	id      uint64
	writer  FrameWriter
	queue   chan []byte
	removed atomic.Bool
}

// Hub broadcasts updates to every subscribed connection. Notify never blocks
// on slow connections: frames that do not fit a queue are dropped.
type Hub struct {
	cfg         Config
	frames      chan []byte
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool
	nextID      atomic.Uint64

	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	writers sync.WaitGroup

	closeOnce sync.Once
}

// NewHub initializes a Hub and starts its broadcast goroutine.
func NewHub(cfg Config) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		frames:      make(chan []byte, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
		subs:        make(map[uint64]*subscriber),
	}
	go h.run()
	return h
}

// Notify encodes the update once and queues it for broadcast.
func (h *Hub) Notify(_ context.Context, update convert.Update) error {
	if h == nil || h.closed.Load() {
		return nil
	}
	frame, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	select {
	case h.frames <- frame:
	default:
		h.drop("broadcast buffer full")
	}
	return nil
}

// Subscribe joins w to the broadcast group. The returned func leaves the
// group and is safe to call more than once.
func (h *Hub) Subscribe(w FrameWriter) (func(), error) {
	if h.closed.Load() {
		return func() {}, ErrHubClosed
	}
	sub := &subscriber{
		id:     h.nextID.Add(1),
		writer: w,
		queue:  make(chan []byte, h.cfg.SubscriberBuffer),
	}

	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		return func() {}, ErrHubClosed
	}
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.writers.Add(1)
	h.mu.Unlock()

	metrics.SetSubscribers(count)
	h.logger.Debug("push subscriber joined", zap.Uint64("subscriber", sub.id), zap.Int("subscribers", count))
	go h.write(sub)
	return func() { h.remove(sub.id) }, nil
}

// Subscribers reports the current group size.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close broadcasts pending updates, closes every subscriber connection once
// its queue drains, and waits for the writers to finish. It is safe to call
// multiple times.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	for {
		select {
		case frame := <-h.frames:
			h.broadcast(frame)
		case <-h.stopCh:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handleStop() {
	for {
		select {
		case frame := <-h.frames:
			h.broadcast(frame)
		default:
			h.mu.Lock()
			for id, sub := range h.subs {
				close(sub.queue)
				delete(h.subs, id)
			}
			h.mu.Unlock()
			metrics.SetSubscribers(0)
			h.writers.Wait()
			return
		}
	}
}

func (h *Hub) broadcast(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.queue <- frame:
		default:
			h.drop("subscriber queue full")
		}
	}
}

func (h *Hub) write(sub *subscriber) {
	defer h.writers.Done()
	for frame := range sub.queue {
		if err := sub.writer.WriteFrame(frame); err != nil {
			h.logger.Debug("push write failed", zap.Uint64("subscriber", sub.id), zap.Error(err))
			_ = sub.writer.Close()
			h.remove(sub.id)
			// Drain so remove's close does not strand queued frames.
			for range sub.queue {
			}
			return
		}
	}
	// A queue closed by the stopping hub, not by leaving, ends the connection.
	if !sub.removed.Load() {
		_ = sub.writer.Close()
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		sub.removed.Store(true)
		close(sub.queue)
	}
	count := len(h.subs)
	h.mu.Unlock()
	if ok {
		metrics.SetSubscribers(count)
		h.logger.Debug("push subscriber left", zap.Uint64("subscriber", id), zap.Int("subscribers", count))
	}
}

func (h *Hub) drop(reason string) {
	metrics.ObserveDroppedNotification()
	h.dropped.Add(1)
	if h.dropLimiter.Allow(time.Now()) {
		count := h.dropped.Swap(0)
		h.logger.Warn("status frames dropped due to backpressure",
			zap.String("reason", reason),
			zap.Int64("dropped", count),
		)
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
