package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
	"github.com/JakeFAU/realtime-file-converter/internal/logging"
)

// Status texts projected onto the View.
const (
	MsgSelectFile = "Please select a file and conversion type"
	MsgUploading  = "Uploading file..."
	MsgProcessing = "Processing file..."
	MsgCompleted  = "Conversion completed!"
	MsgFailed     = "Conversion failed!"
)

// DefaultPollInterval is the status query period.
const DefaultPollInterval = 5 * time.Second

var (
	// ErrIncompleteForm is returned by Submit when the file or conversion type is missing.
	ErrIncompleteForm = errors.New("file and conversion type are required")
	// ErrNoUpload is returned when no upload has been accepted yet.
	ErrNoUpload = errors.New("no upload in progress")
	// ErrNoDownload is returned when no completed conversion is available.
	ErrNoDownload = errors.New("no converted file available")
	// ErrSuperseded is returned by Submit when a newer submission started
	// while its upload was in flight.
	ErrSuperseded = errors.New("upload superseded by a newer submission")
)

// Options configures a Controller.
type Options struct {
	PollInterval        time.Duration
	ReconnectInitial    time.Duration
	ReconnectMax        time.Duration
	ReconnectMultiplier float64
	Dialer              Dialer
	Scheduler           Scheduler
	Logger              *zap.Logger
}

// tracking is the state of one accepted upload.
type tracking struct {
	taskID      string
	status      convert.JobStatus
	downloadURL string
	final       convert.Update
	done        chan struct{}
}

// Controller drives one upload at a time from submission to a terminal status.
type Controller struct {
	client       *Client
	view         View
	dialer       Dialer
	sched        Scheduler
	pollInterval time.Duration
	backoff      func() *Backoff
	logger       *zap.Logger

	mu         sync.Mutex
	job        *tracking
	submission uint64
	stopPoll   context.CancelFunc
	polls      sync.WaitGroup
}

// New wires a Controller that talks to client and renders onto view.
func New(client *Client, view View, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Scheduler == nil {
		opts.Scheduler = realScheduler{}
	}
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{APIKey: client.apiKey}
	}
	return &Controller{
		client:       client,
		view:         view,
		dialer:       opts.Dialer,
		sched:        opts.Scheduler,
		pollInterval: opts.PollInterval,
		backoff: func() *Backoff {
			return NewBackoff(opts.ReconnectInitial, opts.ReconnectMax, opts.ReconnectMultiplier)
		},
		logger: logging.OrNop(opts.Logger).Named("tracker"),
	}
}

// Run keeps the push channel open until ctx is done, reconnecting after every
// closure.
func (c *Controller) Run(ctx context.Context) {
	backoff := c.backoff()
	endpoint := c.client.ChannelURL()
	for {
		if c.listen(ctx, endpoint) {
			backoff.Reset()
		}
		if ctx.Err() != nil {
			return
		}
		delay := backoff.Next()
		c.logger.Info("notification channel closed, reconnecting", zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return
		case <-c.sched.After(delay):
		}
	}
}

// listen reads one connection until it closes and reports whether it opened.
func (c *Controller) listen(ctx context.Context, endpoint string) bool {
	conn, err := c.dialer.Dial(ctx, endpoint)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("notification channel error", zap.Error(err))
		}
		return false
	}
	c.logger.Info("notification channel established", zap.String("url", endpoint))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	for {
		data, err := conn.ReadText()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("notification channel read failed", zap.Error(err))
			}
			return true
		}
		var upd convert.Update
		if err := json.Unmarshal(data, &upd); err != nil {
			c.logger.Error("decode notification", zap.Error(err), zap.ByteString("frame", data))
			continue
		}
		c.HandleUpdate(upd)
	}
}

// Submit uploads form and, once accepted, starts polling its status until a
// terminal status arrives or ctx is done. A new submission abandons the
// previous job, including one whose upload has not answered yet.
func (c *Controller) Submit(ctx context.Context, form Form) error {
	if !form.complete() {
		c.mu.Lock()
		c.view.Alert(MsgSelectFile)
		c.mu.Unlock()
		return ErrIncompleteForm
	}

	c.mu.Lock()
	c.stopPollingLocked()
	c.job = nil
	c.submission++
	gen := c.submission
	c.view.SetUploadEnabled(false)
	c.view.SetStatus(MsgUploading)
	c.view.ShowStatus(true)
	c.view.HideDownload()
	c.mu.Unlock()

	taskID, err := c.client.Upload(ctx, form)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.submission {
		c.logger.Debug("dropping superseded upload result",
			zap.String("file", form.FileName), zap.String("task_id", taskID), zap.Error(err))
		if err != nil {
			return err
		}
		return ErrSuperseded
	}
	if err != nil {
		msg := err.Error()
		var uerr *UploadError
		if errors.As(err, &uerr) {
			msg = uerr.Message
		}
		c.logger.Warn("upload failed", zap.String("file", form.FileName), zap.Error(err))
		c.view.SetStatus("Error: " + msg)
		c.view.SetUploadEnabled(true)
		return err
	}

	c.logger.Info("upload accepted", zap.String("task_id", taskID), zap.String("file", form.FileName))
	c.job = &tracking{
		taskID: taskID,
		status: convert.StatusPending,
		done:   make(chan struct{}),
	}
	c.stopPollingLocked()
	pollCtx, cancel := context.WithCancel(ctx)
	c.stopPoll = cancel
	c.polls.Add(1)
	go func() {
		defer c.polls.Done()
		defer cancel()
		c.Track(pollCtx, taskID)
	}()
	return nil
}

// Track queries the status of taskID every poll interval. A terminal answer
// is projected and ends tracking; any query failure ends it silently.
func (c *Controller) Track(ctx context.Context, taskID string) {
	ticker := c.sched.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		upd, err := c.client.Status(ctx, taskID)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug("status poll stopped", zap.String("task_id", taskID), zap.Error(err))
			}
			return
		}
		if !upd.Status.IsTerminal() {
			continue
		}
		upd.TaskID = taskID
		c.HandleUpdate(upd)
		return
	}
}

// HandleUpdate projects upd onto the View and reports whether it was applied.
// Updates for other jobs, unknown statuses, and non-terminal updates after a
// terminal one are ignored.
func (c *Controller) HandleUpdate(upd convert.Update) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	job := c.job
	if job == nil || (upd.TaskID != "" && upd.TaskID != job.taskID) {
		return false
	}
	if job.status.IsTerminal() && upd.Status != job.status {
		c.logger.Debug("ignoring update after terminal status",
			zap.String("task_id", job.taskID), zap.String("status", string(upd.Status)))
		return false
	}

	switch upd.Status {
	case convert.StatusPending, convert.StatusProcessing:
		c.view.SetStatus(MsgProcessing)
		c.view.ShowStatus(true)
	case convert.StatusCompleted:
		job.downloadURL = c.client.DownloadURL(upd.FileName)
		c.view.SetStatus(MsgCompleted)
		c.view.ShowDownload(job.downloadURL)
		c.view.SetUploadEnabled(true)
	case convert.StatusFailed:
		c.view.SetStatus(MsgFailed)
		c.view.ShowStatus(true)
		c.view.SetUploadEnabled(true)
	default:
		return false
	}

	job.status = upd.Status
	if upd.Status.IsTerminal() {
		c.stopPollingLocked()
		select {
		case <-job.done:
		default:
			upd.TaskID = job.taskID
			job.final = upd
			close(job.done)
		}
	}
	return true
}

// Wait blocks until the current job reaches a terminal status.
func (c *Controller) Wait(ctx context.Context) (convert.Update, error) {
	c.mu.Lock()
	job := c.job
	c.mu.Unlock()
	if job == nil {
		return convert.Update{}, ErrNoUpload
	}
	select {
	case <-job.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return job.final, nil
	case <-ctx.Done():
		return convert.Update{}, ctx.Err()
	}
}

// TaskID is the id of the job being tracked, if any.
func (c *Controller) TaskID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return ""
	}
	return c.job.taskID
}

// DownloadURL is the URL the download control is wired to, if shown.
func (c *Controller) DownloadURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return ""
	}
	return c.job.downloadURL
}

// Download fetches the converted file into dst.
func (c *Controller) Download(ctx context.Context, dst io.Writer) (int64, error) {
	target := c.DownloadURL()
	if target == "" {
		return 0, ErrNoDownload
	}
	return c.client.Download(ctx, target, dst)
}

// Close stops polling and waits for the poll goroutine to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopPollingLocked()
	c.mu.Unlock()
	c.polls.Wait()
}

func (c *Controller) stopPollingLocked() {
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
}
