// Package worker implements the conversion pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
	"github.com/JakeFAU/realtime-file-converter/internal/converter"
	"github.com/JakeFAU/realtime-file-converter/internal/logging"
	"github.com/JakeFAU/realtime-file-converter/internal/metrics"
)

// OutputPrefix is where converted files live in the blob store.
const OutputPrefix = "converted"

var tracer = otel.Tracer("github.com/JakeFAU/realtime-file-converter/internal/worker")

// Config controls Worker behavior.
type Config struct {
	JobTimeout time.Duration
	WorkDir    string
}

// Worker consumes queue items and executes the conversion pipeline.
type Worker struct {
	queue     convert.Queue
	jobStore  convert.JobStore
	blobStore convert.BlobStore
	notifier  convert.Notifier
	engines   *converter.Registry
	hasher    convert.Hasher
	clock     convert.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. A nil notifier disables status notifications.
func New(
	queue convert.Queue,
	jobStore convert.JobStore,
	blobStore convert.BlobStore,
	notifier convert.Notifier,
	engines *converter.Registry,
	hasher convert.Hasher,
	clock convert.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if engines == nil {
		engines = converter.NewRegistry(nil)
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		blobStore: blobStore,
		notifier:  notifier,
		engines:   engines,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logging.OrNop(logger),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, convert.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", logging.JobFields(item.JobID, item.ConversionType)...)
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item convert.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := tracer.Start(ctx, "worker.convert")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", item.JobID),
		attribute.String("conversion.type", item.ConversionType),
	)

	fields := logging.JobFields(item.JobID, item.ConversionType)
	started := w.clock.Now()
	// Status writes must land even when shutdown cancels ctx mid-conversion.
	statusCtx := context.WithoutCancel(ctx)

	if err := w.jobStore.UpdateJobStatus(statusCtx, item.JobID, convert.StatusChange{Status: convert.StatusProcessing}); err != nil {
		w.logger.Error("update job status failed", append(fields, zap.Error(err))...)
		return
	}
	w.notify(statusCtx, convert.Update{TaskID: item.JobID, Status: convert.StatusProcessing})

	name, checksum, err := w.convertJob(ctx, item)
	status := convert.StatusCompleted
	change := convert.StatusChange{Status: status, FileName: name, Checksum: checksum}
	update := convert.Update{TaskID: item.JobID, Status: status, FileName: name}
	if err != nil {
		status = convert.StatusFailed
		change = convert.StatusChange{Status: status, ErrorText: err.Error()}
		update = convert.Update{TaskID: item.JobID, Status: status, Message: err.Error()}
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		w.logger.Error("conversion failed", append(fields, zap.Error(err))...)
	}

	if err := w.jobStore.UpdateJobStatus(statusCtx, item.JobID, change); err != nil {
		w.logger.Error("final job status update failed", append(fields, zap.Error(err))...)
	}
	w.notify(statusCtx, update)

	elapsed := w.clock.Now().Sub(started)
	metrics.ObserveConversion(item.ConversionType, string(status), elapsed)
	if status == convert.StatusCompleted {
		w.logger.Info("conversion completed",
			append(fields,
				zap.String("file_name", name),
				zap.String("checksum", checksum),
				zap.Duration("elapsed", elapsed),
			)...)
	}
}

func (w *Worker) convertJob(ctx context.Context, item convert.QueueItem) (string, string, error) {
	dir, err := os.MkdirTemp(w.cfg.WorkDir, "convert-*")
	if err != nil {
		return "", "", fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			w.logger.Warn("remove work dir failed", zap.String("dir", dir), zap.Error(err))
		}
	}()

	inputPath, err := w.fetchInput(ctx, item, dir)
	if err != nil {
		return "", "", err
	}
	outDir := filepath.Join(dir, "out")
	if err := os.Mkdir(outDir, 0o750); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}

	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	engine := w.engines.Lookup(item.ConversionType)
	w.logger.Debug("running engine", append(logging.JobFields(item.JobID, item.ConversionType), zap.String("engine", engine.Name()))...)
	res, err := engine.Convert(jobCtx, converter.Request{
		JobID:     item.JobID,
		InputPath: inputPath,
		OutputDir: outDir,
	})
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", engine.Name(), err)
	}

	checksum, err := w.storeOutput(ctx, res)
	if err != nil {
		return "", "", err
	}
	return res.Name, checksum, nil
}

// storeOutput hashes the converted file and streams it to the blob store.
func (w *Worker) storeOutput(ctx context.Context, res converter.Result) (string, error) {
	f, err := os.Open(res.Path)
	if err != nil {
		return "", fmt.Errorf("open output: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	checksum, size, err := w.hasher.HashReader(f)
	if err != nil {
		return "", fmt.Errorf("hash output: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind output: %w", err)
	}
	if _, err := w.blobStore.PutObject(ctx, path.Join(OutputPrefix, res.Name), res.ContentType, f); err != nil {
		return "", fmt.Errorf("store output: %w", err)
	}
	w.logger.Debug("stored output", zap.String("file_name", res.Name), zap.Int64("bytes", size))
	return checksum, nil
}

func (w *Worker) fetchInput(ctx context.Context, item convert.QueueItem, dir string) (string, error) {
	rc, err := w.blobStore.GetObject(ctx, item.InputKey)
	if err != nil {
		return "", fmt.Errorf("get input: %w", err)
	}
	defer func() {
		_ = rc.Close()
	}()

	name := filepath.Base(item.SourceName)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = path.Base(item.InputKey)
	}
	inDir := filepath.Join(dir, "in")
	if err := os.Mkdir(inDir, 0o750); err != nil {
		return "", fmt.Errorf("create input dir: %w", err)
	}
	inputPath := filepath.Join(inDir, name)
	f, err := os.Create(inputPath) //nolint:gosec // path is inside our temp dir
	if err != nil {
		return "", fmt.Errorf("create input file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write input file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close input file: %w", err)
	}
	return inputPath, nil
}

func (w *Worker) notify(ctx context.Context, update convert.Update) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, update); err != nil {
		w.logger.Warn("status notification failed",
			zap.String("job_id", update.TaskID),
			zap.String("status", string(update.Status)),
			zap.Error(err),
		)
	}
}
