package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
	"github.com/JakeFAU/realtime-file-converter/internal/converter"
	"github.com/JakeFAU/realtime-file-converter/internal/logging"
	"github.com/JakeFAU/realtime-file-converter/internal/metrics"
	"github.com/JakeFAU/realtime-file-converter/internal/worker"
)

const (
	// InputPrefix is where uploaded files live in the blob store.
	InputPrefix = "uploads"

	multipartMemory = 8 << 20
	enqueueTimeout  = 5 * time.Second
)

// UploadResponse is the body of a successful upload.
type UploadResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Limiter.Allow(clientKey(r)) {
		metrics.ObserveUpload("", "rate_limited", 0)
		writeMessage(w, http.StatusTooManyRequests, "Too many uploads, please retry shortly.")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.ObserveUpload("", "too_large", 0)
			writeMessage(w, http.StatusBadRequest, fmt.Sprintf("File exceeds the %d byte limit.", s.cfg.Upload.MaxBytes))
			return
		}
		metrics.ObserveUpload("", "invalid", 0)
		writeMessage(w, http.StatusBadRequest, "Upload must be a multipart form.")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.logger.Debug("remove multipart temp files failed", zap.Error(err))
		}
	}()

	conversionType := strings.TrimSpace(r.FormValue("conversion_type"))
	file, header, err := r.FormFile("file")
	if err != nil || conversionType == "" {
		metrics.ObserveUpload(conversionType, "invalid", 0)
		writeMessage(w, http.StatusBadRequest, "A file and a conversion type are required.")
		return
	}
	defer file.Close() //nolint:errcheck // multipart part

	jobID, err := s.deps.IDGen.NewID()
	if err != nil {
		s.logger.Error("generate job id failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Could not create a conversion job.")
		return
	}
	fields := logging.JobFields(jobID, conversionType)

	sourceName := uploadName(header.Filename)
	key := path.Join(InputPrefix, jobID, sourceName)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.deps.BlobStore.PutObject(r.Context(), key, contentType, file); err != nil {
		s.logger.Error("store upload failed", append(fields, zap.Error(err))...)
		metrics.ObserveUpload(conversionType, "error", 0)
		writeMessage(w, http.StatusInternalServerError, "Could not store the uploaded file.")
		return
	}

	now := s.deps.Clock.Now()
	job := convert.Job{
		ID:             jobID,
		Status:         convert.StatusPending,
		ConversionType: conversionType,
		SourceName:     sourceName,
		InputKey:       key,
		Email:          strings.TrimSpace(r.FormValue("email")),
		Submitted:      now,
	}
	if err := s.deps.JobStore.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", append(fields, zap.Error(err))...)
		metrics.ObserveUpload(conversionType, "error", 0)
		writeMessage(w, http.StatusInternalServerError, "Could not create a conversion job.")
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	item := convert.QueueItem{
		JobID:          jobID,
		ConversionType: conversionType,
		InputKey:       key,
		SourceName:     sourceName,
		Attempt:        1,
		Submitted:      now.Unix(),
	}
	if err := s.deps.Dispatcher.Enqueue(queueCtx, item); err != nil {
		s.logger.Error("enqueue job failed", append(fields, zap.Error(err))...)
		metrics.ObserveUpload(conversionType, "error", 0)
		s.failJob(jobID, "enqueue failed: "+err.Error())
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeMessage(w, status, "Conversion queue is unavailable.")
		return
	}

	metrics.ObserveUpload(conversionType, "accepted", header.Size)
	s.logger.Info("upload accepted", append(fields,
		zap.String("source_name", sourceName),
		zap.Int64("bytes", header.Size),
	)...)
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.Notify(r.Context(), convert.Update{TaskID: jobID, Status: convert.StatusPending}); err != nil {
			s.logger.Debug("pending notification failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusAccepted, UploadResponse{
		Message: "File uploaded successfully and queued for conversion",
		TaskID:  jobID,
	})
}

func (s *Server) failJob(jobID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	change := convert.StatusChange{Status: convert.StatusFailed, ErrorText: reason}
	if err := s.deps.JobStore.UpdateJobStatus(ctx, jobID, change); err != nil {
		s.logger.Warn("mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Server) taskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(r.URL.Query().Get("task_id"))
	if taskID == "" {
		writeMessage(w, http.StatusBadRequest, "Task ID is required.")
		return
	}
	job, err := s.deps.JobStore.GetJob(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, convert.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Task not found.")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", taskID), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Could not load the task.")
		return
	}

	body := convert.UpdateFor(job)
	code := http.StatusAccepted
	switch job.Status {
	case convert.StatusCompleted:
		code = http.StatusOK
	case convert.StatusFailed:
		code = http.StatusInternalServerError
		body.Message = job.ErrorText
	}
	writeJSON(w, code, body)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "file_name"))
	if err != nil || !validFileName(name) {
		writeMessage(w, http.StatusBadRequest, "Invalid file name.")
		return
	}
	rc, err := s.deps.BlobStore.GetObject(r.Context(), path.Join(worker.OutputPrefix, name))
	if err != nil {
		if errors.Is(err, convert.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "File not found")
			return
		}
		s.logger.Error("open converted file failed", zap.String("file_name", name), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Could not open the file.")
		return
	}
	defer rc.Close() //nolint:errcheck // read-only stream

	w.Header().Set("Content-Type", converter.ContentType(name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("download interrupted", zap.String("file_name", name), zap.Error(err))
	}
}

func validFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// uploadName reduces a client-supplied file name to its base name.
func uploadName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := path.Base(name)
	if base == "." || base == "/" || base == "" {
		return "upload"
	}
	return base
}
