package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/config"
	"github.com/JakeFAU/realtime-file-converter/internal/convert"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Conversion.WorkDir = t.TempDir()
	return &cfg
}

func TestBuildAndConvertEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{Backend: "local", BaseDir: t.TempDir()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	app.Start(ctx)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("plain text"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("conversion_type", "txt_passthrough"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskID)

	var job convert.Job
	require.Eventually(t, func() bool {
		job, err = app.JobStore().GetJob(context.Background(), resp.TaskID)
		return err == nil && job.Status == convert.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/"+job.FileName, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "plain text", rec.Body.String())

	cancel()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	require.NoError(t, app.Close(closeCtx))
	require.NoError(t, app.Close(closeCtx))
}

func TestBuildFailsOnBadLocalDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{Backend: "local", BaseDir: "/proc/definitely/not/writable"}

	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "local blob store init failed")
}

func TestReadyWithoutDownstreams(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	require.NoError(t, app.ready(context.Background()))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
