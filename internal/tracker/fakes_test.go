package tracker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
)

type recordingView struct {
	mu            sync.Mutex
	status        string
	history       []string
	visible       bool
	uploadEnabled bool
	download      string
	alerts        []string
}

func newRecordingView() *recordingView {
	return &recordingView{uploadEnabled: true}
}

func (v *recordingView) SetStatus(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = text
	v.history = append(v.history, text)
}

func (v *recordingView) ShowStatus(visible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visible = visible
}

func (v *recordingView) SetUploadEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.uploadEnabled = enabled
}

func (v *recordingView) ShowDownload(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.download = url
}

func (v *recordingView) HideDownload() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.download = ""
}

func (v *recordingView) Alert(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alerts = append(v.alerts, msg)
}

type viewState struct {
	status        string
	history       []string
	visible       bool
	uploadEnabled bool
	download      string
	alerts        []string
}

func (v *recordingView) snapshot() viewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return viewState{
		status:        v.status,
		history:       append([]string(nil), v.history...),
		visible:       v.visible,
		uploadEnabled: v.uploadEnabled,
		download:      v.download,
		alerts:        append([]string(nil), v.alerts...),
	}
}

type fakeTicker struct {
	interval time.Duration
	ch       chan time.Time
	stopped  atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() { t.stopped.Store(true) }

func (t *fakeTicker) tick(tb testing.TB) {
	tb.Helper()
	select {
	case t.ch <- time.Now():
	case <-time.After(2 * time.Second):
		tb.Fatal("poll loop is not waiting for a tick")
	}
}

// fakeScheduler hands out manual tickers. The first fireLimit After calls
// fire immediately; later ones never fire.
type fakeScheduler struct {
	tickers   chan *fakeTicker
	fireLimit int

	mu     sync.Mutex
	delays []time.Duration
}

func newFakeScheduler(fireLimit int) *fakeScheduler {
	return &fakeScheduler{tickers: make(chan *fakeTicker, 8), fireLimit: fireLimit}
}

func (s *fakeScheduler) NewTicker(d time.Duration) Ticker {
	t := &fakeTicker{interval: d, ch: make(chan time.Time)}
	s.tickers <- t
	return t
}

func (s *fakeScheduler) After(d time.Duration) <-chan time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	ch := make(chan time.Time, 1)
	if len(s.delays) <= s.fireLimit {
		ch <- time.Now()
	}
	return ch
}

func (s *fakeScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *fakeScheduler) nextTicker(tb testing.TB) *fakeTicker {
	tb.Helper()
	select {
	case t := <-s.tickers:
		return t
	case <-time.After(2 * time.Second):
		tb.Fatal("no poll ticker created")
		return nil
	}
}

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) ReadText() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.frames) == 0 {
		return nil, io.EOF
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return f, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	err    error
	frames [][]byte

	mu    sync.Mutex
	dials int
	urls  []string
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	return &fakeConn{frames: append([][]byte(nil), d.frames...)}, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeService stands in for the conversion service's HTTP endpoints.
type fakeService struct {
	taskID       string
	uploadStatus int
	uploadBody   string
	statuses     []convert.Update
	statusCode   int
	// taskIDs and gates are keyed by uploaded file name and fixed before
	// the server starts. A gated upload answers once its channel closes.
	taskIDs map[string]string
	gates   map[string]chan struct{}

	uploads atomic.Int32
	polls   atomic.Int32

	mu     sync.Mutex
	fields map[string]string
	file   string
	apiKey string
	polled string
}

func newFakeService(t *testing.T, svc *fakeService) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload/", func(w http.ResponseWriter, r *http.Request) {
		svc.uploads.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		svc.mu.Lock()
		svc.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			svc.fields[k] = v[0]
		}
		svc.apiKey = r.Header.Get("X-API-Key")
		var name string
		if f, hdr, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(f)
			name = hdr.Filename
			svc.file = name + ":" + string(data)
			_ = f.Close()
		}
		taskID := svc.taskID
		if id, ok := svc.taskIDs[name]; ok {
			taskID = id
		}
		svc.mu.Unlock()

		if gate, ok := svc.gates[name]; ok {
			<-gate
		}

		status := svc.uploadStatus
		if status == 0 {
			status = http.StatusAccepted
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if svc.uploadBody != "" {
			_, _ = io.WriteString(w, svc.uploadBody)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "File uploaded", "task_id": taskID})
	})
	mux.HandleFunc("/api/task-status/", func(w http.ResponseWriter, r *http.Request) {
		n := int(svc.polls.Add(1))
		if svc.statusCode != 0 {
			w.WriteHeader(svc.statusCode)
			_, _ = io.WriteString(w, `{"message":"Task not found."}`)
			return
		}
		svc.mu.Lock()
		svc.polled = r.URL.Query().Get("task_id")
		svc.mu.Unlock()
		upd := svc.statuses[min(n, len(svc.statuses))-1]
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(upd)
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "converted:"+r.URL.Path)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	ctrl   *Controller
	view   *recordingView
	sched  *fakeScheduler
	dialer *fakeDialer
	base   string
}

func newHarness(t *testing.T, svc *fakeService) *harness {
	t.Helper()
	srv := newFakeService(t, svc)
	client, err := NewClient(srv.URL, "", srv.Client())
	require.NoError(t, err)
	h := &harness{
		view:   newRecordingView(),
		sched:  newFakeScheduler(0),
		dialer: &fakeDialer{},
		base:   srv.URL,
	}
	h.ctrl = New(client, h.view, Options{Scheduler: h.sched, Dialer: h.dialer})
	t.Cleanup(h.ctrl.Close)
	return h
}

func sampleForm(name string) Form {
	return Form{
		FileName:       name,
		File:           strings.NewReader("hello"),
		ConversionType: "pdf",
	}
}
