package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
)

const (
	uploadPath   = "/api/upload/"
	statusPath   = "/api/task-status/"
	downloadPath = "/download/"
	channelPath  = "/ws/upload/"
)

// ErrTaskNotFound reports a status query for an id the service does not know.
var ErrTaskNotFound = errors.New("task not found")

// UploadError is a rejected upload. Its text is shown to the user verbatim.
type UploadError struct {
	StatusCode int
	Message    string
}

func (e *UploadError) Error() string {
	return e.Message
}

// Form is one upload submission.
type Form struct {
	FileName       string
	File           io.Reader
	ConversionType string
	Fields         map[string]string
}

func (f Form) complete() bool {
	return f.File != nil && f.FileName != "" && f.ConversionType != ""
}

// Client speaks the service's HTTP endpoints.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
}

// NewClient builds a Client rooted at baseURL.
func NewClient(baseURL, apiKey string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, apiKey: apiKey, http: httpClient}, nil
}

// ChannelURL is the websocket endpoint: wss for an https base, ws otherwise.
func (c *Client) ChannelURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += channelPath
	return u.String()
}

// DownloadURL is where a converted file named fileName can be fetched.
func (c *Client) DownloadURL(fileName string) string {
	return c.base.String() + downloadPath + url.PathEscape(fileName)
}

// Upload posts form as multipart data and returns the task id.
func (c *Client) Upload(ctx context.Context, form Form) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, form))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+uploadPath, pr)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		TaskID  string `json:"task_id"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if body.TaskID == "" {
		msg := body.Message
		if msg == "" {
			msg = "Upload failed"
		}
		return "", &UploadError{StatusCode: resp.StatusCode, Message: msg}
	}
	return body.TaskID, nil
}

func writeForm(mw *multipart.Writer, form Form) error {
	keys := make([]string, 0, len(form.Fields))
	for k := range form.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, form.Fields[k]); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.WriteField("conversion_type", form.ConversionType); err != nil {
		return fmt.Errorf("write conversion type: %w", err)
	}
	part, err := mw.CreateFormFile("file", form.FileName)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, form.File); err != nil {
		return fmt.Errorf("copy file: %w", err)
	}
	return mw.Close()
}

// Status fetches the current status of taskID.
func (c *Client) Status(ctx context.Context, taskID string) (convert.Update, error) {
	endpoint := c.base.String() + statusPath + "?task_id=" + url.QueryEscape(taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return convert.Update{}, fmt.Errorf("build status request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return convert.Update{}, fmt.Errorf("status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return convert.Update{}, ErrTaskNotFound
	}
	var upd convert.Update
	if err := json.NewDecoder(resp.Body).Decode(&upd); err != nil {
		return convert.Update{}, fmt.Errorf("decode status response: %w", err)
	}
	if upd.TaskID == "" {
		upd.TaskID = taskID
	}
	return upd, nil
}

// Download streams the body at fileURL into dst and returns the byte count.
func (c *Client) Download(ctx context.Context, fileURL string, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: unexpected status %d", fileURL, resp.StatusCode)
	}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", fileURL, err)
	}
	return n, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
