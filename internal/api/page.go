package api

import (
	"embed"
	"net/http"

	"go.uber.org/zap"
)

//go:embed static/upload.html static/upload.js
var staticFiles embed.FS

func (s *Server) uploadPage(w http.ResponseWriter, _ *http.Request) {
	s.serveStatic(w, "static/upload.html", "text/html; charset=utf-8")
}

func (s *Server) uploadScript(w http.ResponseWriter, _ *http.Request) {
	s.serveStatic(w, "static/upload.js", "text/javascript; charset=utf-8")
}

func (s *Server) serveStatic(w http.ResponseWriter, name, contentType string) {
	data, err := staticFiles.ReadFile(name)
	if err != nil {
		s.logger.Error("embedded asset missing", zap.String("name", name), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "asset unavailable")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("asset write failed", zap.Error(err))
	}
}
