package converter

import (
	"context"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/JakeFAU/realtime-file-converter/internal/id/uuid"
)

// Request describes one conversion.
type Request struct {
	JobID     string
	InputPath string
	OutputDir string
}

// Result points at the converted file on local disk.
type Result struct {
	Path        string
	Name        string
	ContentType string
}

// Engine converts a single document.
type Engine interface {
	Convert(ctx context.Context, req Request) (Result, error)
	Name() string
}

// Registry maps conversion types to engines.
type Registry struct {
	mu       sync.RWMutex
	engines  map[string]Engine
	fallback Engine
}

// NewRegistry builds a registry that answers unknown types with fallback.
func NewRegistry(fallback Engine) *Registry {
	if fallback == nil {
		fallback = Copy{}
	}
	return &Registry{
		engines:  make(map[string]Engine),
		fallback: fallback,
	}
}

// Register binds an engine to a conversion type.
func (r *Registry) Register(conversionType string, engine Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[conversionType] = engine
}

// Lookup returns the engine for conversionType, or the fallback.
func (r *Registry) Lookup(conversionType string) Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if engine, ok := r.engines[conversionType]; ok {
		return engine
	}
	return r.fallback
}

// Supports reports whether a dedicated engine exists for conversionType.
func (r *Registry) Supports(conversionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.engines[conversionType]
	return ok
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// OutputName builds converted_<stem>_<short job id><ext> for an input file.
func OutputName(inputPath, jobID, ext string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.Trim(unsafeChars.ReplaceAllString(stem, "_"), "_.")
	if stem == "" {
		stem = "file"
	}
	name := "converted_" + stem
	if short := uuid.Short(jobID, 8); short != "" {
		name += "_" + short
	}
	return name + ext
}

// ContentType guesses the MIME type of a converted file from its extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
