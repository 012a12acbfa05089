package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
)

// LibreOfficeConfig locates the soffice binary.
type LibreOfficeConfig struct {
	// Binary is the soffice executable; defaults to "soffice" on PATH.
	Binary string
}

// LibreOffice converts documents by running soffice in headless mode.
type LibreOffice struct {
	binary    string
	format    string
	extension string
	inFilter  string
	logger    *zap.Logger
}

// NewLibreOffice returns an engine producing the given format, e.g. "pdf".
// inFilter selects an import filter and may be empty.
func NewLibreOffice(cfg LibreOfficeConfig, format, inFilter string, logger *zap.Logger) *LibreOffice {
	binary := cfg.Binary
	if binary == "" {
		binary = "soffice"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ext := format
	if i := strings.IndexByte(ext, ':'); i >= 0 {
		ext = ext[:i]
	}
	return &LibreOffice{
		binary:    binary,
		format:    format,
		extension: "." + ext,
		inFilter:  inFilter,
		logger:    logger,
	}
}

// Name implements Engine.
func (l *LibreOffice) Name() string { return "libreoffice-" + strings.TrimPrefix(l.extension, ".") }

// Convert runs soffice and renames its output to the converted name.
func (l *LibreOffice) Convert(ctx context.Context, req Request) (Result, error) {
	absOut, err := filepath.Abs(req.OutputDir)
	if err != nil {
		return Result{}, fmt.Errorf("resolve output dir: %w", err)
	}
	absIn, err := filepath.Abs(req.InputPath)
	if err != nil {
		return Result{}, fmt.Errorf("resolve input: %w", err)
	}

	// A private profile lets several conversions run at once.
	profile, err := os.MkdirTemp(absOut, "soffice-profile-")
	if err != nil {
		return Result{}, fmt.Errorf("create profile dir: %w", err)
	}
	defer os.RemoveAll(profile) //nolint:errcheck // scratch dir

	args := []string{"-env:UserInstallation=file://" + filepath.ToSlash(profile), "--headless"}
	if l.inFilter != "" {
		args = append(args, "--infilter="+l.inFilter)
	}
	args = append(args, "--convert-to", l.format, "--outdir", absOut, absIn)

	l.logger.Debug("running soffice",
		zap.String("job_id", req.JobID),
		zap.String("binary", l.binary),
		zap.Strings("args", args),
	)
	cmd := exec.CommandContext(ctx, l.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("soffice canceled: %w", ctxErr)
		}
		return Result{}, fmt.Errorf("soffice failed: %w, output: %s", err, strings.TrimSpace(string(output)))
	}

	stem := strings.TrimSuffix(filepath.Base(absIn), filepath.Ext(absIn))
	produced := filepath.Join(absOut, stem+l.extension)
	if _, err := os.Stat(produced); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, fmt.Errorf("expected output %s: %w", filepath.Base(produced), convert.ErrNotFound)
		}
		return Result{}, fmt.Errorf("stat output: %w", err)
	}

	name := OutputName(absIn, req.JobID, l.extension)
	dst := filepath.Join(absOut, name)
	if err := os.Rename(produced, dst); err != nil {
		return Result{}, fmt.Errorf("rename output: %w", err)
	}
	return Result{Path: dst, Name: name, ContentType: ContentType(name)}, nil
}

// Default wires pdf_to_docx and docx_to_pdf to LibreOffice with the copy
// engine as the fallback.
func Default(cfg LibreOfficeConfig, logger *zap.Logger) *Registry {
	reg := NewRegistry(Copy{})
	reg.Register(convert.ConversionPDFToDOCX, NewLibreOffice(cfg, `docx:MS Word 2007 XML`, "writer_pdf_import", logger))
	reg.Register(convert.ConversionDOCXToPDF, NewLibreOffice(cfg, "pdf", "", logger))
	return reg
}
