package converter

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Copy is the fallback engine: it keeps the input unchanged.
type Copy struct{}

// Name implements Engine.
func (Copy) Name() string { return "copy" }

// Convert copies the input into the output directory under the converted name.
func (Copy) Convert(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("copy canceled: %w", err)
	}
	name := OutputName(req.InputPath, req.JobID, filepath.Ext(req.InputPath))
	dst := filepath.Join(req.OutputDir, name)

	in, err := os.Open(req.InputPath)
	if err != nil {
		return Result{}, fmt.Errorf("open input: %w", err)
	}
	defer in.Close() //nolint:errcheck // read-only handle

	out, err := os.Create(dst)
	if err != nil {
		return Result{}, fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return Result{}, fmt.Errorf("copy input: %w", err)
	}
	if err := out.Close(); err != nil {
		return Result{}, fmt.Errorf("close output: %w", err)
	}
	return Result{Path: dst, Name: name, ContentType: ContentType(name)}, nil
}
