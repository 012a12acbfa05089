// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings for conversion jobs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Short returns the last n hex characters of a job ID with dashes removed.
// UUID7 values share a timestamp prefix, so the random tail is used.
func Short(id string, n int) string {
	compact := strings.ReplaceAll(id, "-", "")
	if n <= 0 || n >= len(compact) {
		return compact
	}
	return compact[len(compact)-n:]
}
