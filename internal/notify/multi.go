package notify

import (
	"context"
	"errors"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
)

// Multi delivers each update to every notifier and joins their errors.
type Multi []convert.Notifier

// Notify implements convert.Notifier.
func (m Multi) Notify(ctx context.Context, update convert.Update) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
