// internal/browser/teardown.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// teardownStep releases one layer of a browser session.
type teardownStep struct {
	name string
	fn   func(ctx context.Context) error
}

// runTeardown executes every step in order. A step that fails or panics is
// recorded and the remaining steps still run.
func runTeardown(ctx context.Context, logger *zap.Logger, steps []teardownStep) error {
	var errs []error
	for _, step := range steps {
		if err := guardStep(ctx, step); err != nil {
			logger.Debug("Browser teardown step failed.", zap.String("step", step.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	return errors.Join(errs...)
}

func guardStep(ctx context.Context, step teardownStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return step.fn(ctx)
}
