package plugin

import "context"

// Use runs fn inside a managed plugin scope: Initialize on entry, Cleanup
// on every exit path. A cleanup failure is only surfaced when fn itself
// succeeded, so the original error is never masked.
func Use(ctx context.Context, p Plugin, fn func(Plugin) error) error {
	if err := p.Initialize(ctx); err != nil {
		return err
	}

	err := fn(p)

	if cleanupErr := p.Cleanup(ctx); cleanupErr != nil && err == nil {
		return cleanupErr
	}
	return err
}
