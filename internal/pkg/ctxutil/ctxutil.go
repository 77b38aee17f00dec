package ctxutil

import "context"

// Default returns ctx, or context.Background() when ctx is nil.
// Client code passes contexts through many layers; this keeps nil-safety in one place.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
