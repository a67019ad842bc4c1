package tools

import "context"

type handleKey struct{}

// WithHandle stores the current user handle for tools that scope state
// per user (background processes, plans, memories).
func WithHandle(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, handleKey{}, handle)
}

// HandleFrom returns the handle set by WithHandle, or "".
func HandleFrom(ctx context.Context) string {
	h, _ := ctx.Value(handleKey{}).(string)
	return h
}
