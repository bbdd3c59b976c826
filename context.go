package keeper

import "context"

// CtxKey is the type of context keys for the values placed by `Supervisor`.
type CtxKey string

const (
	// CtxKeyHandle is a context key for the `HandleInfo` of the running worker.
	CtxKeyHandle CtxKey = "keeper-handle"
)

func withHandle(ctx context.Context, info HandleInfo) context.Context {
	return context.WithValue(ctx, CtxKeyHandle, info)
}

// HandleFromContext extracts the `HandleInfo` passed to `Worker.Run`.
func HandleFromContext(ctx context.Context) (HandleInfo, bool) {
	info, ok := ctx.Value(CtxKeyHandle).(HandleInfo)
	return info, ok
}
