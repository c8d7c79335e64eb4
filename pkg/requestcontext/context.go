// Package requestcontext carries request-scoped values without net/http.
// Middleware sets them; the verification service and audit events read
// them.
//
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

type (
	clientIDKey    struct{}
	clientKindKey  struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

func lookup[T any](ctx context.Context, key any) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func str(ctx context.Context, key any) string {
	v, _ := lookup[string](ctx, key)
	return v
}

// ClientID is the relying party's identifier, or "".
func ClientID(ctx context.Context) string { return str(ctx, clientIDKey{}) }

func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, clientID)
}

// ClientKind is the coarse User-Agent classification: browser, mobile, bot
// or api.
func ClientKind(ctx context.Context) string { return str(ctx, clientKindKey{}) }

func WithClientKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, clientKindKey{}, kind)
}

func ClientIP(ctx context.Context) string  { return str(ctx, clientIPKey{}) }
func UserAgent(ctx context.Context) string { return str(ctx, userAgentKey{}) }

// WithClientMetadata sets the caller's IP and User-Agent together.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

func RequestID(ctx context.Context) string { return str(ctx, requestIDKey{}) }

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now is the time the request arrived. Outside a request (CLI tools, tests)
// it falls back to the wall clock.
func Now(ctx context.Context) time.Time {
	if t, ok := lookup[time.Time](ctx, requestTimeKey{}); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
