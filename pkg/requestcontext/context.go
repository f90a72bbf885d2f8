// Package requestcontext provides HTTP-independent accessors for
// request-scoped values. Middleware sets them; services read them without
// importing net/http, and tests inject fixed values directly.
package requestcontext

import (
	"context"
	"time"
)

type (
	clientIPKey          struct{}
	callerFingerprintKey struct{}
	requestIDKey         struct{}
	requestTimeKey       struct{}
)

// ClientIP retrieves the caller's source address from the context. Empty for
// non-HTTP callers such as the bulk loader.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// WithClientIP injects the caller's source address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// CallerFingerprint retrieves the caller's pseudonymous fingerprint (a blind
// index, never a raw identity). Used to tag unrecognized-input logs and to
// key per-identity rate windows for bot submissions.
func CallerFingerprint(ctx context.Context) string {
	if fp, ok := ctx.Value(callerFingerprintKey{}).(string); ok {
		return fp
	}
	return ""
}

// WithCallerFingerprint injects a pseudonymous caller fingerprint.
func WithCallerFingerprint(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, callerFingerprintKey{}, fp)
}

// RequestID retrieves the correlation id set by transport middleware.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithRequestID injects a correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Now retrieves the request-scoped time, falling back to time.Now for
// workers, CLI calls, and tests that did not pin one.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the clock for a context. Tests use this to make timestamp
// assertions deterministic.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
