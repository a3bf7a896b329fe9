package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

type requestKey struct{}

// request carries per-request attributes that are only known after the
// access log line was prepared, such as the authenticated user.
type request struct {
	userID   string
	tenantID string
}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request logger, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func WithRequestID(ctx context.Context, reqID string) context.Context {
	return WithContext(ctx, FromContext(ctx).With("req_id", reqID))
}

// WithSubject adds the authenticated user to the request logger and to the
// access log line written by HTTPMiddleware.
func WithSubject(ctx context.Context, userID, tenantID string) context.Context {
	if req, ok := ctx.Value(requestKey{}).(*request); ok {
		req.userID, req.tenantID = userID, tenantID
	}
	l := FromContext(ctx).With("uid", userID)
	if tenantID != "" {
		l = l.With("tenant", tenantID)
	}
	return WithContext(ctx, l)
}
