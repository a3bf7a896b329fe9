package httpx

import (
	"context"

	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/jwtx"
)

type ctxKey string

const (
	ctxKeyClaims  ctxKey = "claims"
	ctxKeySubject ctxKey = "subject"
	ctxKeyToken   ctxKey = "token"
)

// WithAuth stores the verified claims, the raw token and the derived
// subject on ctx.
func WithAuth(ctx context.Context, raw string, c jwtx.Claims) context.Context {
	ctx = context.WithValue(ctx, ctxKeyClaims, c)
	ctx = context.WithValue(ctx, ctxKeyToken, raw)
	return context.WithValue(ctx, ctxKeySubject, authz.SubjectFromClaims(c))
}

// SubjectFrom returns the authenticated subject, if any. Handlers read it
// once and pass it on explicitly.
func SubjectFrom(ctx context.Context) (authz.Subject, bool) {
	s, ok := ctx.Value(ctxKeySubject).(authz.Subject)
	return s, ok
}

// ClaimsFrom returns the verified token claims, if any.
func ClaimsFrom(ctx context.Context) (jwtx.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(jwtx.Claims)
	return c, ok
}

// TokenFrom returns the raw bearer token that authenticated the request.
func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(ctxKeyToken).(string)
	return t
}
