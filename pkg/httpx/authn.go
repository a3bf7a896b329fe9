package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/qhomebase/iam/pkg/jwtx"
	"github.com/qhomebase/iam/pkg/obs"
	"github.com/qhomebase/iam/pkg/slogx"
)

// TokenVerifier is satisfied by *jwtx.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (jwtx.Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate verifies the bearer token and stores the claims and subject
// on the request context. Only access and service tokens are accepted;
// refresh tokens are only good at the refresh endpoint.
//
// Every rejection produces the same 401. A verification that could not be
// completed (revocation backend down) yields 503 and still denies.
func Authenticate(v TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw, ok := BearerToken(r)
			if !ok {
				obs.TokenVerified("missing")
				Unauthenticated(w)
				return
			}

			claims, err := v.Verify(ctx, raw)
			if err != nil {
				obs.TokenVerified(jwtx.Reason(err))
				if !jwtx.IsRejection(err) {
					log.Error("token verification could not complete", "err", err)
					WriteError(w, http.StatusServiceUnavailable, CodeUnavailable, "try again later")
					return
				}
				log.Warn("token rejected", "reason", jwtx.Reason(err), "err", err)
				Unauthenticated(w)
				return
			}

			if claims.Type != jwtx.TokenTypeAccess && claims.Type != jwtx.TokenTypeService {
				obs.TokenVerified("wrong_type")
				log.Warn("token rejected", "reason", "wrong_type", "token_type", claims.Type)
				Unauthenticated(w)
				return
			}
			obs.TokenVerified("ok")

			ctx = WithAuth(ctx, raw, claims)
			ctx = slogx.WithSubject(ctx, claims.UserID, claims.Tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
