package http

import (
	"context"
	"net/http"
	"time"

	"github.com/qhomebase/iam/internal/iam/store"
	"github.com/qhomebase/iam/pkg/authsdk"
	"github.com/qhomebase/iam/pkg/httpx"
	"github.com/qhomebase/iam/pkg/jwtx"
)

// Pinger is implemented by revocation backends that can report their
// health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness probe reporting the database, the active signing key and the revocation backend
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	authsdk.HealthResponse	"status, uptime, version, checks - service not ready"
//	@Router			/readyz [get]
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	keys *jwtx.KeyManager,
	revocations any,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &authsdk.HealthChecks{
			Database:    "ok",
			Signer:      "ok",
			Revocations: "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK
		fail := func(field *string, msg string) {
			*field = "error: " + msg
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if st != nil {
			if err := st.Ping(ctx); err != nil {
				fail(&checks.Database, err.Error())
			}
		} else {
			checks.Database = "disabled"
		}

		if !keys.IsReady() {
			fail(&checks.Signer, "no active signing key")
		}

		if p, ok := revocations.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				fail(&checks.Revocations, err.Error())
			}
		}

		httpx.WriteJSON(w, statusCode, authsdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
