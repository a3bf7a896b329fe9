package http

import (
	"errors"
	"net/http"

	"github.com/qhomebase/iam/internal/iam/service"
	"github.com/qhomebase/iam/internal/iam/store"
	"github.com/qhomebase/iam/pkg/authsdk"
	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/httpx"
	"github.com/qhomebase/iam/pkg/jwtx"
	"github.com/qhomebase/iam/pkg/slogx"
)

// writeServiceError maps a service error to its HTTP response. Unexpected
// errors are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, authz.ErrInvalidName):
		authsdk.ErrInvalidRequest.WithDescription(err.Error()).WriteError(w)
	case errors.Is(err, service.ErrInvalidRefresh):
		authsdk.ErrInvalidGrant.WriteError(w)
	case errors.Is(err, store.ErrNotFound):
		authsdk.ErrNotFound.WriteError(w)
	case errors.Is(err, store.ErrAlreadyExists):
		authsdk.ErrConflict.WriteError(w)
	case errors.Is(err, jwtx.ErrKeyUnavailable):
		slogx.FromContext(r.Context()).Error("no signing key available", "err", err)
		authsdk.ErrUnavailable.WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error("request failed", "err", err, "path", r.URL.Path)
		authsdk.ErrServerError.WriteError(w)
	}
}

// subjectOf returns the authenticated subject. Handlers behind Authenticate
// always have one.
func subjectOf(r *http.Request) authz.Subject {
	s, _ := httpx.SubjectFrom(r.Context())
	return s
}
