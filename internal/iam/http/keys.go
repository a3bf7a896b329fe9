package http

import (
	"net/http"

	"github.com/qhomebase/iam/internal/iam/service"
	"github.com/qhomebase/iam/pkg/authsdk"
	"github.com/qhomebase/iam/pkg/httpx"
	"github.com/qhomebase/iam/pkg/jwtx"
	"github.com/qhomebase/iam/pkg/slogx"
)

// KeyRotationHandler handles key rotation in both ephemeral and persistent
// modes. Both endpoints require the admin role.
type KeyRotationHandler struct {
	KeyRotationService *service.KeyRotationService
}

// HandleRotate handles POST /v1/keys/rotate
//
//	@Summary		Rotate signing key
//	@Description	Generate a new signing key and make it active. The previous key stays in the JWKS until its retention ends.
//	@Tags			Keys
//	@Produce		json
//	@Success		200	{object}	authsdk.RotateKeyResponse
//	@Failure		401	{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403	{object}	authsdk.ErrorResponse	"Forbidden - requires admin role"
//	@Failure		500	{object}	authsdk.ErrorResponse	"Internal Server Error"
//	@Security		BearerAuth
//	@Router			/v1/keys/rotate [post]
func (h *KeyRotationHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	res, err := h.KeyRotationService.Rotate(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	slogx.FromContext(r.Context()).Info("signing key rotated via api",
		"by", subjectOf(r).UserID, "new_kid", res.NewKID, "retired_kid", res.RetiredKID,
	)
	httpx.WriteJSON(w, http.StatusOK, authsdk.RotateKeyResponse{
		NewKid:       res.NewKID,
		Algorithm:    res.Algorithm,
		RetiredKid:   res.RetiredKID,
		RetiredUntil: res.RetiredUntil,
		Keys:         keyInfos(h.KeyRotationService.Keys()),
	})
}

// HandleListKeys handles GET /v1/keys
//
//	@Summary		List signing keys
//	@Tags			Keys
//	@Produce		json
//	@Success		200	{object}	authsdk.ListKeysResponse
//	@Failure		403	{object}	authsdk.ErrorResponse	"Forbidden - requires admin role"
//	@Security		BearerAuth
//	@Router			/v1/keys [get]
func (h *KeyRotationHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, authsdk.ListKeysResponse{
		Keys: keyInfos(h.KeyRotationService.Keys()),
	})
}

func keyInfos(in []jwtx.KeyInfo) []authsdk.SigningKeyInfo {
	out := make([]authsdk.SigningKeyInfo, len(in))
	for i, k := range in {
		out[i] = authsdk.SigningKeyInfo{
			Kid:          k.KID,
			Algorithm:    k.Algorithm,
			Active:       k.Active,
			Static:       k.Static,
			RetiredUntil: k.RetiredUntil,
		}
	}
	return out
}
