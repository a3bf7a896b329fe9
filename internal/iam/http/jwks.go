package http

import (
	"net/http"

	"github.com/qhomebase/iam/pkg/authsdk"
	"github.com/qhomebase/iam/pkg/httpx"
	"github.com/qhomebase/iam/pkg/jwtx"
)

// JWKSHandler exposes the JSON Web Key Set for public key discovery. HS256
// secrets are never included.
//
//	@Summary		Get JWKS
//	@Description	Returns the public keys used to verify tokens, including retired keys still inside their retention window.
//	@Tags			well-known
//	@Produce		json
//	@Success		200	{object}	authsdk.JWKSResponse	"The JSON Web Key Set"
//	@Router			/.well-known/jwks.json [get]
func JWKSHandler(keys *jwtx.KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.JWKSResponse(keys.PublicJWKS()))
	}
}
