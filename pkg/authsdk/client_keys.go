package authsdk

import (
	"context"
	"net/http"
)

// ListKeys lists the service's signing and verification keys. token must
// carry the admin role.
func (c *SDKClient) ListKeys(ctx context.Context, token string) (*ListKeysResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/v1/keys", token, nil)
	if err != nil {
		return nil, err
	}

	var out ListKeysResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// RotateKey makes a new signing key active. token must carry the admin role.
func (c *SDKClient) RotateKey(ctx context.Context, token string) (*RotateKeyResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/keys/rotate", token, nil)
	if err != nil {
		return nil, err
	}

	var out RotateKeyResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
