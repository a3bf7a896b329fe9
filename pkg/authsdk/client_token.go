package authsdk

import (
	"context"
	"net/http"
)

// IssueTokens asks the service to mint a token pair for a user. token must
// be a service token carrying iam.token.issue.
func (c *SDKClient) IssueTokens(ctx context.Context, serviceToken string, req TokenRequest) (*TokenResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/tokens", serviceToken, req)
	if err != nil {
		return nil, err
	}

	var out TokenResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh exchanges refreshToken for a new pair. The presented refresh
// token is revoked by the server and must not be used again.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/tokens/refresh", "", RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	var out TokenResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Revoke logs out: the access token is revoked, and so is refreshToken when
// given.
func (c *SDKClient) Revoke(ctx context.Context, accessToken, refreshToken string) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/tokens/revoke", accessToken, RevokeRequest{RefreshToken: refreshToken})
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// Introspect reports whether token is active. callerToken authenticates the
// caller and needs iam.token.introspect.
func (c *SDKClient) Introspect(ctx context.Context, callerToken, token string) (*IntrospectionResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/tokens/introspect", callerToken, IntrospectRequest{Token: token})
	if err != nil {
		return nil, err
	}

	var out IntrospectionResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
