/*
Package authsdk is the client side of the IAM service.

It holds the JSON request and response types shared with the server, an
SDKClient for the token endpoints, and RemoteKeySet, which lets a resource
service verify tokens locally against the published JWKS.

# Verifying tokens in another service

	client := authsdk.NewSDKClient("https://iam.internal")
	keys := authsdk.NewRemoteKeySet(client, time.Minute)
	if err := keys.Refresh(ctx); err != nil {
		return err
	}

	verifier, err := jwtx.NewVerifier(keys, jwtx.VerifierOptions{
		Issuer:   "qhome-iam",
		Audience: []string{"qhome"},
	})

An unknown kid triggers a JWKS refetch, at most once per refresh interval,
so keys rotated on the IAM service are picked up without a restart.

# Token lifecycle

	pair, err := client.Refresh(ctx, refreshToken)
	err = client.Revoke(ctx, pair.AccessToken, pair.RefreshToken)
	info, err := client.Introspect(ctx, serviceToken, pair.AccessToken)

# Errors

Non-2xx responses are returned as *OAuth2Error carrying the status code and
the error code from the body.

	var oerr *authsdk.OAuth2Error
	if errors.As(err, &oerr) && oerr.StatusCode == http.StatusUnauthorized {
		// log in again
	}

SDKClient and RemoteKeySet are safe for concurrent use.
*/
package authsdk
