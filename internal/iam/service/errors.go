package service

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInvalidRefresh = errors.New("invalid_refresh_token")
)
