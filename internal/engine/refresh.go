package engine

import (
	"context"

	"hhpilot/internal/logging"
)

// RefreshToken exchanges the refresh token for a new triple when the access
// token has expired and persists the result. A still-valid token is a no-op.
func (e *Env) RefreshToken(ctx context.Context) (bool, error) {
	token := e.API.AccessToken()
	if !e.API.IsAccessExpired() {
		logging.OAuth("access token still valid, skipping refresh")
		return false, nil
	}

	fresh, err := e.OAuth.RefreshAccessToken(ctx, token.RefreshToken)
	if err != nil {
		return false, err
	}

	e.API.SetAccessToken(fresh)
	if err := e.Config.SetToken(fresh); err != nil {
		return true, err
	}
	logging.OAuth("access token refreshed, expires at %d", fresh.AccessExpiresAt)
	return true, nil
}
