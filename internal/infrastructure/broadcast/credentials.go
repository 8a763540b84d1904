package broadcast

import (
	"context"

	"spacecast/internal/core/domain"
	apperrors "spacecast/pkg/errors"
)

// StaticCredentials serves credentials captured from configuration.
type StaticCredentials struct {
	Cookie string
	Bearer string
}

func (s StaticCredentials) SessionCookie(context.Context) (string, error) {
	if s.Cookie == "" {
		return "", apperrors.NewPreconditionError(domain.ErrNotInitialized, "session cookie not configured")
	}
	return s.Cookie, nil
}

// BearerToken may be empty; callers omit the header in that case.
func (s StaticCredentials) BearerToken(context.Context) (string, error) {
	return s.Bearer, nil
}
