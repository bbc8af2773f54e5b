package grpcapi

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/medsync/internal/common"
)

// BearerToken is a TokenSource for a fixed access token. When the token is
// a JWT carrying an expiry, calls fail with common.ErrUnauthorized once it
// has passed instead of reaching the server. The signature is not checked;
// that is the server's job.
type BearerToken struct {
	token  string
	expiry time.Time
	now    func() time.Time
}

// NewBearerToken inspects token once. Tokens that are not JWTs are passed
// through unchanged.
func NewBearerToken(token string) *BearerToken {
	b := &BearerToken{token: token, now: time.Now}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		b.expiry = claims.ExpiresAt.Time
	}
	return b
}

// Expiry returns the token expiry, or the zero time when unknown.
func (b *BearerToken) Expiry() time.Time { return b.expiry }

func (b *BearerToken) Token(context.Context) (string, error) {
	if !b.expiry.IsZero() && !b.now().Before(b.expiry) {
		return "", fmt.Errorf("%w: access token expired at %s", common.ErrUnauthorized, b.expiry.Format(time.RFC3339))
	}
	return b.token, nil
}
