package session

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jun/docshare/internal/model"
)

// accessClaims are the claims the document service puts in its access tokens.
type accessClaims struct {
	UserID any    `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// inspect reads identity and expiry from a token without verifying it. The
// result only drives client-side decisions; the server verifies every request.
// Opaque tokens yield a zero identity and no expiry.
func inspect(token string) (model.Identity, time.Time) {
	var c accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return model.Identity{}, time.Time{}
	}

	ident := model.Identity{Email: c.Email}
	switch v := c.UserID.(type) {
	case string:
		ident.UserID = v
	case float64:
		ident.UserID = strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		ident.UserID = v.String()
	}
	if ident.UserID == "" {
		ident.UserID = c.Subject
	}

	var exp time.Time
	if c.ExpiresAt != nil {
		exp = c.ExpiresAt.Time
	}
	return ident, exp
}
