package api

import (
	"context"
	"net/http"

	"github.com/jun/docshare/internal/model"
)

// ObtainToken exchanges credentials for an access/refresh pair.
func (c *Client) ObtainToken(ctx context.Context, email, password string) (model.Session, error) {
	var out wireTokens
	err := c.do(ctx, call{
		op:     OpLogin,
		method: http.MethodPost,
		path:   "/token/",
		body:   map[string]string{"email": email, "password": password},
	}, &out)
	if err != nil {
		return model.Session{}, err
	}
	if out.Access == "" {
		return model.Session{}, &model.Error{Kind: model.ErrInvalidCredentials, Detail: "token response without access token"}
	}
	return model.Session{AccessToken: out.Access, RefreshToken: out.Refresh}, nil
}

// RefreshToken obtains a new access token. The refresh token in the result is
// empty unless the service rotated it.
func (c *Client) RefreshToken(ctx context.Context, refresh string) (model.Session, error) {
	var out wireTokens
	err := c.do(ctx, call{
		op:     OpRefresh,
		method: http.MethodPost,
		path:   "/token/refresh/",
		body:   map[string]string{"refresh": refresh},
	}, &out)
	if err != nil {
		return model.Session{}, err
	}
	if out.Access == "" {
		return model.Session{}, &model.Error{Kind: model.ErrSessionExpired, Detail: "refresh response without access token"}
	}
	return model.Session{AccessToken: out.Access, RefreshToken: out.Refresh}, nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, email, username, password string) error {
	return c.do(ctx, call{
		op:     OpRegister,
		method: http.MethodPost,
		path:   "/register/",
		body: map[string]string{
			"email":    email,
			"username": username,
			"password": password,
		},
	}, nil)
}
