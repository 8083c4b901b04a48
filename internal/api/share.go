package api

import (
	"context"
	"net/http"
	"net/url"
	"path"

	"github.com/jun/docshare/internal/model"
)

// Share asks the service to send a share link for docID to email.
func (c *Client) Share(ctx context.Context, docID, email string) (model.ShareLink, error) {
	var out wireShare
	err := c.do(ctx, call{
		op:     OpShare,
		method: http.MethodPost,
		path:   "/share/",
		body:   map[string]string{"document_id": docID, "email": email},
		authed: true,
	}, &out)
	if err != nil {
		return model.ShareLink{}, err
	}

	link := model.ShareLink{
		Token:      model.ShareToken(out.Token),
		DocumentID: docID,
		Recipient:  email,
		URL:        out.URL,
		ExpiresAt:  out.ExpiresAt,
	}
	if link.URL == "" {
		link.URL = out.ShareURL
	}
	if link.Token == "" && link.URL != "" {
		if u, err := url.Parse(link.URL); err == nil {
			link.Token = model.ShareToken(path.Base(path.Clean(u.Path)))
		}
	}
	if link.Token == "" {
		return model.ShareLink{}, &model.Error{Kind: model.ErrNetwork, Detail: "share response without token"}
	}
	return link, nil
}

// SharedDocument redeems a share token. It sends no credentials.
func (c *Client) SharedDocument(ctx context.Context, token model.ShareToken) (model.DocumentSummary, error) {
	var out wireSummary
	err := c.do(ctx, call{
		op:     OpResolveShare,
		method: http.MethodGet,
		path:   "/shared-document/" + url.PathEscape(string(token)) + "/",
	}, &out)
	if err != nil {
		return model.DocumentSummary{}, err
	}
	return model.DocumentSummary{ID: string(out.ID), Title: out.Title, Content: out.Content}, nil
}
