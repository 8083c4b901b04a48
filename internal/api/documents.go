package api

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/jun/docshare/internal/model"
)

func documentPath(docID string) string {
	return "/documents/" + url.PathEscape(docID) + "/"
}

// ListDocuments returns the documents the caller owns or collaborates on.
func (c *Client) ListDocuments(ctx context.Context) ([]model.Document, error) {
	var out []wireDocument
	err := c.do(ctx, call{op: OpList, method: http.MethodGet, path: "/documents/", authed: true}, &out)
	if err != nil {
		return nil, err
	}
	docs := make([]model.Document, 0, len(out))
	for _, w := range out {
		docs = append(docs, w.model())
	}
	return docs, nil
}

// CreateDocument creates a document owned by the caller.
func (c *Client) CreateDocument(ctx context.Context, title, content string) (model.Document, error) {
	var out wireDocument
	err := c.do(ctx, call{
		op:     OpCreate,
		method: http.MethodPost,
		path:   "/documents/",
		body:   map[string]string{"title": title, "content": content},
		authed: true,
	}, &out)
	if err != nil {
		return model.Document{}, err
	}
	return out.model(), nil
}

// GetDocument fetches one document.
func (c *Client) GetDocument(ctx context.Context, docID string) (model.Document, error) {
	var out wireDocument
	err := c.do(ctx, call{op: OpGet, method: http.MethodGet, path: documentPath(docID), authed: true}, &out)
	if err != nil {
		return model.Document{}, err
	}
	return out.model(), nil
}

// UpdateDocument replaces a document's title and content.
func (c *Client) UpdateDocument(ctx context.Context, docID, title, content string) (model.Document, error) {
	var out wireDocument
	err := c.do(ctx, call{
		op:     OpUpdate,
		method: http.MethodPut,
		path:   documentPath(docID),
		body:   map[string]string{"title": title, "content": content},
		authed: true,
	}, &out)
	if err != nil {
		return model.Document{}, err
	}
	return out.model(), nil
}

// DeleteDocument deletes a document.
func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	return c.do(ctx, call{op: OpDelete, method: http.MethodDelete, path: documentPath(docID), authed: true}, nil)
}

// InviteCollaborator grants role on a document to the user registered under email.
// When the service only acknowledges the invitation, the returned record is
// built from the request.
func (c *Client) InviteCollaborator(ctx context.Context, docID, email string, role model.Role) (model.Collaborator, error) {
	var out wireCollaborator
	err := c.do(ctx, call{
		op:     OpInvite,
		method: http.MethodPost,
		path:   documentPath(docID) + "invite/",
		body:   map[string]string{"email": email, "role": string(role)},
		authed: true,
	}, &out)
	if err != nil {
		return model.Collaborator{}, err
	}
	collab := out.model()
	if collab.UserRef == "" {
		collab.UserRef = email
	}
	if collab.Role == "" {
		collab.Role = role
	}
	return collab, nil
}

// Download streams an export of the document. The caller closes the stream.
func (c *Client) Download(ctx context.Context, docID string, format model.ExportFormat) (io.ReadCloser, error) {
	resp, err := c.send(ctx, call{
		op:     OpExport,
		method: http.MethodGet,
		path:   documentPath(docID) + "download/",
		query:  map[string]string{"format": string(format)},
		authed: true,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
