// Package share issues and redeems anonymous share links.
//
// A share token is a capability: it grants read access to one document to
// whoever holds it. Redeeming a token never makes the holder a collaborator.
package share

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/jun/docshare/internal/model"
	"github.com/jun/docshare/internal/policy"
)

// Transport is the part of the service client the share service uses.
// Share is authenticated; SharedDocument is not.
type Transport interface {
	Share(ctx context.Context, docID, email string) (model.ShareLink, error)
	SharedDocument(ctx context.Context, token model.ShareToken) (model.DocumentSummary, error)
}

// Session is notified when the service rejects the caller's session.
type Session interface {
	HandleUnauthorized(ctx context.Context, rejected string)
}

// Service creates and resolves share links.
type Service struct {
	api     Transport
	sess    Session
	webBase string
	log     *slog.Logger
}

// NewService creates a Service. webBase is the web client root used to build
// share URLs, e.g. "https://docs.example.com". sess may be nil for processes
// that only redeem tokens.
func NewService(api Transport, sess Session, webBase string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		api:     api,
		sess:    sess,
		webBase: strings.TrimRight(webBase, "/"),
		log:     log.With("component", "share"),
	}
}

// CreateShareLink asks the service to share docID with recipientEmail.
// Only the owner may share a document.
func (s *Service) CreateShareLink(ctx context.Context, docID, recipientEmail string) (model.ShareLink, error) {
	if strings.TrimSpace(docID) == "" {
		return model.ShareLink{}, model.Invalid("document_id", "A document id is required.")
	}
	recipientEmail = strings.TrimSpace(recipientEmail)
	if addr, err := mail.ParseAddress(recipientEmail); err != nil || addr.Address != recipientEmail {
		return model.ShareLink{}, model.Invalid("email", "Enter a valid email address.")
	}

	link, err := s.api.Share(ctx, docID, recipientEmail)
	if err != nil {
		if rejected := model.RejectedCredential(err); rejected != "" && errors.Is(err, model.ErrSessionExpired) && s.sess != nil {
			s.sess.HandleUnauthorized(ctx, rejected)
		}
		return model.ShareLink{}, err
	}
	if link.URL == "" {
		link.URL = s.URL(link.Token)
	}
	s.log.InfoContext(ctx, "share link created", "document_id", docID)
	return link, nil
}

// ResolveShareToken redeems token. Every call asks the service; nothing is
// cached between redemptions. The summary never carries owner or
// collaborator fields.
func (s *Service) ResolveShareToken(ctx context.Context, token model.ShareToken) (model.DocumentSummary, error) {
	t := strings.TrimSpace(string(token))
	if t == "" || strings.ContainsAny(t, "/?#") {
		return model.DocumentSummary{}, &model.Error{Kind: model.ErrInvalidOrExpiredToken, Detail: "malformed token"}
	}
	sum, err := s.api.SharedDocument(ctx, model.ShareToken(t))
	if err != nil {
		s.log.DebugContext(ctx, "share token not redeemed", "error", err)
		return model.DocumentSummary{}, err
	}
	return sum, nil
}

// URL is the web address at which token can be opened.
func (s *Service) URL(token model.ShareToken) string {
	return s.webBase + "/shared-document/" + url.PathEscape(string(token))
}

// Grant returns the policy actor for a holder of token bound to docID.
// expiresAt may be zero when unknown.
func Grant(token model.ShareToken, docID string, expiresAt time.Time) policy.Actor {
	return policy.Holder(policy.ShareGrant{Token: token, DocumentID: docID, ExpiresAt: expiresAt})
}

// TokenFromURL extracts the share token from a share URL. A bare token is
// returned unchanged.
func TokenFromURL(raw string) model.ShareToken {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return model.ShareToken(raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	return model.ShareToken(parts[len(parts)-1])
}
