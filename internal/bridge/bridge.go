// Package bridge implements the functions the WebAssembly build exposes to
// JavaScript. It does not depend on syscall/js; cmd/bridge only converts
// arguments and results.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jun/docshare/internal/api"
	"github.com/jun/docshare/internal/checklist"
	"github.com/jun/docshare/internal/config"
	"github.com/jun/docshare/internal/credstore"
	"github.com/jun/docshare/internal/markdown"
	"github.com/jun/docshare/internal/model"
	"github.com/jun/docshare/internal/policy"
	"github.com/jun/docshare/internal/session"
)

// Client holds the browser's session over its credential store.
type Client struct {
	sess     *session.Manager
	renderer *markdown.Renderer
}

// New builds a Client and restores any session persisted in store.
// hc nil means a client with the configured timeout.
func New(ctx context.Context, cfg config.Config, store credstore.Store, hc *http.Client, log *slog.Logger) (*Client, error) {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.API.Timeout}
	}
	mgr := session.NewManager(store, api.New(cfg.API.BaseURL, hc, log), log)
	if _, err := mgr.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	return &Client{sess: mgr, renderer: markdown.NewRenderer()}, nil
}

// RenderMarkdown renders document content to HTML.
func (c *Client) RenderMarkdown(src string) (string, error) {
	out, err := c.renderer.RenderDocument(src)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Login authenticates and persists the session.
func (c *Client) Login(ctx context.Context, email, password string) error {
	_, err := c.sess.Login(ctx, email, password)
	return err
}

// Logout clears the session.
func (c *Client) Logout(ctx context.Context) {
	c.sess.Logout(ctx)
}

// HandleUnauthorized reports that the service rejected rejected, or the
// current token when rejected is empty.
func (c *Client) HandleUnauthorized(ctx context.Context, rejected string) {
	c.sess.HandleUnauthorized(ctx, rejected)
}

// CurrentToken returns the stored access token without refreshing it.
func (c *Client) CurrentToken(ctx context.Context) (string, bool) {
	return c.sess.CurrentToken(ctx)
}

// AccessToken returns an access token valid for a request, refreshing it
// first when it is about to expire.
func (c *Client) AccessToken() (string, error) {
	tok, err := c.sess.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// OnSessionEvent calls fn with the kind of every session event.
func (c *Client) OnSessionEvent(fn func(kind string)) (cancel func()) {
	return c.sess.Subscribe(func(ev session.Event) { fn(string(ev.Kind)) })
}

// actorInput is the JSON shape accepted by Decide. Identifiers may be
// numbers or strings.
type actorInput struct {
	UserID     any       `json:"user_id"`
	Email      string    `json:"email"`
	ShareToken string    `json:"share_token"`
	DocumentID any       `json:"document_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (a actorInput) actor() policy.Actor {
	var actor policy.Actor
	if a.UserID != nil || a.Email != "" {
		actor.Identity = &model.Identity{UserID: str(a.UserID), Email: a.Email}
	}
	if a.ShareToken != "" {
		actor.Share = &policy.ShareGrant{
			Token:      model.ShareToken(a.ShareToken),
			DocumentID: str(a.DocumentID),
			ExpiresAt:  a.ExpiresAt,
		}
	}
	return actor
}

// Decide evaluates the access policy for an actor and a document given as
// JSON, the document in the service's wire format.
func Decide(actorJSON, docJSON, action string, now time.Time) (policy.Decision, error) {
	var in actorInput
	if err := json.Unmarshal([]byte(actorJSON), &in); err != nil {
		return policy.Decision{}, fmt.Errorf("actor: %w", err)
	}
	doc, err := api.DecodeDocument([]byte(docJSON))
	if err != nil {
		return policy.Decision{}, fmt.Errorf("document: %w", err)
	}
	a, ok := policy.ParseAction(action)
	if !ok {
		return policy.Decision{}, fmt.Errorf("unknown action %q", action)
	}
	return policy.Decide(in.actor(), doc.AccessView(), a, now), nil
}

// ComposeChecklist builds checklist content from a JSON list.
func ComposeChecklist(listJSON string) (string, error) {
	var l checklist.List
	if err := json.Unmarshal([]byte(listJSON), &l); err != nil {
		return "", err
	}
	return checklist.Compose(l), nil
}

// ToggleChecklistItem flips item index of checklist content.
func ToggleChecklistItem(content string, index int) (string, error) {
	return checklist.Toggle(content, index)
}
