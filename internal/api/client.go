// Package api is the boundary between docshare and the document service's
// REST endpoints. Every HTTP status and error body is translated here, once,
// into the model error taxonomy; nothing above this package inspects status codes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/jun/docshare/internal/model"
)

const maxErrorBody = 64 << 10

// Client talks to the document service. The zero value is not usable; call New.
type Client struct {
	baseURL string
	anon    *http.Client
	authed  *http.Client
	log     *slog.Logger
}

// New creates a Client for baseURL (e.g. "https://docs.example.com/api").
// httpClient carries the transport timeout; nil means http.DefaultClient.
func New(baseURL string, httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anon:    httpClient,
		log:     log,
	}
}

// WithTokenSource returns a copy of c whose authenticated calls carry
// "Authorization: Bearer <token>" from src.
func (c *Client) WithTokenSource(src oauth2.TokenSource) *Client {
	cp := *c
	cp.authed = &http.Client{
		Timeout:       c.anon.Timeout,
		CheckRedirect: c.anon.CheckRedirect,
		Jar:           c.anon.Jar,
		Transport: &oauth2.Transport{
			Source: src,
			Base:   recordingTransport{base: c.anon.Transport},
		},
	}
	return &cp
}

type credentialKey struct{}

// recordingTransport sits below oauth2.Transport and notes which access
// token a request actually carried.
type recordingTransport struct {
	base http.RoundTripper
}

func (t recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if used, ok := req.Context().Value(credentialKey{}).(*string); ok {
		*used = strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// call describes one request.
type call struct {
	op     Op
	method string
	path   string
	query  map[string]string
	body   any
	authed bool
}

// send performs the request and returns the response when the status is 2xx.
// Any other outcome is returned as a taxonomy error.
func (c *Client) send(ctx context.Context, cl call) (*http.Response, error) {
	var body io.Reader
	if cl.body != nil {
		buf, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", cl.op, err)
		}
		body = bytes.NewReader(buf)
	}

	var credential string
	if cl.authed {
		ctx = context.WithValue(ctx, credentialKey{}, &credential)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", cl.op, err)
	}
	if len(cl.query) > 0 {
		q := req.URL.Query()
		for k, v := range cl.query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	hc := c.anon
	if cl.authed {
		if c.authed == nil {
			return nil, fmt.Errorf("%w: client has no session attached", model.ErrSessionExpired)
		}
		hc = c.authed
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.log.DebugContext(ctx, "request failed", "op", cl.op, "request_id", requestID, "error", err)
		return nil, transportError(cl.op, err)
	}
	c.log.DebugContext(ctx, "request",
		"op", cl.op,
		"method", cl.method,
		"path", cl.path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := translate(cl.op, resp.StatusCode, decodePayload(raw))
	if errors.Is(e, model.ErrSessionExpired) {
		e.Credential = credential
	}
	return nil, e
}

// do performs cl and decodes a JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, cl call, out any) error {
	resp, err := c.send(ctx, cl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &model.Error{Kind: model.ErrNetwork, Status: resp.StatusCode, Detail: fmt.Sprintf("decode %s response: %v", cl.op, err)}
	}
	return nil
}

// transportError maps a failed round trip. Errors that already belong to the
// taxonomy, such as a session error raised by the token source, pass through.
func transportError(op Op, err error) error {
	var me *model.Error
	if errors.As(err, &me) {
		return me
	}
	if model.Kind(err) != nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", model.ErrNetwork, op, err)
	}
	return &model.Error{Kind: model.ErrNetwork, Detail: fmt.Sprintf("%s: %v", op, err)}
}
