// Package preview serves read-only previews of shared documents from API
// Gateway. A preview is fetched with the share token alone and never shows
// who owns the document or who collaborates on it.
package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/docshare/internal/markdown"
	"github.com/jun/docshare/internal/model"
)

// Resolver redeems share tokens.
type Resolver interface {
	ResolveShareToken(ctx context.Context, token model.ShareToken) (model.DocumentSummary, error)
}

// Options configures a Handler.
type Options struct {
	// AllowOrigin is returned in Access-Control-Allow-Origin.
	AllowOrigin string

	// OriginSecret, when set, must match the X-Origin-Verify header that the
	// CDN adds to every request.
	OriginSecret string
}

// Handler routes API Gateway requests.
type Handler struct {
	shares Resolver
	md     *markdown.Renderer
	opts   Options
	log    *slog.Logger
	css    template.CSS
}

// NewHandler creates a Handler.
func NewHandler(shares Resolver, md *markdown.Renderer, opts Options, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	var css bytes.Buffer
	if err := markdown.WriteCSS(&css); err != nil {
		log.Warn("building code stylesheet failed", "error", err)
	}
	return &Handler{
		shares: shares,
		md:     md,
		opts:   opts,
		log:    log.With("component", "preview"),
		css:    template.CSS(css.String()),
	}
}

// HandleRequest routes API Gateway requests to the preview endpoints.
func (h *Handler) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := strings.TrimPrefix(req.Path, "/api")
	method := req.HTTPMethod
	h.log.DebugContext(ctx, "request", "method", method, "path", path)

	if method == http.MethodOptions {
		return h.cors(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	if h.opts.OriginSecret != "" && header(req, "X-Origin-Verify") != h.opts.OriginSecret {
		h.log.WarnContext(ctx, "blocked request without origin verification")
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusForbidden,
			Body:       "Forbidden: Access denied",
		}, nil
	}

	if method == http.MethodGet {
		for _, prefix := range []string{"/shared/", "/shared-document/"} {
			if token, ok := strings.CutPrefix(path, prefix); ok {
				token = strings.Trim(token, "/")
				if token != "" && !strings.Contains(token, "/") {
					return h.cors(h.shared(ctx, req, model.ShareToken(token))), nil
				}
			}
		}
		if path == "/healthz" {
			return h.cors(text(http.StatusOK, "ok")), nil
		}
	}

	return h.cors(text(http.StatusNotFound, "Not Found: "+method+" "+path)), nil
}

func (h *Handler) shared(ctx context.Context, req events.APIGatewayProxyRequest, token model.ShareToken) events.APIGatewayProxyResponse {
	sum, err := h.shares.ResolveShareToken(ctx, token)
	switch {
	case errors.Is(err, model.ErrInvalidOrExpiredToken):
		return text(http.StatusNotFound, "This link is invalid or has expired.")
	case errors.Is(err, model.ErrNetwork):
		h.log.ErrorContext(ctx, "document service unavailable", "error", err)
		return text(http.StatusBadGateway, "The document service is unavailable.")
	case err != nil:
		h.log.ErrorContext(ctx, "resolving share token failed", "error", err)
		return text(http.StatusInternalServerError, "Internal Server Error")
	}

	body, err := h.md.RenderDocument(sum.Content)
	if err != nil {
		h.log.ErrorContext(ctx, "rendering shared document failed", "document_id", sum.ID, "error", err)
		return text(http.StatusInternalServerError, "Internal Server Error")
	}

	if strings.Contains(header(req, "Accept"), "application/json") {
		out, err := json.Marshal(struct {
			model.DocumentSummary
			HTML string `json:"html"`
		}{sum, string(body)})
		if err != nil {
			return text(http.StatusInternalServerError, "Internal Server Error")
		}
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       string(out),
		}
	}

	var page bytes.Buffer
	err = pageTemplate.Execute(&page, pageData{
		Title: sum.Title,
		CSS:   h.css,
		// goldmark drops raw HTML, so the rendered body is safe to embed.
		Body: template.HTML(body),
	})
	if err != nil {
		h.log.ErrorContext(ctx, "executing page template failed", "error", err)
		return text(http.StatusInternalServerError, "Internal Server Error")
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":  "text/html; charset=utf-8",
			"Cache-Control": "no-store",
		},
		Body: page.String(),
	}
}

func text(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       body,
	}
}

func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// cors adds CORS headers to an API Gateway response.
func (h *Handler) cors(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	origin := h.opts.AllowOrigin
	if origin == "" {
		origin = "http://localhost:3000"
	}
	resp.Headers["Access-Control-Allow-Origin"] = origin
	resp.Headers["Access-Control-Allow-Methods"] = "GET,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Accept"
	return resp
}

type pageData struct {
	Title string
	CSS   template.CSS
	Body  template.HTML
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta property="og:title" content="{{.Title}}">
<title>{{.Title}}</title>
<style>{{.CSS}}</style>
</head>
<body>
<article>
<h1>{{.Title}}</h1>
{{.Body}}
</article>
</body>
</html>
`))
