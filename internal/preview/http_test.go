package preview

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jun/docshare/internal/logging"
	"github.com/jun/docshare/internal/markdown"
	"github.com/jun/docshare/internal/model"
)

func TestHTTPHandler(t *testing.T) {
	resolver := stubResolver{sum: model.DocumentSummary{ID: "1", Title: "Notes", Content: "hello"}}
	h := NewHandler(resolver, markdown.NewRenderer(), Options{}, logging.Discard())
	srv := httptest.NewServer(HTTPHandler(h))
	defer srv.Close()

	tests := []struct {
		name   string
		path   string
		accept string
		status int
		want   string
	}{
		{"html", "/shared-document/abc", "", http.StatusOK, "<title>Notes</title>"},
		{"json", "/api/shared/abc", "application/json", http.StatusOK, `"title":"Notes"`},
		{"health", "/healthz", "", http.StatusOK, "ok"},
		{"unknown", "/documents/", "", http.StatusNotFound, "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body %q does not contain %q", body, tt.want)
			}
			if resp.Header.Get("Access-Control-Allow-Origin") == "" {
				t.Error("missing CORS header")
			}
		})
	}
}
