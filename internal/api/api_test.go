package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/jun/docshare/internal/logging"
	"github.com/jun/docshare/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api", srv.Client(), logging.Discard())
}

func authed(c *Client, token string) *Client {
	return c.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestObtainToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/token/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("login must not send credentials")
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@x.io" || body["password"] != "pw123456" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access": "A", "refresh": "R"})
	})

	sess, err := c.ObtainToken(context.Background(), "a@x.io", "pw123456")
	if err != nil {
		t.Fatalf("ObtainToken failed: %v", err)
	}
	if sess.AccessToken != "A" || sess.RefreshToken != "R" {
		t.Errorf("got %+v", sess)
	}

	_, err = c.ObtainToken(context.Background(), "a@x.io", "wrong")
	if !errors.Is(err, model.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"duplicate email", http.StatusBadRequest, map[string][]string{"email": {"user with this email already exists."}}, model.ErrDuplicateIdentity},
		{"conflict", http.StatusConflict, map[string]string{"detail": "taken"}, model.ErrDuplicateIdentity},
		{"weak password", http.StatusBadRequest, map[string][]string{"password": {"Ensure this field has at least 6 characters."}}, model.ErrWeakSecret},
		{"bad username", http.StatusBadRequest, map[string][]string{"username": {"This field may not be blank."}}, model.ErrValidation},
		{"server error", http.StatusInternalServerError, map[string]string{"detail": "boom"}, model.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			err := c.Register(context.Background(), "a@x.io", "a", "pw123456")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var me *model.Error
			if !errors.As(err, &me) || me.Status != tt.status {
				t.Errorf("expected *model.Error with status %d, got %#v", tt.status, err)
			}
		})
	}
}

func TestDocumentsDecodeNumericIDs(t *testing.T) {
	c := authed(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		io.WriteString(w, `[{"id": 7, "title": "T", "content": "C", "owner": "o@x.io",
			"collaborators": [{"id": 3, "user": "c@x.io", "document": 7, "role": "edit"}],
			"created_at": "2024-01-02T03:04:05Z", "updated_at": "2024-01-02T03:04:05Z"}]`)
	}), "tok")

	docs, err := c.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	d := docs[0]
	if d.ID != "7" || d.OwnerEmail != "o@x.io" {
		t.Errorf("unexpected document %+v", d)
	}
	if len(d.Collaborators) != 1 || d.Collaborators[0].ID != "3" || d.Collaborators[0].Role != model.RoleEdit {
		t.Errorf("unexpected collaborators %+v", d.Collaborators)
	}
	if !d.CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", d.CreatedAt)
	}
}

func TestAuthenticatedCallWithoutSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.GetDocument(context.Background(), "1")
	if !errors.Is(err, model.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestDocumentStatusTranslation(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, model.ErrSessionExpired},
		{http.StatusForbidden, model.ErrForbidden},
		{http.StatusNotFound, model.ErrNotFound},
		{http.StatusBadRequest, model.ErrValidation},
		{http.StatusBadGateway, model.ErrNetwork},
		{http.StatusTeapot, model.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := authed(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]string{"detail": "x"})
			}), "tok")
			_, err := c.UpdateDocument(context.Background(), "1", "t", "c")
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestInviteErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"unknown user", http.StatusNotFound, map[string]string{"error": "User not found"}, model.ErrUserNotFound},
		{"not owner", http.StatusNotFound, map[string]string{"error": "Document not found or you are not the owner"}, model.ErrNotOwner},
		{"forbidden", http.StatusForbidden, map[string]string{"detail": "nope"}, model.ErrNotOwner},
		{"already", http.StatusBadRequest, map[string]string{"error": "User is already a collaborator"}, model.ErrAlreadyCollaborator},
		{"code", http.StatusBadRequest, map[string]string{"code": "already_collaborator"}, model.ErrAlreadyCollaborator},
		{"missing document", http.StatusNotFound, map[string]string{"detail": "Not found."}, model.ErrNotFound},
		{"expired", http.StatusUnauthorized, map[string]string{"detail": "Given token not valid"}, model.ErrSessionExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := authed(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}), "tok")
			_, err := c.InviteCollaborator(context.Background(), "1", "c@x.io", model.RoleView)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestInviteSynthesizesCollaborator(t *testing.T) {
	c := authed(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/documents/9/invite/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "User invited successfully"})
	}), "tok")

	collab, err := c.InviteCollaborator(context.Background(), "9", "c@x.io", model.RoleEdit)
	if err != nil {
		t.Fatalf("InviteCollaborator failed: %v", err)
	}
	if collab.UserRef != "c@x.io" || collab.Role != model.RoleEdit {
		t.Errorf("got %+v", collab)
	}
}

func TestDownload(t *testing.T) {
	c := authed(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("format") {
		case "pdf":
			w.Header().Set("Content-Type", "application/pdf")
			io.WriteString(w, "%PDF-1.4")
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unsupported format"})
		}
	}), "tok")

	rc, err := c.Download(context.Background(), "1", model.FormatPDF)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "%PDF-1.4" {
		t.Errorf("body = %q", b)
	}

	_, err = c.Download(context.Background(), "1", model.FormatDOCX)
	if !errors.Is(err, model.ErrExportFailed) {
		t.Errorf("expected ErrExportFailed, got %v", err)
	}
}

func TestShareAndRedeem(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/share/":
			writeJSON(w, http.StatusOK, map[string]string{"url": "https://docs.example.com/shared/0b8e0bd4-1d1f-4bbd-a3a6-0fd0b0e6f5f2/"})
		case "/api/shared-document/0b8e0bd4-1d1f-4bbd-a3a6-0fd0b0e6f5f2/":
			if r.Header.Get("Authorization") != "" {
				t.Error("redeem must not send credentials")
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": 4, "title": "T", "content": "C", "owner": "o@x.io"})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Invalid or expired token"})
		}
	})
	ac := authed(c, "tok")

	link, err := ac.Share(context.Background(), "4", "r@x.io")
	if err != nil {
		t.Fatalf("Share failed: %v", err)
	}
	if link.Token != "0b8e0bd4-1d1f-4bbd-a3a6-0fd0b0e6f5f2" {
		t.Errorf("token = %q", link.Token)
	}

	sum, err := ac.SharedDocument(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("SharedDocument failed: %v", err)
	}
	if sum != (model.DocumentSummary{ID: "4", Title: "T", Content: "C"}) {
		t.Errorf("summary = %+v", sum)
	}

	_, err = c.SharedDocument(context.Background(), "bogus")
	if !errors.Is(err, model.ErrInvalidOrExpiredToken) {
		t.Errorf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	c := New(srv.URL, srv.Client(), logging.Discard())

	_, err := c.ObtainToken(context.Background(), "a@x.io", "pw")
	if !errors.Is(err, model.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestTokenSourceErrorPassesThrough(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	c = c.WithTokenSource(failingSource{})
	_, err := c.ListDocuments(context.Background())
	if !errors.Is(err, model.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

type failingSource struct{}

func (failingSource) Token() (*oauth2.Token, error) {
	return nil, &model.Error{Kind: model.ErrSessionExpired, Detail: "no session"}
}

func TestDecodeDocument(t *testing.T) {
	d, err := DecodeDocument([]byte(`{"id": 3, "owner": "o@x.io", "owner_id": "12", "collaborators": [{"id": 1, "user": "c@x.io", "user_id": 5, "role": "view"}]}`))
	if err != nil {
		t.Fatalf("DecodeDocument failed: %v", err)
	}
	if d.ID != "3" || d.OwnerID != "12" || d.Collaborators[0].UserID != "5" {
		t.Errorf("got %+v", d)
	}
	if _, err := DecodeDocument([]byte(`{"id": true}`)); err == nil {
		t.Error("expected error for boolean id")
	}
}

func TestUnauthorizedNamesRejectedToken(t *testing.T) {
	c := authed(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type", "code": "token_not_valid"})
	}), "tok-1")

	_, err := c.GetDocument(context.Background(), "1")
	if !errors.Is(err, model.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if got := model.RejectedCredential(err); got != "tok-1" {
		t.Errorf("RejectedCredential = %q, want tok-1", got)
	}
	if strings.Contains(err.Error(), "tok-1") {
		t.Error("error text leaks the token")
	}
}
