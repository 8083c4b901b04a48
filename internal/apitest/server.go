// Package apitest runs an in-memory document service for tests. It follows
// the service's REST contract and authorization rules closely enough that the
// client packages can be exercised end to end.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	AccessTTL  = 60 * time.Minute
	RefreshTTL = 24 * time.Hour
	ShareTTL   = 7 * 24 * time.Hour
)

type user struct {
	id       int
	email    string
	username string
	password string
}

type collaborator struct {
	id   int
	user *user
	role string
}

type document struct {
	id            int
	title         string
	content       string
	owner         *user
	collaborators []*collaborator
	created       time.Time
	updated       time.Time
}

type shareRecord struct {
	docID   int
	email   string
	expires time.Time
}

// Server is a fake document service backed by maps.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	secret []byte
	now    func() time.Time
	gen    int

	users      map[string]*user
	usernames  map[string]bool
	docs       map[int]*document
	shares     map[string]shareRecord
	nextUser   int
	nextDoc    int
	nextCollab int

	failExport bool
}

// New starts a Server and closes it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		secret:    []byte("apitest-signing-key"),
		now:       time.Now,
		users:     make(map[string]*user),
		usernames: make(map[string]bool),
		docs:      make(map[int]*document),
		shares:    make(map[string]shareRecord),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root clients should be configured with.
func (s *Server) BaseURL() string { return s.URL + "/api" }

// SetClock replaces the server clock used for token and share expiry.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// AddUser registers a user directly and returns its id.
func (s *Server) AddUser(email, username, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strconv.Itoa(s.addUserLocked(email, username, password).id)
}

// RevokeSessions makes every token issued so far fail authentication.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
}

// ExpireShare makes a share token unredeemable.
func (s *Server) ExpireShare(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.shares[token]; ok {
		rec.expires = s.now().Add(-time.Second)
		s.shares[token] = rec
	}
}

// FailExports makes the download endpoint answer 500.
func (s *Server) FailExports(fail bool) {
	s.mu.Lock()
	s.failExport = fail
	s.mu.Unlock()
}

// CollaboratorCount returns the number of collaborators on a document.
func (s *Server) CollaboratorCount(docID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := strconv.Atoi(docID)
	if d, ok := s.docs[id]; ok {
		return len(d.collaborators)
	}
	return 0
}

// IssueTokens returns a fresh access/refresh pair for a registered user.
func (s *Server) IssueTokens(email string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[email]
	if u == nil {
		return "", ""
	}
	return s.signLocked(u, "access", AccessTTL), s.signLocked(u, "refresh", RefreshTTL)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register/", s.register)
	mux.HandleFunc("POST /api/token/", s.obtainToken)
	mux.HandleFunc("POST /api/token/refresh/", s.refreshToken)
	mux.HandleFunc("GET /api/documents/", s.authed(s.listDocuments))
	mux.HandleFunc("POST /api/documents/", s.authed(s.createDocument))
	mux.HandleFunc("GET /api/documents/{id}/", s.authed(s.getDocument))
	mux.HandleFunc("PUT /api/documents/{id}/", s.authed(s.updateDocument))
	mux.HandleFunc("DELETE /api/documents/{id}/", s.authed(s.deleteDocument))
	mux.HandleFunc("POST /api/documents/{id}/invite/", s.authed(s.invite))
	mux.HandleFunc("GET /api/documents/{id}/download/", s.authed(s.download))
	mux.HandleFunc("POST /api/share/", s.authed(s.share))
	mux.HandleFunc("GET /api/shared-document/{token}/", s.sharedDocument)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func fieldError(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string][]string{field: {msg}})
}

func decode(r *http.Request, v any) bool {
	return json.NewDecoder(r.Body).Decode(v) == nil
}

func (s *Server) addUserLocked(email, username, password string) *user {
	s.nextUser++
	u := &user{id: s.nextUser, email: email, username: username, password: password}
	s.users[email] = u
	s.usernames[username] = true
	return u
}

// claims mirror the service's access/refresh token payload.
type claims struct {
	TokenType string `json:"token_type"`
	UserID    int    `json:"user_id"`
	Email     string `json:"email"`
	Gen       int    `json:"gen"`
	jwt.RegisteredClaims
}

func (s *Server) signLocked(u *user, kind string, ttl time.Duration) string {
	now := s.now()
	c := claims{
		TokenType: kind,
		UserID:    u.id,
		Email:     u.email,
		Gen:       s.gen,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		panic(fmt.Sprintf("apitest: sign token: %v", err))
	}
	return signed
}

// parseLocked verifies a token of the given kind and returns its user.
func (s *Server) parseLocked(raw, kind string) *user {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || c.TokenType != kind || c.Gen != s.gen {
		return nil
	}
	return s.users[c.Email]
}

func (s *Server) authed(next func(http.ResponseWriter, *http.Request, *user)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		s.mu.Lock()
		u := s.parseLocked(strings.TrimPrefix(header, "Bearer "), "access")
		s.mu.Unlock()
		if u == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		next(w, r, u)
	}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(r, &in) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	errs := map[string][]string{}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		errs["email"] = append(errs["email"], "Enter a valid email address.")
	} else if s.users[in.Email] != nil {
		errs["email"] = append(errs["email"], "user with this email already exists.")
	}
	if strings.TrimSpace(in.Username) == "" {
		errs["username"] = append(errs["username"], "This field may not be blank.")
	} else if s.usernames[in.Username] {
		errs["username"] = append(errs["username"], "A user with that username already exists.")
	}
	if len(in.Password) < 6 {
		errs["password"] = append(errs["password"], "Ensure this field has at least 6 characters.")
	}
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errs)
		return
	}

	u := s.addUserLocked(in.Email, in.Username, in.Password)
	writeJSON(w, http.StatusCreated, map[string]any{"id": u.id, "email": u.email, "username": u.username})
}

func (s *Server) obtainToken(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(r, &in) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[in.Email]
	if u == nil || u.password != in.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access":  s.signLocked(u, "access", AccessTTL),
		"refresh": s.signLocked(u, "refresh", RefreshTTL),
	})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Refresh string `json:"refresh"`
	}
	decode(r, &in)

	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.parseLocked(in.Refresh, "refresh")
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": s.signLocked(u, "access", AccessTTL)})
}

func (d *document) role(u *user) string {
	if d.owner == u {
		return "owner"
	}
	for _, c := range d.collaborators {
		if c.user == u {
			return c.role
		}
	}
	return ""
}

func (d *document) json() map[string]any {
	collabs := make([]map[string]any, 0, len(d.collaborators))
	for _, c := range d.collaborators {
		collabs = append(collabs, map[string]any{
			"id":       c.id,
			"user":     c.user.email,
			"user_id":  c.user.id,
			"document": d.id,
			"role":     c.role,
		})
	}
	return map[string]any{
		"id":            d.id,
		"title":         d.title,
		"content":       d.content,
		"owner":         d.owner.email,
		"owner_id":      d.owner.id,
		"collaborators": collabs,
		"created_at":    d.created,
		"updated_at":    d.updated,
	}
}

var notFound = map[string]string{"detail": "No Document matches the given query."}

// lookupLocked returns the document when u may read it.
func (s *Server) lookupLocked(r *http.Request, u *user) *document {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		return nil
	}
	d := s.docs[id]
	if d == nil || d.role(u) == "" {
		return nil
	}
	return d
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request, u *user) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0)
	for id := 1; id <= s.nextDoc; id++ {
		if d := s.docs[id]; d != nil && d.role(u) != "" {
			out = append(out, d.json())
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type documentInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request, u *user) {
	var in documentInput
	if !decode(r, &in) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		fieldError(w, "title", "This field may not be blank.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDoc++
	now := s.now().UTC()
	d := &document{id: s.nextDoc, title: in.Title, content: in.Content, owner: u, created: now, updated: now}
	s.docs[d.id] = d
	writeJSON(w, http.StatusCreated, d.json())
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request, u *user) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.lookupLocked(r, u)
	if d == nil {
		writeJSON(w, http.StatusNotFound, notFound)
		return
	}
	writeJSON(w, http.StatusOK, d.json())
}

var permissionDenied = map[string]string{"detail": "You do not have permission to perform this action."}

func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request, u *user) {
	var in documentInput
	if !decode(r, &in) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.lookupLocked(r, u)
	switch {
	case d == nil:
		writeJSON(w, http.StatusNotFound, notFound)
		return
	case d.role(u) == "view":
		writeJSON(w, http.StatusForbidden, permissionDenied)
		return
	case strings.TrimSpace(in.Title) == "":
		fieldError(w, "title", "This field may not be blank.")
		return
	}
	d.title, d.content, d.updated = in.Title, in.Content, s.now().UTC()
	writeJSON(w, http.StatusOK, d.json())
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request, u *user) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.lookupLocked(r, u)
	switch {
	case d == nil:
		writeJSON(w, http.StatusNotFound, notFound)
		return
	case d.owner != u:
		writeJSON(w, http.StatusForbidden, permissionDenied)
		return
	}
	delete(s.docs, d.id)
	for tok, rec := range s.shares {
		if rec.docID == d.id {
			delete(s.shares, tok)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedLocked returns the document with the given id when u owns it.
func (s *Server) ownedLocked(rawID string, u *user) *document {
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return nil
	}
	if d := s.docs[id]; d != nil && d.owner == u {
		return d
	}
	return nil
}

var notOwner = map[string]string{"error": "Document not found or you are not the owner"}

func (s *Server) invite(w http.ResponseWriter, r *http.Request, u *user) {
	var in struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !decode(r, &in) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.ownedLocked(r.PathValue("id"), u)
	if d == nil {
		writeJSON(w, http.StatusNotFound, notOwner)
		return
	}
	if in.Role != "view" && in.Role != "edit" {
		fieldError(w, "role", fmt.Sprintf("%q is not a valid choice.", in.Role))
		return
	}
	invitee := s.users[in.Email]
	if invitee == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if invitee == d.owner {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "The owner cannot be invited as a collaborator"})
		return
	}
	if d.role(invitee) != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "User is already a collaborator", "code": "already_collaborator"})
		return
	}

	s.nextCollab++
	c := &collaborator{id: s.nextCollab, user: invitee, role: in.Role}
	d.collaborators = append(d.collaborators, c)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       c.id,
		"user":     invitee.email,
		"user_id":  invitee.id,
		"document": d.id,
		"role":     c.role,
	})
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9]`)

func (s *Server) download(w http.ResponseWriter, r *http.Request, u *user) {
	s.mu.Lock()
	d := s.lookupLocked(r, u)
	fail := s.failExport
	var title, content string
	if d != nil {
		title, content = d.title, d.content
	}
	s.mu.Unlock()

	if d == nil {
		writeJSON(w, http.StatusNotFound, notFound)
		return
	}
	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Export failed"})
		return
	}

	format := r.URL.Query().Get("format")
	var contentType, body string
	switch format {
	case "pdf":
		contentType, body = "application/pdf", "%PDF-1.4\n"+title+"\n"+content
	case "docx":
		contentType, body = "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "PK\x03\x04"+title+"\n"+content
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unsupported format"})
		return
	}
	filename := unsafeFilename.ReplaceAllString(title, "_") + "." + format
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Write([]byte(body))
}

func (s *Server) share(w http.ResponseWriter, r *http.Request, u *user) {
	var in struct {
		DocumentID json.Number `json:"document_id"`
		Email      string      `json:"email"`
	}
	if !decode(r, &in) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.ownedLocked(in.DocumentID.String(), u)
	if d == nil {
		writeJSON(w, http.StatusNotFound, notOwner)
		return
	}
	if s.users[in.Email] == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}

	token := uuid.NewString()
	expires := s.now().Add(ShareTTL).UTC()
	s.shares[token] = shareRecord{docID: d.id, email: in.Email, expires: expires}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Share link sent",
		"token":      token,
		"url":        s.URL + "/shared-document/" + token,
		"expires_at": expires,
	})
}

var invalidShare = map[string]string{"error": "Invalid or expired token"}

func (s *Server) sharedDocument(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if _, err := uuid.Parse(token); err != nil {
		writeJSON(w, http.StatusNotFound, invalidShare)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.shares[token]
	if !ok || !s.now().Before(rec.expires) {
		writeJSON(w, http.StatusNotFound, invalidShare)
		return
	}
	d := s.docs[rec.docID]
	if d == nil {
		writeJSON(w, http.StatusNotFound, invalidShare)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": d.id, "title": d.title, "content": d.content})
}
