package model

import "time"

// Identity is the authenticated user behind an access token.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Session is the pair of tokens representing an authenticated identity on the client.
// ExpiresAt is the access token expiry when the token carries one.
type Session struct {
	AccessToken  string    `json:"access"`
	RefreshToken string    `json:"refresh"`
	ExpiresAt    time.Time `json:"-"`
}

// Role is a collaborator role on a document.
type Role string

const (
	RoleView Role = "view"
	RoleEdit Role = "edit"
)

// Valid reports whether r is one of the closed set of collaborator roles.
func (r Role) Valid() bool {
	return r == RoleView || r == RoleEdit
}

// Collaborator is a non-owner user granted access to a document.
// UserRef is the collaborator's email, which is how the API identifies users.
type Collaborator struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id,omitempty"`
	UserRef string `json:"user"`
	Role    Role   `json:"role"`
}

// Document represents the document structure used in the API.
type Document struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	OwnerID       string         `json:"owner_id,omitempty"`
	OwnerEmail    string         `json:"owner"`
	Collaborators []Collaborator `json:"collaborators"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// AccessView is the subset of a document the access policy needs.
type AccessView struct {
	ID            string
	OwnerID       string
	OwnerEmail    string
	Collaborators []Collaborator
}

// AccessView returns the policy-relevant projection of d.
func (d Document) AccessView() AccessView {
	return AccessView{
		ID:            d.ID,
		OwnerID:       d.OwnerID,
		OwnerEmail:    d.OwnerEmail,
		Collaborators: d.Collaborators,
	}
}

// DocumentSummary is what an anonymous share token holder may see.
// It deliberately has no owner or collaborator fields.
type DocumentSummary struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ShareToken is an opaque capability granting read access to one document.
type ShareToken string

// ShareLink is the result of sharing a document with a recipient.
type ShareLink struct {
	Token      ShareToken `json:"token"`
	DocumentID string     `json:"document_id"`
	Recipient  string     `json:"email"`
	URL        string     `json:"url,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at,omitzero"`
}

// ExportFormat identifies an export file type.
type ExportFormat string

const (
	FormatPDF  ExportFormat = "pdf"
	FormatDOCX ExportFormat = "docx"
)

// Valid reports whether f is a supported export format.
func (f ExportFormat) Valid() bool {
	return f == FormatPDF || f == FormatDOCX
}
