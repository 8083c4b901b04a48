// Package document mediates document CRUD and collaborator management
// against the document service on behalf of the current session.
package document

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jun/docshare/internal/model"
	"github.com/jun/docshare/internal/policy"
)

// Transport is the part of the service client the repository uses. Every
// call is authenticated.
type Transport interface {
	ListDocuments(ctx context.Context) ([]model.Document, error)
	CreateDocument(ctx context.Context, title, content string) (model.Document, error)
	GetDocument(ctx context.Context, docID string) (model.Document, error)
	UpdateDocument(ctx context.Context, docID, title, content string) (model.Document, error)
	DeleteDocument(ctx context.Context, docID string) error
	InviteCollaborator(ctx context.Context, docID, email string, role model.Role) (model.Collaborator, error)
	Download(ctx context.Context, docID string, format model.ExportFormat) (io.ReadCloser, error)
}

// Session is the part of the session manager the repository uses.
type Session interface {
	Identity(ctx context.Context) (model.Identity, bool)
	HandleUnauthorized(ctx context.Context, rejected string)
}

// Repository performs document operations for the logged-in user.
type Repository struct {
	api  Transport
	sess Session
	log  *slog.Logger
	now  func() time.Time
}

// NewRepository creates a Repository.
func NewRepository(api Transport, sess Session, log *slog.Logger) *Repository {
	if log == nil {
		log = slog.Default()
	}
	return &Repository{
		api:  api,
		sess: sess,
		log:  log.With("component", "document"),
		now:  time.Now,
	}
}

// settle runs after every call. A rejected session is destroyed before the
// error reaches the caller, unless the rejected token has been superseded.
func (r *Repository) settle(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrSessionExpired) {
		if rejected := model.RejectedCredential(err); rejected != "" {
			r.sess.HandleUnauthorized(ctx, rejected)
		}
	}
	r.log.DebugContext(ctx, "document operation failed", "op", op, "error", err)
	return err
}

// fill sets OwnerID from the session when the service only reported the
// owner's email.
func (r *Repository) fill(ctx context.Context, d *model.Document) {
	if d.OwnerID != "" {
		return
	}
	if id, ok := r.sess.Identity(ctx); ok && id.UserID != "" && strings.EqualFold(id.Email, d.OwnerEmail) {
		d.OwnerID = id.UserID
	}
}

func requireID(docID string) error {
	if strings.TrimSpace(docID) == "" {
		return model.Invalid("id", "A document id is required.")
	}
	return nil
}

// List returns the documents the caller owns or collaborates on.
func (r *Repository) List(ctx context.Context) ([]model.Document, error) {
	docs, err := r.api.ListDocuments(ctx)
	if err := r.settle(ctx, "list", err); err != nil {
		return nil, err
	}
	for i := range docs {
		r.fill(ctx, &docs[i])
	}
	return docs, nil
}

// Create creates a document owned by the caller. The title must not be blank.
func (r *Repository) Create(ctx context.Context, title, content string) (model.Document, error) {
	if strings.TrimSpace(title) == "" {
		return model.Document{}, model.Invalid("title", "This field may not be blank.")
	}
	d, err := r.api.CreateDocument(ctx, title, content)
	if err := r.settle(ctx, "create", err); err != nil {
		return model.Document{}, err
	}
	r.fill(ctx, &d)
	r.log.InfoContext(ctx, "document created", "document_id", d.ID)
	return d, nil
}

// Get fetches a document the caller may read.
func (r *Repository) Get(ctx context.Context, docID string) (model.Document, error) {
	if err := requireID(docID); err != nil {
		return model.Document{}, err
	}
	d, err := r.api.GetDocument(ctx, docID)
	if err := r.settle(ctx, "get", err); err != nil {
		return model.Document{}, err
	}
	r.fill(ctx, &d)
	return d, nil
}

// Update replaces the title and content of a document.
func (r *Repository) Update(ctx context.Context, docID, title, content string) (model.Document, error) {
	if err := requireID(docID); err != nil {
		return model.Document{}, err
	}
	if strings.TrimSpace(title) == "" {
		return model.Document{}, model.Invalid("title", "This field may not be blank.")
	}
	d, err := r.api.UpdateDocument(ctx, docID, title, content)
	if err := r.settle(ctx, "update", err); err != nil {
		return model.Document{}, err
	}
	r.fill(ctx, &d)
	return d, nil
}

// Delete deletes a document. Only the owner may delete; the service answers
// model.ErrForbidden otherwise.
func (r *Repository) Delete(ctx context.Context, docID string) error {
	if err := requireID(docID); err != nil {
		return err
	}
	if err := r.settle(ctx, "delete", r.api.DeleteDocument(ctx, docID)); err != nil {
		return err
	}
	r.log.InfoContext(ctx, "document deleted", "document_id", docID)
	return nil
}

// InviteCollaborator grants role on a document to the registered user with
// the given email.
func (r *Repository) InviteCollaborator(ctx context.Context, docID, email string, role model.Role) (model.Collaborator, error) {
	if err := requireID(docID); err != nil {
		return model.Collaborator{}, err
	}
	email = strings.TrimSpace(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return model.Collaborator{}, model.Invalid("email", "Enter a valid email address.")
	}
	if !role.Valid() {
		return model.Collaborator{}, model.Invalid("role", `Role must be "view" or "edit".`)
	}
	c, err := r.api.InviteCollaborator(ctx, docID, email, role)
	if err := r.settle(ctx, "invite", err); err != nil {
		return model.Collaborator{}, err
	}
	r.log.InfoContext(ctx, "collaborator invited", "document_id", docID, "role", role)
	return c, nil
}

// ExportAs streams an export of the document. The caller closes the stream.
func (r *Repository) ExportAs(ctx context.Context, docID string, format model.ExportFormat) (io.ReadCloser, error) {
	if err := requireID(docID); err != nil {
		return nil, err
	}
	if !format.Valid() {
		return nil, model.Invalid("format", `Format must be "pdf" or "docx".`)
	}
	rc, err := r.api.Download(ctx, docID, format)
	if err := r.settle(ctx, "export", err); err != nil {
		return nil, err
	}
	return rc, nil
}

// Permissions returns the actions the current user may perform on doc
// according to the local policy. It is meant for deciding which actions to
// offer; the service may still refuse.
func (r *Repository) Permissions(ctx context.Context, doc model.Document) []policy.Action {
	var actor policy.Actor
	if id, ok := r.sess.Identity(ctx); ok {
		actor = policy.User(id)
	}
	return policy.Allowed(actor, doc.AccessView(), r.now())
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9]`)

// ExportFilename names an exported file after the document title.
func ExportFilename(title string, format model.ExportFormat) string {
	name := unsafeFilename.ReplaceAllString(title, "_")
	if strings.Trim(name, "_") == "" {
		name = "document"
	}
	return name + "." + string(format)
}
