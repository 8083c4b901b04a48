package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/jun/docshare/internal/model"
)

// id accepts identifiers encoded either as JSON numbers or strings.
type id string

func (i *id) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*i = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*i = id(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*i = id(n.String())
	return nil
}

type wireCollaborator struct {
	ID     id     `json:"id"`
	UserID id     `json:"user_id"`
	User   string `json:"user"`
	Role   string `json:"role"`
}

func (w wireCollaborator) model() model.Collaborator {
	return model.Collaborator{
		ID:      string(w.ID),
		UserID:  string(w.UserID),
		UserRef: w.User,
		Role:    model.Role(w.Role),
	}
}

type wireDocument struct {
	ID            id                 `json:"id"`
	Title         string             `json:"title"`
	Content       string             `json:"content"`
	Owner         string             `json:"owner"`
	OwnerID       id                 `json:"owner_id"`
	Collaborators []wireCollaborator `json:"collaborators"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (w wireDocument) model() model.Document {
	d := model.Document{
		ID:            string(w.ID),
		Title:         w.Title,
		Content:       w.Content,
		OwnerID:       string(w.OwnerID),
		OwnerEmail:    w.Owner,
		Collaborators: make([]model.Collaborator, 0, len(w.Collaborators)),
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
	for _, c := range w.Collaborators {
		d.Collaborators = append(d.Collaborators, c.model())
	}
	return d
}

// wireSummary is decoded field by field so that nothing beyond id, title and
// content can leak from a shared-document response.
type wireSummary struct {
	ID      id     `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type wireTokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type wireShare struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ShareURL  string    `json:"share_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DecodeDocument decodes a document in the service's wire format.
func DecodeDocument(raw []byte) (model.Document, error) {
	var w wireDocument
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Document{}, err
	}
	return w.model(), nil
}
