package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jun/docshare/internal/model"
)

// Op names an API operation; translation of failures depends on it.
type Op string

const (
	OpLogin        Op = "login"
	OpRefresh      Op = "refresh"
	OpRegister     Op = "register"
	OpList         Op = "list_documents"
	OpCreate       Op = "create_document"
	OpGet          Op = "get_document"
	OpUpdate       Op = "update_document"
	OpDelete       Op = "delete_document"
	OpInvite       Op = "invite_collaborator"
	OpShare        Op = "share_document"
	OpResolveShare Op = "resolve_share"
	OpExport       Op = "export_document"
)

// payload is the decoded body of an error response. The service answers with
// {"detail": ...}, {"error": ..., "code": ...} or a field-keyed map.
type payload struct {
	Detail string
	Code   string
	Fields map[string][]string
}

func decodePayload(raw []byte) payload {
	var p payload
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		p.Detail = strings.TrimSpace(string(raw))
		if len(p.Detail) > 200 {
			p.Detail = p.Detail[:200]
		}
		return p
	}

	for k, v := range m {
		switch k {
		case "detail", "error", "message":
			var s string
			if json.Unmarshal(v, &s) == nil && p.Detail == "" {
				p.Detail = s
			}
		case "code":
			json.Unmarshal(v, &p.Code)
		default:
			if msgs := fieldMessages(v); len(msgs) > 0 {
				if p.Fields == nil {
					p.Fields = make(map[string][]string)
				}
				p.Fields[k] = msgs
			}
		}
	}
	return p
}

// fieldMessages accepts "msg" or ["msg", ...].
func fieldMessages(v json.RawMessage) []string {
	var list []string
	if json.Unmarshal(v, &list) == nil {
		return list
	}
	var one string
	if json.Unmarshal(v, &one) == nil && one != "" {
		return []string{one}
	}
	return nil
}

// mentions reports whether the detail or any field message contains sub.
func (p payload) mentions(sub string) bool {
	if strings.Contains(strings.ToLower(p.Detail), sub) {
		return true
	}
	for _, msgs := range p.Fields {
		for _, m := range msgs {
			if strings.Contains(strings.ToLower(m), sub) {
				return true
			}
		}
	}
	return false
}

var codeKinds = map[string]error{
	"user_not_found":       model.ErrUserNotFound,
	"already_collaborator": model.ErrAlreadyCollaborator,
	"not_owner":            model.ErrNotOwner,
	"document_not_found":   model.ErrNotFound,
	"duplicate_identity":   model.ErrDuplicateIdentity,
	"weak_password":        model.ErrWeakSecret,
	"invalid_token":        model.ErrInvalidOrExpiredToken,
	"token_expired":        model.ErrInvalidOrExpiredToken,
}

// translate is the single place where HTTP failures become taxonomy errors.
func translate(op Op, status int, p payload) *model.Error {
	return &model.Error{
		Kind:   classify(op, status, p),
		Status: status,
		Detail: p.Detail,
		Fields: p.Fields,
	}
}

func classify(op Op, status int, p payload) error {
	if kind, ok := codeKinds[p.Code]; ok && op != OpExport {
		return kind
	}

	switch op {
	case OpLogin:
		switch {
		case status == http.StatusUnauthorized, p.mentions("no active account"):
			return model.ErrInvalidCredentials
		case status == http.StatusBadRequest:
			return model.ErrValidation
		}

	case OpRegister:
		switch {
		case status == http.StatusConflict, p.mentions("already exists"):
			return model.ErrDuplicateIdentity
		case status == http.StatusBadRequest && len(p.Fields["password"]) > 0:
			return model.ErrWeakSecret
		case status == http.StatusBadRequest:
			return model.ErrValidation
		}

	case OpResolveShare:
		if status < 500 {
			return model.ErrInvalidOrExpiredToken
		}

	case OpExport:
		if status == http.StatusUnauthorized {
			return model.ErrSessionExpired
		}
		return model.ErrExportFailed

	case OpInvite, OpShare:
		switch {
		case status == http.StatusUnauthorized:
			return model.ErrSessionExpired
		case status == http.StatusForbidden, p.mentions("not the owner"):
			return model.ErrNotOwner
		case status == http.StatusConflict, p.mentions("already"):
			return model.ErrAlreadyCollaborator
		case status == http.StatusNotFound && p.mentions("user") && !p.mentions("document"):
			return model.ErrUserNotFound
		case status == http.StatusNotFound:
			return model.ErrNotFound
		case status == http.StatusBadRequest:
			return model.ErrValidation
		}

	case OpRefresh:
		if status == http.StatusUnauthorized || status == http.StatusBadRequest {
			return model.ErrSessionExpired
		}

	default:
		switch status {
		case http.StatusUnauthorized:
			return model.ErrSessionExpired
		case http.StatusForbidden:
			return model.ErrForbidden
		case http.StatusNotFound:
			return model.ErrNotFound
		case http.StatusBadRequest:
			return model.ErrValidation
		}
	}

	// 5xx and anything unexpected: the service could not be used.
	return model.ErrNetwork
}
