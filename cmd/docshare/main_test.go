package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jun/docshare/internal/apitest"
	"github.com/jun/docshare/internal/app"
	"github.com/jun/docshare/internal/config"
	"github.com/jun/docshare/internal/credstore"
	"github.com/jun/docshare/internal/logging"
)

type harness struct {
	t     *testing.T
	srv   *apitest.Server
	store *credstore.MemoryStore
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, srv: apitest.New(t), store: credstore.NewMemoryStore()}
}

// exec runs one CLI invocation. The credential store outlives invocations,
// as the encrypted file does in real use.
func (h *harness) exec(stdin string, args ...string) (int, string, string) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	vars := map[string]string{
		"DOCSHARE_API_URL": h.srv.BaseURL(),
		"DOCSHARE_STORE":   "memory",
	}
	code := run(context.Background(), args, env{
		stdin:  strings.NewReader(stdin),
		stdout: &stdout,
		stderr: &stderr,
		getenv: func(k string) string { return vars[k] },
		open: func(ctx context.Context, cfg config.Config) (*app.App, error) {
			return app.Wire(ctx, cfg, h.store, h.srv.Client(), logging.Discard())
		},
	})
	return code, stdout.String(), stderr.String()
}

func (h *harness) ok(stdin string, args ...string) string {
	h.t.Helper()
	code, out, errOut := h.exec(stdin, args...)
	if code != 0 {
		h.t.Fatalf("docshare %s: exit %d\n%s", strings.Join(args, " "), code, errOut)
	}
	return out
}

func TestWorkflow(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("b@x.com", "b", "secret1")

	h.ok("secret1\n", "register", "--email", "a@x.com", "--username", "a")
	h.ok("", "login", "--email", "a@x.com", "--password", "secret1")

	if out := h.ok("", "whoami"); !strings.Contains(out, "a@x.com") {
		t.Errorf("whoami = %q", out)
	}
	if out := h.ok("", "list"); !strings.Contains(out, "No documents") {
		t.Errorf("list = %q", out)
	}

	out := h.ok("", "create", "--title", "Groceries", "--checklist", "--category", "Дом", "--item", "milk", "--item", "[x] bread")
	if !strings.Contains(out, "Created document 1") {
		t.Fatalf("create = %q", out)
	}

	h.ok("", "check", "1", "1")
	out = h.ok("", "get", "1")
	for _, want := range []string{"[x] milk", "[x] bread", "You can: read, write, invite, removeCollaborator, delete, export"} {
		if !strings.Contains(out, want) {
			t.Errorf("get missing %q:\n%s", want, out)
		}
	}
	if out := h.ok("", "get", "1", "--html"); !strings.Contains(out, "type=\"checkbox\"") {
		t.Errorf("get --html = %q", out)
	}

	if out := h.ok("", "invite", "1", "--email", "b@x.com", "--role", "edit"); !strings.Contains(out, "b@x.com with edit access") {
		t.Errorf("invite = %q", out)
	}

	out = h.ok("", "share", "1", "--email", "b@x.com")
	url := strings.TrimSpace(out[strings.LastIndex(out, " "):])
	if !strings.Contains(url, "/shared-document/") {
		t.Fatalf("share = %q", out)
	}

	dir := t.TempDir()
	target := filepath.Join(dir, "out.pdf")
	h.ok("", "export", "1", "--format", "pdf", "-o", target)
	if b, err := os.ReadFile(target); err != nil || !bytes.HasPrefix(b, []byte("%PDF")) {
		t.Errorf("export wrote %q, %v", b, err)
	}

	h.ok("", "logout")
	if code, _, errOut := h.exec("", "list"); code != 1 || !strings.Contains(errOut, "docshare login") {
		t.Errorf("list after logout: exit %d, %q", code, errOut)
	}

	if out := h.ok("", "open", url); !strings.Contains(out, "# Groceries") {
		t.Errorf("open = %q", out)
	}
}

func TestErrors(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("a@x.com", "a", "secret1")

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"no command", nil, 2, "Usage: docshare"},
		{"unknown command", []string{"frobnicate"}, 2, `unknown command "frobnicate"`},
		{"bad password", []string{"login", "--email", "a@x.com", "--password", "nope"}, 1, "incorrect email or password"},
		{"not logged in", []string{"list"}, 1, "docshare login"},
		{"missing id", []string{"get"}, 1, "usage: docshare get ID"},
		{"bad share token", []string{"open", "00000000-0000-0000-0000-000000000000"}, 1, "invalid or has expired"},
		{"bad export format", []string{"export", "7", "--format", "odt"}, 1, `Format must be "pdf" or "docx"`},
		{"bad config", []string{"list", "--config", "/does/not/exist.yaml"}, 1, "read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := h.exec("", tt.args...)
			if code != tt.code {
				t.Errorf("exit = %d, want %d", code, tt.code)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("stderr = %q, want substring %q", errOut, tt.want)
			}
		})
	}
}

func TestStripGlobal(t *testing.T) {
	got := stripGlobal([]string{"1", "--config", "c.yaml", "--log-level=debug", "--html"})
	if strings.Join(got, " ") != "1 --html" {
		t.Errorf("stripGlobal = %v", got)
	}
}
