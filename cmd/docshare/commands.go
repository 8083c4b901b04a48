package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/jun/docshare/internal/app"
	"github.com/jun/docshare/internal/checklist"
	"github.com/jun/docshare/internal/document"
	"github.com/jun/docshare/internal/model"
	"github.com/jun/docshare/internal/policy"
	"github.com/jun/docshare/internal/share"
)

func flags(name string, e env) *pflag.FlagSet {
	fs := pflag.NewFlagSet("docshare "+name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

// positional parses fs and requires exactly n positional arguments.
func positional(fs *pflag.FlagSet, args []string, n int, usage string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != n {
		return nil, fmt.Errorf("usage: %s %s", fs.Name(), usage)
	}
	return fs.Args(), nil
}

// password returns the flag value or reads one line from stdin.
func password(flagValue string, e env) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	line, err := bufio.NewReader(e.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runRegister(ctx context.Context, a *app.App, e env, args []string) error {
	fs := flags("register", e)
	email := fs.String("email", "", "account email")
	username := fs.String("username", "", "account username")
	pw := fs.String("password", "", "password (read from stdin when omitted)")
	if _, err := positional(fs, args, 0, "--email EMAIL --username NAME [--password PASSWORD]"); err != nil {
		return err
	}
	secret, err := password(*pw, e)
	if err != nil {
		return err
	}
	if err := a.Session.Register(ctx, *email, *username, secret); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Registered %s. Run 'docshare login' to start a session.\n", *email)
	return nil
}

func runLogin(ctx context.Context, a *app.App, e env, args []string) error {
	fs := flags("login", e)
	email := fs.String("email", "", "account email")
	pw := fs.String("password", "", "password (read from stdin when omitted)")
	if _, err := positional(fs, args, 0, "--email EMAIL [--password PASSWORD]"); err != nil {
		return err
	}
	secret, err := password(*pw, e)
	if err != nil {
		return err
	}
	if _, err := a.Session.Login(ctx, *email, secret); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Logged in as %s.\n", *email)
	return nil
}

func runLogout(ctx context.Context, a *app.App, e env, args []string) error {
	if _, err := positional(flags("logout", e), args, 0, ""); err != nil {
		return err
	}
	a.Session.Logout(ctx)
	fmt.Fprintln(e.stdout, "Logged out.")
	return nil
}

func runWhoami(ctx context.Context, a *app.App, e env, args []string) error {
	if _, err := positional(flags("whoami", e), args, 0, ""); err != nil {
		return err
	}
	id, ok := a.Session.Identity(ctx)
	if !ok {
		return model.ErrSessionExpired
	}
	fmt.Fprintf(e.stdout, "%s (user %s)\n", id.Email, id.UserID)
	return nil
}

func runList(ctx context.Context, a *app.App, e env, args []string) error {
	fs := flags("list", e)
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := positional(fs, args, 0, "[--json]"); err != nil {
		return err
	}
	docs, err := a.Documents.List(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(e.stdout, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(e.stdout, "No documents.")
		return nil
	}
	me, _ := a.Session.Identity(ctx)
	for _, d := range docs {
		role := "owner"
		if !strings.EqualFold(d.OwnerEmail, me.Email) {
			role = "shared by " + d.OwnerEmail
		}
		fmt.Fprintf(e.stdout, "%s\t%s\t(%s)\n", d.ID, d.Title, role)
	}
	return nil
}

func runCreate(ctx context.Context, a *app.App, e env, args []string) error {
	fs := flags("create", e)
	title := fs.String("title", "", "document title")
	content := fs.String("content", "", "document text")
	isChecklist := fs.Bool("checklist", false, "create a checklist document")
	category := fs.String("category", checklist.DefaultCategory, "checklist category")
	items := fs.StringArray("item", nil, "checklist item; prefix with [x] for a done item (repeatable)")
	if _, err := positional(fs, args, 0, "--title TITLE [--content TEXT | --checklist --item TASK...]"); err != nil {
		return err
	}

	body := *content
	if *isChecklist {
		l := checklist.List{Category: *category}
		for _, it := range *items {
			text, done := strings.CutPrefix(it, "[x]")
			l.Items = append(l.Items, checklist.Item{Text: strings.TrimSpace(text), Done: done})
		}
		if len(l.Items) == 0 {
			l.Items = []checklist.Item{{}}
		}
		body = checklist.Compose(l)
	}

	d, err := a.Documents.Create(ctx, *title, body)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Created document %s.\n", d.ID)
	return nil
}

func runGet(ctx context.Context, a *app.App, e env, args []string) error {
	fs := flags("get", e)
	asHTML := fs.Bool("html", false, "render the content as HTML")
	asJSON := fs.Bool("json", false, "print JSON")
	pos, err := positional(fs, args, 1, "ID [--html | --json]")
	if err != nil {
		return err
	}
	d, err := a.Documents.Get(ctx, pos[0])
	if err != nil {
		return err
	}

	switch {
	case *asJSON:
		return printJSON(e.stdout, d)
	case *asHTML:
		out, err := a.Renderer.RenderDocument(d.Content)
		if err != nil {
			return err
		}
		_, err = e.stdout.Write(out)
		return err
	}

	fmt.Fprintf(e.stdout, "# %s\n\n%s\n\n", d.Title, d.Content)
	fmt.Fprintf(e.stdout, "Owner: %s\n", d.OwnerEmail)
	for _, c := range d.Collaborators {
		fmt.Fprintf(e.stdout, "Collaborator: %s (%s)\n", c.UserRef, c.Role)
	}
	fmt.Fprintf(e.stdout, "You can: %s\n", joinActions(a.Documents.Permissions(ctx, d)))
	return nil
}

func joinActions(actions []policy.Action) string {
	parts := make([]string, len(actions))
	for i, act := range actions {
		parts[i] = string(act)
	}
	return strings.Join(parts, ", ")
}

func runUpdate(ctx context.Context, a *app.App, e env, args []string) error {
	fs := flags("update", e)
	title := fs.String("title", "", "new title (unchanged when omitted)")
	content := fs.String("content", "", "new content")
	pos, err := positional(fs, args, 1, "ID [--title TITLE] [--content TEXT]")
	if err != nil {
		return err
	}
	d, err := a.Documents.Get(ctx, pos[0])
	if err != nil {
		return err
	}
	if fs.Changed("title") {
		d.Title = *title
	}
	if fs.Changed("content") {
		d.Content = *content
	}
	if _, err := a.Documents.Update(ctx, d.ID, d.Title, d.Content); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Updated document %s.\n", d.ID)
	return nil
}

func runCheck(ctx context.Context, a *app.App, e env, args []string) error {
	pos, err := positional(flags("check", e), args, 2, "ID ITEM")
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(pos[1])
	if err != nil || n < 1 {
		return model.Invalid("item", "Item must be a positive number.")
	}
	d, err := a.Documents.Get(ctx, pos[0])
	if err != nil {
		return err
	}
	content, err := checklist.Toggle(d.Content, n-1)
	if err != nil {
		return err
	}
	if _, err := a.Documents.Update(ctx, d.ID, d.Title, content); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Toggled item %d of document %s.\n", n, d.ID)
	return nil
}

func runDelete(ctx context.Context, a *app.App, e env, args []string) error {
	pos, err := positional(flags("delete", e), args, 1, "ID")
	if err != nil {
		return err
	}
	if err := a.Documents.Delete(ctx, pos[0]); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Deleted document %s.\n", pos[0])
	return nil
}

func runInvite(ctx context.Context, a *app.App, e env, args []string) error {
	fs := flags("invite", e)
	email := fs.String("email", "", "collaborator email")
	role := fs.String("role", string(model.RoleView), "view or edit")
	pos, err := positional(fs, args, 1, "ID --email EMAIL [--role view|edit]")
	if err != nil {
		return err
	}
	c, err := a.Documents.InviteCollaborator(ctx, pos[0], *email, model.Role(*role))
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Invited %s with %s access.\n", c.UserRef, c.Role)
	return nil
}

func runShare(ctx context.Context, a *app.App, e env, args []string) error {
	fs := flags("share", e)
	email := fs.String("email", "", "recipient email")
	pos, err := positional(fs, args, 1, "ID --email EMAIL")
	if err != nil {
		return err
	}
	link, err := a.Shares.CreateShareLink(ctx, pos[0], *email)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Shared with %s: %s\n", link.Recipient, link.URL)
	return nil
}

func runOpen(ctx context.Context, a *app.App, e env, args []string) error {
	fs := flags("open", e)
	asHTML := fs.Bool("html", false, "render the content as HTML")
	pos, err := positional(fs, args, 1, "TOKEN|URL [--html]")
	if err != nil {
		return err
	}
	sum, err := a.Shares.ResolveShareToken(ctx, share.TokenFromURL(pos[0]))
	if err != nil {
		return err
	}
	if *asHTML {
		out, err := a.Renderer.RenderDocument(sum.Content)
		if err != nil {
			return err
		}
		_, err = e.stdout.Write(out)
		return err
	}
	fmt.Fprintf(e.stdout, "# %s\n\n%s\n", sum.Title, sum.Content)
	return nil
}

func runExport(ctx context.Context, a *app.App, e env, args []string) error {
	fs := flags("export", e)
	format := fs.String("format", string(model.FormatPDF), "pdf or docx")
	output := fs.StringP("output", "o", "", "file to write (default: named after the title)")
	pos, err := positional(fs, args, 1, "ID [--format pdf|docx] [-o FILE]")
	if err != nil {
		return err
	}
	f := model.ExportFormat(*format)
	if !f.Valid() {
		return model.Invalid("format", `Format must be "pdf" or "docx".`)
	}

	path := *output
	if path == "" {
		d, err := a.Documents.Get(ctx, pos[0])
		if err != nil {
			return err
		}
		path = document.ExportFilename(d.Title, f)
	}

	rc, err := a.Documents.ExportAs(ctx, pos[0], f)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".docshare-export-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, rc)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &model.Error{Kind: model.ErrExportFailed, Detail: err.Error()}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Wrote %s (%d bytes).\n", path, n)
	return nil
}
