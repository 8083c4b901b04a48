// docshare is a command-line client for the document service: it logs in,
// manages documents and collaborators, and creates and opens share links.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/jun/docshare/internal/app"
	"github.com/jun/docshare/internal/config"
	"github.com/jun/docshare/internal/logging"
	"github.com/jun/docshare/internal/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, os.Args[1:], env{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr, getenv: os.Getenv})
	stop()
	os.Exit(code)
}

// env is the process surroundings a command runs in.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	// open builds the application; tests replace it.
	open func(ctx context.Context, cfg config.Config) (*app.App, error)
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app.App, e env, args []string) error
}

var commands = []command{
	{"register", "Create an account", runRegister},
	{"login", "Log in and store the session", runLogin},
	{"logout", "Forget the stored session", runLogout},
	{"whoami", "Show the logged-in user", runWhoami},
	{"list", "List documents you own or collaborate on", runList},
	{"create", "Create a text or checklist document", runCreate},
	{"get", "Show a document", runGet},
	{"update", "Change a document's title or content", runUpdate},
	{"check", "Toggle an item of a checklist document", runCheck},
	{"delete", "Delete a document you own", runDelete},
	{"invite", "Invite a collaborator to a document you own", runInvite},
	{"share", "Send a share link for a document you own", runShare},
	{"open", "Open a share link without logging in", runOpen},
	{"export", "Download a document as PDF or DOCX", runExport},
}

func run(ctx context.Context, args []string, e env) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(e.stderr)
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(e.stderr, "error: unknown command %q\n\n", args[0])
		printUsage(e.stderr)
		return 2
	}

	// Global flags may appear anywhere; unknown flags are left to the command.
	global := pflag.NewFlagSet("docshare", pflag.ContinueOnError)
	global.ParseErrorsWhitelist.UnknownFlags = true
	global.SetOutput(io.Discard)
	configPath := global.String("config", "", "path to a YAML config file")
	logLevel := global.String("log-level", "", "log level (debug, info, warn, error)")
	global.BoolP("help", "h", false, "")
	_ = global.Parse(args[1:])

	cfg, err := config.Load(*configPath, e.getenv)
	if err != nil {
		fmt.Fprintf(e.stderr, "error: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log := logging.New(e.stderr, cfg.LogLevel)
	ctx = logging.With(ctx, log)

	open := e.open
	if open == nil {
		open = func(ctx context.Context, cfg config.Config) (*app.App, error) {
			return app.New(ctx, cfg, log)
		}
	}
	a, err := open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(e.stderr, "error: %v\n", err)
		return 1
	}

	if err := cmd.run(ctx, a, e, stripGlobal(args[1:])); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(e.stderr, "error: %s\n", describe(err))
		return 1
	}
	return 0
}

// stripGlobal removes --config and --log-level so commands can parse strictly.
func stripGlobal(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--config" || a == "--log-level":
			i++
		case len(a) > 9 && a[:9] == "--config=":
		case len(a) > 12 && a[:12] == "--log-level=":
		default:
			out = append(out, a)
		}
	}
	return out
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: docshare <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nGlobal flags:\n  --config PATH      YAML config file (default $DOCSHARE_CONFIG)\n  --log-level LEVEL  debug, info, warn or error\n")
	fmt.Fprintf(w, "\nRun 'docshare <command> --help' for command flags.\n")
}

// describe turns a taxonomy error into a message for the terminal.
func describe(err error) string {
	switch model.Kind(err) {
	case model.ErrSessionExpired:
		return "you are not logged in or your session has expired; run 'docshare login'"
	case model.ErrInvalidCredentials:
		return "incorrect email or password"
	case model.ErrNetwork:
		return "could not reach the document service: " + err.Error()
	case model.ErrInvalidOrExpiredToken:
		return "this share link is invalid or has expired"
	}
	return err.Error()
}
