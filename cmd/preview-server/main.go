// preview-server runs the shared-document preview handler behind a plain
// HTTP listener for local development.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/pflag"

	"github.com/jun/docshare/internal/app"
	"github.com/jun/docshare/internal/config"
	"github.com/jun/docshare/internal/logging"
	"github.com/jun/docshare/internal/preview"
)

func main() {
	addr := pflag.String("addr", ":8080", "listen address")
	configPath := pflag.String("config", "", "path to a YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(os.Stderr, cfg.LogLevel)

	handler, err := app.NewPreview(context.Background(), cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	log.Info("starting local preview server", "addr", *addr)
	if err := http.ListenAndServe(*addr, preview.HTTPHandler(handler)); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
