package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jun/docshare/internal/app"
	"github.com/jun/docshare/internal/config"
	"github.com/jun/docshare/internal/logging"
)

func main() {
	cfg, err := config.Load("", os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.LogLevel)

	handler, err := app.NewPreview(context.Background(), cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	lambda.Start(handler.HandleRequest)
}
