// Package app wires configuration into the docshare client components.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/jun/docshare/internal/api"
	"github.com/jun/docshare/internal/config"
	"github.com/jun/docshare/internal/credstore"
	"github.com/jun/docshare/internal/crypto"
	"github.com/jun/docshare/internal/document"
	"github.com/jun/docshare/internal/markdown"
	"github.com/jun/docshare/internal/preview"
	"github.com/jun/docshare/internal/secret"
	"github.com/jun/docshare/internal/session"
	"github.com/jun/docshare/internal/share"
)

// App holds the wired client components.
type App struct {
	Config    config.Config
	Log       *slog.Logger
	Store     credstore.Store
	Session   *session.Manager
	Documents *document.Repository
	Shares    *share.Service
	Renderer  *markdown.Renderer
}

// New opens the credential store selected by cfg, restores any persisted
// session and wires the repositories.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	l := &loader{cfg: cfg, log: log}
	store, err := l.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return Wire(ctx, cfg, store, &http.Client{Timeout: cfg.API.Timeout}, log)
}

// Wire builds an App on an already opened store.
func Wire(ctx context.Context, cfg config.Config, store credstore.Store, hc *http.Client, log *slog.Logger) (*App, error) {
	client := api.New(cfg.API.BaseURL, hc, log)
	mgr := session.NewManager(store, client, log)
	authed := client.WithTokenSource(mgr)

	restored, err := mgr.Restore(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	log.DebugContext(ctx, "startup", "store", cfg.StoreTarget(), "session_restored", restored)

	return &App{
		Config:    cfg,
		Log:       log,
		Store:     store,
		Session:   mgr,
		Documents: document.NewRepository(authed, mgr, log),
		Shares:    share.NewService(authed, mgr, cfg.API.WebURL, log),
		Renderer:  markdown.NewRenderer(),
	}, nil
}

// NewPreview builds the shared-document preview handler. It holds no
// credentials; share tokens are redeemed anonymously.
func NewPreview(ctx context.Context, cfg config.Config, log *slog.Logger) (*preview.Handler, error) {
	l := &loader{cfg: cfg, log: log}
	client := api.New(cfg.API.BaseURL, &http.Client{Timeout: cfg.API.Timeout}, log)
	shares := share.NewService(client, nil, cfg.API.WebURL, log)

	opts := preview.Options{AllowOrigin: cfg.API.WebURL}
	if param := cfg.Preview.OriginSecretParam; param != "" {
		v, err := l.resolver(ctx).GetSecret(ctx, param)
		if err != nil {
			return nil, fmt.Errorf("resolve origin secret: %w", err)
		}
		opts.OriginSecret = v
	}
	return preview.NewHandler(shares, markdown.NewRenderer(), opts, log), nil
}

// loader loads the AWS configuration at most once, and only for the
// components that need it.
type loader struct {
	cfg    config.Config
	log    *slog.Logger
	aws    *aws.Config
	awsErr error
}

func (l *loader) awsConfig(ctx context.Context) (aws.Config, error) {
	if l.aws == nil && l.awsErr == nil {
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			l.awsErr = fmt.Errorf("load AWS config: %w", err)
		} else {
			l.aws = &c
		}
	}
	if l.awsErr != nil {
		return aws.Config{}, l.awsErr
	}
	return *l.aws, nil
}

// resolver looks in the environment first, then in SSM Parameter Store when
// AWS configuration is available.
func (l *loader) resolver(ctx context.Context) secret.Resolver {
	chain := secret.Chain{secret.NewEnvResolver()}
	if c, err := l.awsConfig(ctx); err == nil {
		chain = append(chain, secret.NewSSMResolver(ssm.NewFromConfig(c)))
	} else {
		l.log.DebugContext(ctx, "SSM unavailable", "error", err)
	}
	return chain
}

func (l *loader) openStore(ctx context.Context) (credstore.Store, error) {
	target := l.cfg.StoreTarget()
	opts := credstore.Options{Target: target}

	switch target {
	case credstore.TargetNative:
		param := l.cfg.Credentials.PassphraseParam
		passphrase, err := l.resolver(ctx).GetSecret(ctx, param)
		if err != nil {
			return nil, fmt.Errorf("credential passphrase (set %s or SSM parameter %s): %w",
				secret.EnvName(param), param, err)
		}
		enc, err := crypto.NewAgeEncryptor(passphrase)
		if err != nil {
			return nil, err
		}
		opts.Path = l.cfg.Credentials.Path
		opts.Encryptor = enc

	case credstore.TargetServerless:
		c, err := l.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		if l.cfg.Environment == "development" {
			l.log.InfoContext(ctx, "using mock encryptor for credentials", "environment", l.cfg.Environment)
			opts.Encryptor = crypto.NewMockEncryptor()
		} else {
			opts.Encryptor = crypto.NewKMSService(kms.NewFromConfig(c), l.cfg.Credentials.KMSKeyID)
		}
		opts.Dynamo = dynamodb.NewFromConfig(c)
		opts.Table = l.cfg.Credentials.Table
		opts.Principal = l.cfg.Credentials.Principal
	}

	store, err := credstore.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return store, nil
}
