// Package secret resolves named secrets, such as the passphrase protecting the
// native credential file, from SSM Parameter Store or the environment.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrNotFound is returned when no backend knows the requested secret.
var ErrNotFound = errors.New("secret not found")

// Resolver retrieves secret values by name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type ssmResolver struct {
	client SSMClient
}

// NewSSMResolver returns a Resolver reading SecureString parameters.
func NewSSMResolver(client SSMClient) Resolver {
	return &ssmResolver{client: client}
}

func (r *ssmResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm parameter %q: %w", name, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("ssm parameter %q: %w", name, ErrNotFound)
	}
	return aws.ToString(out.Parameter.Value), nil
}

type envResolver struct {
	lookup func(string) (string, bool)
}

// NewEnvResolver returns a Resolver reading environment variables. A parameter
// path such as "/docshare/credential-passphrase" maps to
// DOCSHARE_CREDENTIAL_PASSPHRASE.
func NewEnvResolver() Resolver {
	return &envResolver{lookup: os.LookupEnv}
}

func (r *envResolver) GetSecret(_ context.Context, name string) (string, error) {
	key := EnvName(name)
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("env %s (for %q): %w", key, name, ErrNotFound)
	}
	return v, nil
}

// EnvName converts a parameter path to an environment variable name.
func EnvName(name string) string {
	name = strings.Trim(name, "/")
	name = strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name)
	return strings.ToUpper(name)
}

// Chain tries each resolver in order and returns the first value found.
type Chain []Resolver

func (c Chain) GetSecret(ctx context.Context, name string) (string, error) {
	var errs []error
	for _, r := range c {
		v, err := r.GetSecret(ctx, name)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return "", errors.Join(errs...)
}
