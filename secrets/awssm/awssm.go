// Package awssm provides an AWS Secrets Manager secrets provider.
package awssm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	sm "github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/browserq/browserq/secrets"
)

// Client is the subset of the Secrets Manager API the provider uses.
// *secretsmanager.Client from aws-sdk-go-v2 satisfies it.
type Client interface {
	GetSecretValue(ctx context.Context, params *sm.GetSecretValueInput, optFns ...func(*sm.Options)) (*sm.GetSecretValueOutput, error)
}

// Provider resolves secrets by ARN or name from AWS Secrets Manager.
type Provider struct {
	client Client
}

var _ secrets.Provider = (*Provider)(nil)

// New creates a Provider backed by the given Secrets Manager client.
func New(client Client) *Provider {
	return &Provider{client: client}
}

// Get fetches the secret string for the given ARN or name. Binary
// secrets are rejected.
func (p *Provider) Get(ctx context.Context, name string) (string, error) {
	out, err := p.client.GetSecretValue(ctx, &sm.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}
	return aws.ToString(out.SecretString), nil
}
