// Package secretsmanager fetches gMSA credential blobs from AWS Secrets
// Manager by name.
package secretsmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
)

// Secret is the JSON shape stored for a gMSA account: distinguishedName,
// username, and password. Missing keys decode to empty strings, not errors.
type Secret struct {
	DistinguishedName string `json:"distinguishedName"`
	Username          string `json:"username"`
	Password          string `json:"password"`
}

// API is the subset of the Secrets Manager client this package needs,
// satisfied by *secretsmanager.Client and swappable in tests.
type API interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Client fetches secrets by name.
type Client struct {
	api API
}

// New builds a Client using the default AWS credential chain and region
// resolution (environment, shared config, EC2/ECS instance role).
func New(ctx context.Context) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading AWS config: %v", cferrors.ErrSecretsStoreFailure, err)
	}
	return &Client{api: secretsmanager.NewFromConfig(cfg)}, nil
}

// NewWithAPI builds a Client around a caller-provided API implementation,
// for tests.
func NewWithAPI(api API) *Client {
	return &Client{api: api}
}

// Fetch retrieves and JSON-decodes the named secret. If the secret does not
// exist or has no value, Fetch returns (nil, nil) rather than an error,
// matching the CLI-shell-out contract's "absence of the whole object returns
// null" behavior.
func (c *Client) Fetch(ctx context.Context, secretName string) (*Secret, error) {
	out, err := c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretName,
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: fetching secret %s: %v", cferrors.ErrSecretsStoreFailure, secretName, err)
	}
	if out == nil || out.SecretString == nil || *out.SecretString == "" {
		return nil, nil
	}

	var s Secret
	if err := json.Unmarshal([]byte(*out.SecretString), &s); err != nil {
		return nil, fmt.Errorf("%w: parsing secret %s: %v", cferrors.ErrParseFailure, secretName, err)
	}
	return &s, nil
}
