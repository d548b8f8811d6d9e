// Package awssm issues database credentials stored in AWS Secrets Manager.
//
// A role names a secret whose value is a JSON document with at least
// "username" and "password", the layout RDS-managed and rotation-lambda
// secrets use. Secrets Manager has no leases, so the lease duration comes
// from configuration and bounds how long a lease manager trusts one version
// before fetching again.
package awssm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	"github.com/systmms/leasekeeper/pkg/provider"
)

const (
	// ProviderName is used when Config.Name is empty.
	ProviderName = "aws-secretsmanager"

	DefaultRegion = "us-east-1"
)

// SecretsManagerAPI is the subset of the Secrets Manager client the provider
// calls. Tests substitute a fake.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Config configures the provider.
type Config struct {
	Name   string `yaml:"name"`
	Region string `yaml:"region"`

	// Endpoint overrides the service endpoint (LocalStack).
	Endpoint string `yaml:"endpoint"`

	// Static keys are for local testing only; the default chain is used otherwise.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// SecretPrefix is prepended to the role to form the secret id.
	SecretPrefix string `yaml:"secret_prefix"`

	// VersionStage selects a staging label, AWSCURRENT when empty.
	VersionStage string `yaml:"version_stage"`

	// LeaseDuration is reported for every credential set. Zero means
	// provider.DefaultLeaseDuration.
	LeaseDuration time.Duration `yaml:"lease_duration"`
}

// Provider implements provider.CredentialProvider over Secrets Manager.
type Provider struct {
	cfg    Config
	client SecretsManagerAPI
}

var _ provider.CredentialProvider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithClient sets a custom Secrets Manager client.
func WithClient(client SecretsManagerAPI) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// New creates a provider. Without WithClient it loads the default AWS
// configuration chain for the region.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = ProviderName
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = provider.DefaultLeaseDuration
	}

	p := &Provider{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.client != nil {
		return p, nil
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*secretsmanager.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	p.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
	return p, nil
}

// Name returns the configured provider name.
func (p *Provider) Name() string {
	return p.cfg.Name
}

// SecretID returns the secret id read for role.
func (p *Provider) SecretID(role string) string {
	return p.cfg.SecretPrefix + role
}

// secretDocument is the JSON layout of a database secret.
type secretDocument struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Engine   string `json:"engine,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     any    `json:"port,omitempty"`
	DBName   string `json:"dbname,omitempty"`
}

// FetchCredentials reads the secret for role and decodes it.
func (p *Provider) FetchCredentials(ctx context.Context, role string) (provider.Credentials, error) {
	secretID := p.SecretID(role)

	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretID)}
	if p.cfg.VersionStage != "" {
		input.VersionStage = aws.String(p.cfg.VersionStage)
	}

	out, err := p.client.GetSecretValue(ctx, input)
	if err != nil {
		return provider.Credentials{}, p.handleError(err, secretID)
	}

	var raw []byte
	switch {
	case out.SecretString != nil:
		raw = []byte(*out.SecretString)
	case out.SecretBinary != nil:
		raw = out.SecretBinary
	default:
		return provider.Credentials{}, fmt.Errorf("secret '%s' has no value", secretID)
	}

	var doc secretDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return provider.Credentials{}, fmt.Errorf("secret '%s' is not a JSON credential document: %w", secretID, err)
	}
	if doc.Username == "" || doc.Password == "" {
		return provider.Credentials{}, fmt.Errorf("secret '%s' is missing username or password", secretID)
	}

	metadata := map[string]string{
		"source": "aws-secretsmanager:" + secretID,
		"region": p.cfg.Region,
	}
	if out.VersionId != nil {
		metadata["version_id"] = *out.VersionId
	}
	if doc.Engine != "" {
		metadata["engine"] = doc.Engine
	}
	if doc.Host != "" {
		metadata["host"] = doc.Host
	}
	if port := portString(doc.Port); port != "" {
		metadata["port"] = port
	}
	if doc.DBName != "" {
		metadata["database"] = doc.DBName
	}

	var leaseID string
	if out.ARN != nil {
		leaseID = *out.ARN
		if out.VersionId != nil {
			leaseID += ":" + *out.VersionId
		}
	}

	return provider.Credentials{
		Username:      doc.Username,
		Password:      doc.Password,
		LeaseID:       leaseID,
		LeaseDuration: p.cfg.LeaseDuration,
		Metadata:      metadata,
	}, nil
}

// portString accepts the port as a JSON number or string.
func portString(v any) string {
	switch p := v.(type) {
	case float64:
		return strconv.Itoa(int(p))
	case string:
		return p
	default:
		return ""
	}
}

// handleError maps AWS errors onto the provider error types.
func (p *Provider) handleError(err error, secretID string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return provider.NotFoundError{Provider: p.cfg.Name, Key: secretID}
	}
	if isAuthError(err) {
		return provider.AuthError{
			Provider: p.cfg.Name,
			Message:  fmt.Sprintf("AWS authentication/authorization failed for %s", secretID),
			Err:      err,
		}
	}
	return fmt.Errorf("AWS Secrets Manager error: %w", err)
}

var authErrorCodes = map[string]bool{
	"AccessDeniedException":       true,
	"UnrecognizedClientException": true,
	"InvalidSignatureException":   true,
	"ExpiredTokenException":       true,
	"UnauthorizedOperation":       true,
}

func isAuthError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authErrorCodes[apiErr.ErrorCode()] {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "AccessDenied") ||
		strings.Contains(errStr, "Forbidden")
}
