// Package provider defines the contract between leasekeeper and the remote
// services that issue short-lived credentials.
//
// A CredentialProvider turns a role name into a set of credentials plus the
// duration of the lease they were granted under. The lease manager in
// pkg/lease refreshes credentials through this interface; it never talks to
// Vault, AWS, or any other service directly.
//
// # Implementing a Provider
//
//	type MyProvider struct{ client *myclient.Client }
//
//	func (p *MyProvider) Name() string { return "my-provider" }
//
//	func (p *MyProvider) FetchCredentials(ctx context.Context, role string) (Credentials, error) {
//	    resp, err := p.client.Issue(ctx, role)
//	    if err != nil {
//	        return Credentials{}, err
//	    }
//	    return Credentials{
//	        Username:      resp.User,
//	        Password:      resp.Pass,
//	        LeaseDuration: resp.TTL,
//	    }, nil
//	}
//
// # Error Handling
//
// Providers should return NotFoundError when the role does not exist upstream
// and AuthError when authenticating to the upstream service fails. Any other
// error is propagated unchanged to the caller that triggered the fetch.
//
// # Threading and Concurrency
//
// Implementations must be safe for concurrent use. A background refresher and
// foreground callers may fetch at the same time.
package provider

import (
	"context"
	"errors"
	"time"
)

// DefaultLeaseDuration is assumed when a source grants credentials without
// reporting a lease duration.
const DefaultLeaseDuration = time.Hour

// CredentialProvider issues credentials for a role.
type CredentialProvider interface {
	// Name returns a stable identifier used in logs, metrics and errors.
	Name() string

	// FetchCredentials returns a fresh set of credentials for role. Every call
	// may create a new upstream lease.
	FetchCredentials(ctx context.Context, role string) (Credentials, error)
}

// Credentials is one issued credential set. It is replaced wholesale on every
// refresh and never persisted.
type Credentials struct {
	Username string
	Password string

	// LeaseID identifies the upstream lease, if the source has one.
	LeaseID string

	// LeaseDuration is how long the credentials are valid from issue time.
	LeaseDuration time.Duration

	// Renewable reports whether the upstream lease could be extended.
	Renewable bool

	// Metadata carries source-specific details (rotation period, source path).
	Metadata map[string]string
}

// EffectiveLeaseDuration returns LeaseDuration, or DefaultLeaseDuration when
// the source did not report one.
func (c Credentials) EffectiveLeaseDuration() time.Duration {
	if c.LeaseDuration <= 0 {
		return DefaultLeaseDuration
	}
	return c.LeaseDuration
}

// NotFoundError indicates that a requested role or secret does not exist in
// the provider. It is surfaced to the caller and never retried automatically.
type NotFoundError struct {
	// Provider is the name of the provider where the secret was not found.
	Provider string

	// Key is the role or secret path that could not be found.
	Key string
}

// Error implements the error interface.
func (e NotFoundError) Error() string {
	return "secret not found: " + e.Key + " in " + e.Provider
}

// AuthError indicates that authentication to the provider failed.
//
// This error should be returned when:
//   - Login credentials (AppRole, token, keys) are rejected
//   - A cached token expired and re-authentication failed
//   - The provider denies access to the requested role
type AuthError struct {
	// Provider is the name of the provider that failed authentication.
	Provider string

	// Message provides details about the authentication failure.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e AuthError) Error() string {
	return "authentication failed for " + e.Provider + ": " + e.Message
}

// Unwrap returns the underlying error.
func (e AuthError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err or anything it wraps is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsAuth reports whether err or anything it wraps is an AuthError.
func IsAuth(err error) bool {
	var ae AuthError
	return errors.As(err, &ae)
}
