package provider

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// FakeCredentialProvider is an in-memory CredentialProvider for tests. Each
// fetch returns a new username so callers can tell successive leases apart.
type FakeCredentialProvider struct {
	mu sync.Mutex

	ProviderName  string
	LeaseDuration time.Duration
	// Roles limits the known roles. Empty means every role exists.
	Roles map[string]bool
	// Errors are returned by successive fetches before falling back to success.
	Errors []error
	// Delay is slept (honouring ctx) before each fetch.
	Delay time.Duration

	calls   int
	fetched []Credentials
}

// NewFakeCredentialProvider returns a fake that grants leases of the given duration.
func NewFakeCredentialProvider(lease time.Duration) *FakeCredentialProvider {
	return &FakeCredentialProvider{
		ProviderName:  "fake",
		LeaseDuration: lease,
	}
}

// Name returns the provider name.
func (f *FakeCredentialProvider) Name() string {
	return f.ProviderName
}

// FetchCredentials issues a new credential set for role.
func (f *FakeCredentialProvider) FetchCredentials(ctx context.Context, role string) (Credentials, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if len(f.Errors) > 0 {
		err := f.Errors[0]
		f.Errors = f.Errors[1:]
		if err != nil {
			return Credentials{}, err
		}
	}

	if len(f.Roles) > 0 && !f.Roles[role] {
		return Credentials{}, NotFoundError{Provider: f.ProviderName, Key: role}
	}

	creds := Credentials{
		Username:      fmt.Sprintf("v-%s-%d", role, f.calls),
		Password:      fmt.Sprintf("pw-%d", f.calls),
		LeaseID:       fmt.Sprintf("database/creds/%s/%d", role, f.calls),
		LeaseDuration: f.LeaseDuration,
		Renewable:     true,
	}
	f.fetched = append(f.fetched, creds)
	return creds, nil
}

// Calls returns how many times FetchCredentials was called.
func (f *FakeCredentialProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Fetched returns every credential set successfully issued so far.
func (f *FakeCredentialProvider) Fetched() []Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Credentials(nil), f.fetched...)
}

// SetLeaseDuration changes the duration granted to later fetches.
func (f *FakeCredentialProvider) SetLeaseDuration(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LeaseDuration = d
}

// FailNext queues errors for the next fetches.
func (f *FakeCredentialProvider) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors = append(f.Errors, errs...)
}

// ContractTest defines the behaviour every CredentialProvider must show.
type ContractTest struct {
	// CreateProvider creates a new instance of the provider to test.
	CreateProvider func(t *testing.T) CredentialProvider

	// ExistingRole is a role the provider can issue credentials for.
	ExistingRole string

	// MissingRole is a role the provider must report as not found.
	MissingRole string

	// SkipContextCancellation skips the cancellation check for providers
	// that cannot observe a cancelled context before answering.
	SkipContextCancellation bool
}

// RunContractTests runs the standard credential provider contract test suite
func RunContractTests(t *testing.T, contract ContractTest) {
	t.Run("Contract", func(t *testing.T) {
		t.Run("Name", func(t *testing.T) {
			p := contract.CreateProvider(t)
			if p.Name() == "" {
				t.Error("Name() returned empty string")
			}
			if p.Name() != p.Name() {
				t.Error("Name() not consistent between calls")
			}
		})

		t.Run("Fetch", func(t *testing.T) {
			p := contract.CreateProvider(t)
			creds, err := p.FetchCredentials(context.Background(), contract.ExistingRole)
			if err != nil {
				t.Fatalf("FetchCredentials(%q) failed: %v", contract.ExistingRole, err)
			}
			if creds.Username == "" {
				t.Error("FetchCredentials returned empty username")
			}
			if creds.Password == "" {
				t.Error("FetchCredentials returned empty password")
			}
			if creds.EffectiveLeaseDuration() <= 0 {
				t.Error("EffectiveLeaseDuration must be positive")
			}
		})

		t.Run("FetchNotFound", func(t *testing.T) {
			p := contract.CreateProvider(t)
			_, err := p.FetchCredentials(context.Background(), contract.MissingRole)
			if err == nil {
				t.Fatalf("FetchCredentials(%q) succeeded for a missing role", contract.MissingRole)
			}
			if !IsNotFound(err) {
				t.Errorf("expected NotFoundError, got %T: %v", err, err)
			}
		})

		if !contract.SkipContextCancellation {
			t.Run("ContextCancellation", func(t *testing.T) {
				p := contract.CreateProvider(t)
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				if _, err := p.FetchCredentials(ctx, contract.ExistingRole); err == nil {
					t.Error("FetchCredentials succeeded with a cancelled context")
				}
			})
		}
	})
}
