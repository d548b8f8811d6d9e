package provider_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/leasekeeper/pkg/provider"
)

func TestFakeCredentialProvider_Contract(t *testing.T) {
	t.Parallel()

	provider.RunContractTests(t, provider.ContractTest{
		CreateProvider: func(t *testing.T) provider.CredentialProvider {
			p := provider.NewFakeCredentialProvider(time.Minute)
			p.Roles = map[string]bool{"readonly": true}
			return p
		},
		ExistingRole: "readonly",
		MissingRole:  "nope",
	})
}

func TestEffectiveLeaseDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, provider.DefaultLeaseDuration, provider.Credentials{}.EffectiveLeaseDuration())
	assert.Equal(t, provider.DefaultLeaseDuration, provider.Credentials{LeaseDuration: -time.Second}.EffectiveLeaseDuration())
	assert.Equal(t, 5*time.Second, provider.Credentials{LeaseDuration: 5 * time.Second}.EffectiveLeaseDuration())
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	nf := provider.NotFoundError{Provider: "vault", Key: "database/creds/missing"}
	assert.Equal(t, "secret not found: database/creds/missing in vault", nf.Error())

	cause := fmt.Errorf("token expired")
	ae := provider.AuthError{Provider: "vault", Message: "approle login rejected", Err: cause}
	assert.Equal(t, "authentication failed for vault: approle login rejected", ae.Error())
	assert.ErrorIs(t, ae, cause)
}

func TestIsNotFoundAndIsAuth(t *testing.T) {
	t.Parallel()

	wrappedNF := fmt.Errorf("refresh: %w", provider.NotFoundError{Provider: "fake", Key: "r"})
	wrappedAuth := fmt.Errorf("refresh: %w", provider.AuthError{Provider: "fake", Message: "denied"})

	assert.True(t, provider.IsNotFound(wrappedNF))
	assert.False(t, provider.IsAuth(wrappedNF))
	assert.True(t, provider.IsAuth(wrappedAuth))
	assert.False(t, provider.IsNotFound(wrappedAuth))
	assert.False(t, provider.IsNotFound(nil))
	assert.False(t, provider.IsAuth(errors.New("plain")))
}

func TestFakeCredentialProvider_DistinctLeases(t *testing.T) {
	t.Parallel()

	p := provider.NewFakeCredentialProvider(30 * time.Second)
	ctx := context.Background()

	first, err := p.FetchCredentials(ctx, "app")
	require.NoError(t, err)
	second, err := p.FetchCredentials(ctx, "app")
	require.NoError(t, err)

	assert.NotEqual(t, first.Username, second.Username)
	assert.Equal(t, 30*time.Second, second.LeaseDuration)
	assert.Equal(t, 2, p.Calls())
	assert.Len(t, p.Fetched(), 2)
}

func TestFakeCredentialProvider_FailNext(t *testing.T) {
	t.Parallel()

	p := provider.NewFakeCredentialProvider(time.Minute)
	boom := errors.New("vault unavailable")
	p.FailNext(boom)

	_, err := p.FetchCredentials(context.Background(), "app")
	assert.ErrorIs(t, err, boom)

	_, err = p.FetchCredentials(context.Background(), "app")
	assert.NoError(t, err)
	assert.Equal(t, 2, p.Calls())
	assert.Len(t, p.Fetched(), 1)
}

func TestFakeCredentialProvider_DelayHonoursContext(t *testing.T) {
	t.Parallel()

	p := provider.NewFakeCredentialProvider(time.Minute)
	p.Delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.FetchCredentials(ctx, "app")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
