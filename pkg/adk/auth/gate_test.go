package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

var testGrants = []Grant{
	{Token: "sk_live_read_only", Identity: "support-reader", Scopes: []string{"read:orders"}},
	{Token: "sk_live_admin", Identity: "support-admin", Scopes: []string{"read:orders", "write:refunds"}},
}

func TestGate_Resolve(t *testing.T) {
	gate := NewGate(testGrants, logr.Discard())

	p, err := gate.Resolve(context.Background(), Credential{Token: "sk_live_admin"})
	require.NoError(t, err)
	assert.Equal(t, "support-admin", p.Identity)
	assert.ElementsMatch(t, []string{"read:orders", "write:refunds"}, p.Scopes)

	_, err = gate.Resolve(context.Background(), Credential{Token: "sk_live_admi"})
	var invalid *adkerrors.InvalidCredentialError
	require.True(t, errors.As(err, &invalid))

	_, err = gate.Resolve(context.Background(), Credential{})
	require.True(t, errors.As(err, &invalid))
}

func TestGate_ResolveReturnsCopy(t *testing.T) {
	gate := NewGate(testGrants, logr.Discard())

	p, err := gate.Resolve(context.Background(), Credential{Token: "sk_live_read_only"})
	require.NoError(t, err)
	p.Scopes[0] = "write:refunds"

	again, err := gate.Resolve(context.Background(), Credential{Token: "sk_live_read_only"})
	require.NoError(t, err)
	assert.Equal(t, []string{"read:orders"}, again.Scopes)
}

func TestGate_UnknownCredentialsNeverResolve(t *testing.T) {
	gate := NewGate(testGrants, logr.Discard())

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("tokens outside the table fail with InvalidCredentialError", prop.ForAll(
		func(token string) bool {
			for _, g := range testGrants {
				if g.Token == token {
					return true
				}
			}
			p, err := gate.Resolve(context.Background(), Credential{Token: token})
			var invalid *adkerrors.InvalidCredentialError
			return errors.As(err, &invalid) && p.Identity == "" && len(p.Scopes) == 0
		},
		gen.AnyString(),
	))

	properties.Property("prefixes of known tokens fail", prop.ForAll(
		func(n int) bool {
			token := testGrants[1].Token[:n]
			_, err := gate.Resolve(context.Background(), Credential{Token: token})
			return adkerrors.CodeOf(err) == adkerrors.ErrCodeInvalidCredential
		},
		gen.IntRange(0, len(testGrants[1].Token)-1),
	))

	properties.TestingRun(t)
}

func TestGate_Authorize(t *testing.T) {
	gate := NewGate(testGrants, logr.Discard())
	reader := Principal{Identity: "support-reader", Scopes: []string{"read:orders"}}

	d := gate.Authorize(reader, "read:orders")
	assert.True(t, d.Allowed)
	assert.NoError(t, d.Err())

	d = gate.Authorize(reader, "write:refunds")
	assert.False(t, d.Allowed)
	assert.Equal(t, "write:refunds", d.Missing)
	assert.EqualError(t, d.Err(), "Not Authorized. Missing scope: write:refunds")

	d = gate.Authorize(Principal{}, "")
	assert.True(t, d.Allowed)
}

func TestParseBearer(t *testing.T) {
	c, ok := ParseBearer("Bearer abc")
	require.True(t, ok)
	assert.Equal(t, "abc", c.Token)

	c, ok = ParseBearer("bearer  xyz ")
	require.True(t, ok)
	assert.Equal(t, "xyz", c.Token)

	for _, h := range []string{"", "Bearer ", "Basic abc", "abc"} {
		_, ok = ParseBearer(h)
		assert.False(t, ok, h)
	}
}

func TestJWTResolver(t *testing.T) {
	r, err := NewJWTResolver([]byte("test-secret"), "supportagent", "crm", logr.Discard())
	require.NoError(t, err)

	token, err := r.Issue("alice", []string{"read:orders", "write:refunds"}, time.Minute)
	require.NoError(t, err)

	p, err := r.Resolve(context.Background(), Credential{Token: token})
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Identity)
	assert.Equal(t, []string{"read:orders", "write:refunds"}, p.Scopes)

	other, err := NewJWTResolver([]byte("other-secret"), "supportagent", "crm", logr.Discard())
	require.NoError(t, err)
	_, err = other.Resolve(context.Background(), Credential{Token: token})
	assert.Equal(t, adkerrors.ErrCodeInvalidCredential, adkerrors.CodeOf(err))

	expired, err := r.Issue("alice", []string{"read:orders"}, -time.Minute)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), Credential{Token: expired})
	assert.Equal(t, adkerrors.ErrCodeInvalidCredential, adkerrors.CodeOf(err))

	_, err = NewJWTResolver(nil, "", "", logr.Discard())
	assert.Error(t, err)
}

func TestChainResolver(t *testing.T) {
	jwtResolver, err := NewJWTResolver([]byte("test-secret"), "", "", logr.Discard())
	require.NoError(t, err)
	chain := ChainResolver{NewGate(testGrants, logr.Discard()), jwtResolver}

	p, err := chain.Resolve(context.Background(), Credential{Token: "sk_live_read_only"})
	require.NoError(t, err)
	assert.Equal(t, "support-reader", p.Identity)

	token, err := jwtResolver.Issue("bob", []string{"read:orders"}, time.Minute)
	require.NoError(t, err)
	p, err = chain.Resolve(context.Background(), Credential{Token: token})
	require.NoError(t, err)
	assert.Equal(t, "bob", p.Identity)

	_, err = chain.Resolve(context.Background(), Credential{Token: "nope"})
	assert.Equal(t, adkerrors.ErrCodeInvalidCredential, adkerrors.CodeOf(err))

	_, err = ChainResolver{}.Resolve(context.Background(), Credential{Token: "nope"})
	assert.Equal(t, adkerrors.ErrCodeInvalidCredential, adkerrors.CodeOf(err))
}

func TestTokenService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("sk_live_admin\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := NewTokenService("support-agent", path, logr.Discard()).WithRefreshPeriod(10 * time.Millisecond)
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	assert.Equal(t, "sk_live_admin", svc.Credential().Token)

	require.NoError(t, os.WriteFile(path, []byte("sk_live_rotated"), 0o600))
	assert.Eventually(t, func() bool {
		return svc.Credential().Token == "sk_live_rotated"
	}, time.Second, 10*time.Millisecond)
}

func TestTokenService_MissingFile(t *testing.T) {
	svc := NewTokenService("support-agent", filepath.Join(t.TempDir(), "missing"), logr.Discard())
	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), adkerrors.ErrCodeAuthFailed))
}
