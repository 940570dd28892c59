package auth

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docfold/fault"
)

var secret = []byte("test-secret")

func signToken(t *testing.T, groups any, expires time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"groups": groups, "exp": expires.Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func testGate() *Gate {
	return NewGate(JWTVerifier{Secret: secret}, true, slog.New(slog.DiscardHandler))
}

func TestJWTVerifier(t *testing.T) {
	v := JWTVerifier{Secret: secret}

	groups, err := v.Verify(context.Background(), signToken(t, []any{"finance", "ops"}, time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, []string{"finance", "ops"}, groups)

	// single-string claim tolerated
	groups, err = v.Verify(context.Background(), signToken(t, "finance", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, []string{"finance"}, groups)

	_, err = v.Verify(context.Background(), signToken(t, []any{"finance"}, time.Now().Add(-time.Hour)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")

	_, err = v.Verify(context.Background(), "not.a.jwt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")

	// a token signed with a different key never verifies
	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"groups": []any{"x"}}).
		SignedString([]byte("wrong"))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), other)
	assert.Error(t, err)
}

func TestResolveOrderPrefersPayload(t *testing.T) {
	g := NewGate(StaticVerifier{
		"payload-token": {"alpha"},
		"legacy-token":  {"beta"},
		"bearer-token":  {"gamma"},
		"header-token":  {"delta"},
	}, true, slog.New(slog.DiscardHandler))

	ctx := WithBearer(context.Background(), "bearer-token")
	ctx = WithLegacyToken(ctx, "header-token")

	group, err := g.Resolve(ctx, map[string]any{"auth_token": "payload-token", "token": "legacy-token"}, false)
	require.NoError(t, err)
	assert.Equal(t, "alpha", group)

	group, err = g.Resolve(ctx, map[string]any{"token": "legacy-token"}, false)
	require.NoError(t, err)
	assert.Equal(t, "beta", group)

	group, err = g.Resolve(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "gamma", group)

	group, err = g.Resolve(WithLegacyToken(context.Background(), "header-token"), nil, false)
	require.NoError(t, err)
	assert.Equal(t, "delta", group)
}

func TestResolveDiscoveryFallsBackToPublic(t *testing.T) {
	g := testGate()

	group, err := g.Resolve(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, PublicGroup, group)

	_, err = g.Resolve(context.Background(), nil, false)
	assert.True(t, fault.IsCode(err, fault.AuthRequired))

	strict := NewGate(JWTVerifier{Secret: secret}, false, slog.New(slog.DiscardHandler))
	_, err = strict.Resolve(context.Background(), nil, true)
	assert.True(t, fault.IsCode(err, fault.AuthRequired))
}

func TestResolveFailuresCarryKeyedRecovery(t *testing.T) {
	g := testGate()

	_, err := g.Resolve(context.Background(), map[string]any{
		"auth_token": signToken(t, []any{"finance"}, time.Now().Add(-time.Minute)),
	}, false)
	require.True(t, fault.IsCode(err, fault.AuthFailed))
	assert.Contains(t, fault.From(err).Recovery, "fresh token")

	_, err = g.Resolve(context.Background(), map[string]any{"auth_token": "garbage"}, false)
	require.True(t, fault.IsCode(err, fault.AuthFailed))
	assert.Contains(t, fault.From(err).Recovery, "check the token")
}

func TestResolveGroupHint(t *testing.T) {
	g := testGate()
	token := signToken(t, []any{"finance", "ops"}, time.Now().Add(time.Hour))

	ctx := WithGroupHint(context.Background(), "ops")
	group, err := g.Resolve(ctx, map[string]any{"auth_token": token}, false)
	require.NoError(t, err)
	assert.Equal(t, "ops", group, "hint selects among granted groups")

	ctx = WithGroupHint(context.Background(), "intruder")
	group, err = g.Resolve(ctx, map[string]any{"auth_token": token}, false)
	require.NoError(t, err)
	assert.Equal(t, "finance", group, "a hint outside the grant is ignored")
}

func TestResolveWithoutVerifier(t *testing.T) {
	g := NewGate(nil, true, slog.New(slog.DiscardHandler))
	_, err := g.Resolve(context.Background(), map[string]any{"auth_token": "anything"}, false)
	assert.True(t, fault.IsCode(err, fault.AuthFailed))
}

func TestGroupContextRoundTrip(t *testing.T) {
	_, ok := Group(context.Background())
	assert.False(t, ok)
	ctx := WithGroup(context.Background(), "finance")
	group, ok := Group(ctx)
	require.True(t, ok)
	assert.Equal(t, "finance", group)
}
