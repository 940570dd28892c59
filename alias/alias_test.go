package alias

import (
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValid(t *testing.T) {
	assert.True(t, Valid("report-2025"))
	assert.True(t, Valid("abc"))
	assert.True(t, Valid("A_b-9"))
	assert.False(t, Valid("ab"), "too short")
	assert.False(t, Valid("has space"))
	assert.False(t, Valid("café"))
	assert.False(t, Valid(""))
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	assert.False(t, Valid(string(long)))
	assert.True(t, Valid(string(long[:64])))
}

func TestRegisterResolveUnregister(t *testing.T) {
	ix := New()
	g := uuid.NewString()

	require.NoError(t, ix.Register("monthly", g, "finance"))
	got, ok := ix.Resolve("monthly", "finance")
	require.True(t, ok)
	assert.Equal(t, g, got)

	// identical rebinding is a no-op, different target is refused
	require.NoError(t, ix.Register("monthly", g, "finance"))
	assert.ErrorIs(t, ix.Register("monthly", uuid.NewString(), "finance"), ErrTaken)
	assert.ErrorIs(t, ix.Register("x", g, "finance"), ErrInvalid)

	ix.Unregister("monthly", "finance")
	_, ok = ix.Resolve("monthly", "finance")
	assert.False(t, ok)
	ix.Unregister("monthly", "finance") // idempotent
}

func TestResolvePrefersUUIDParse(t *testing.T) {
	ix := New()
	g := uuid.NewString()
	// a raw UUID resolves even when never registered as an alias
	got, ok := ix.Resolve(g, "any")
	require.True(t, ok)
	assert.Equal(t, g, got)
}

func TestSameAliasAcrossGroups(t *testing.T) {
	ix := New()
	g1, g2 := uuid.NewString(), uuid.NewString()
	require.NoError(t, ix.Register("report", g1, "alpha"))
	require.NoError(t, ix.Register("report", g2, "beta"))

	r1, _ := ix.Resolve("report", "alpha")
	r2, _ := ix.Resolve("report", "beta")
	assert.Equal(t, g1, r1)
	assert.Equal(t, g2, r2)
	assert.NotEqual(t, r1, r2)
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	ix := New()
	g := uuid.NewString()
	require.NoError(t, ix.Register("weekly", g, "ops"))

	restored := New()
	restored.Load(ix.Snapshot())
	got, ok := restored.Resolve("weekly", "ops")
	require.True(t, ok)
	assert.Equal(t, g, got)
	back, ok := restored.AliasFor(g, "ops")
	require.True(t, ok)
	assert.Equal(t, "weekly", back)
}

func TestBijectionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	aliasGen := gen.RegexMatch(`[A-Za-z0-9_-]{3,16}`)

	properties.Property("register then resolve returns the guid", prop.ForAll(
		func(a, group string) bool {
			ix := New()
			g := uuid.NewString()
			if err := ix.Register(a, g, group); err != nil {
				return false
			}
			got, ok := ix.Resolve(a, group)
			back, ok2 := ix.AliasFor(g, group)
			return ok && got == g && ok2 && back == a
		},
		aliasGen, gen.Identifier(),
	))

	properties.Property("unregister removes both directions", prop.ForAll(
		func(a, group string) bool {
			ix := New()
			g := uuid.NewString()
			if err := ix.Register(a, g, group); err != nil {
				return false
			}
			ix.Unregister(a, group)
			_, fwd := ix.Resolve(a, group)
			_, rev := ix.AliasFor(g, group)
			return !fwd && !rev
		},
		aliasGen, gen.Identifier(),
	))

	properties.TestingRun(t)
}
