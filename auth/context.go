package auth

import "context"

type ctxKey int

const (
	bearerKey ctxKey = iota
	legacyKey
	hintKey
	groupKey
)

// WithBearer stashes an Authorization bearer token for the gate.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey, token)
}

// Bearer returns the bearer token extracted upstream, if any.
func Bearer(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerKey).(string)
	return token, ok && token != ""
}

// WithLegacyToken stashes the token half of an X-Auth-Token header. It ranks
// below the bearer token in the resolution order.
func WithLegacyToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, legacyKey, token)
}

// LegacyToken returns the legacy header token, if any.
func LegacyToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(legacyKey).(string)
	return token, ok && token != ""
}

// WithGroupHint records the group half of an X-Auth-Token header. The hint
// only takes effect when the verified group set contains it.
func WithGroupHint(ctx context.Context, group string) context.Context {
	return context.WithValue(ctx, hintKey, group)
}

// GroupHint returns the legacy header's group hint, if any.
func GroupHint(ctx context.Context) (string, bool) {
	group, ok := ctx.Value(hintKey).(string)
	return group, ok && group != ""
}

// WithGroup pins the acting group. The gate calls this exactly once per
// request; nothing downstream is allowed to change it.
func WithGroup(ctx context.Context, group string) context.Context {
	return context.WithValue(ctx, groupKey, group)
}

// Group returns the acting group pinned by the gate.
func Group(ctx context.Context) (string, bool) {
	group, ok := ctx.Value(groupKey).(string)
	return group, ok && group != ""
}
