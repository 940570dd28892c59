package auth

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/docfold/docfold/fault"
)

// Gate resolves a request's credential and decides the acting group.
type Gate struct {
	verifier    Verifier
	allowPublic bool
	log         *slog.Logger
}

// NewGate builds a gate. With a nil verifier every credential fails, which
// is the correct posture for a misconfigured deployment; allowPublic decides
// whether tokenless discovery calls proceed as the public group.
func NewGate(verifier Verifier, allowPublic bool, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{verifier: verifier, allowPublic: allowPublic, log: log}
}

// Resolve finds a credential in resolution order (payload auth_token, legacy
// payload token, bearer from context, legacy header token), verifies it and
// returns the acting group: the hint when the grant contains it, else the
// first granted group. tokenOptional marks the discovery set, which proceeds
// tokenless as PublicGroup when the deployment allows it.
func (g *Gate) Resolve(ctx context.Context, payload map[string]any, tokenOptional bool) (string, error) {
	token := payloadToken(payload)
	if token == "" {
		if bearer, ok := Bearer(ctx); ok {
			token = bearer
		}
	}
	if token == "" {
		if legacy, ok := LegacyToken(ctx); ok {
			token = legacy
		}
	}

	if token == "" {
		if tokenOptional && g.allowPublic {
			return PublicGroup, nil
		}
		return "", fault.New(fault.AuthRequired, "authentication required")
	}
	if g.verifier == nil {
		return "", fault.New(fault.AuthFailed, "no credential verifier is configured")
	}

	groups, err := g.verifier.Verify(ctx, token)
	if err != nil {
		g.log.Debug("token verification failed", slog.Any("error", err))
		return "", authFailed(err)
	}
	if len(groups) == 0 {
		return "", fault.New(fault.AuthFailed, "token grants no groups")
	}

	acting := groups[0]
	if hint, ok := GroupHint(ctx); ok && slices.Contains(groups, hint) {
		acting = hint
	}
	return acting, nil
}

// authFailed keys the recovery hint on the verifier's failure reason.
func authFailed(err error) *fault.Error {
	fe := fault.Wrap(err, fault.AuthFailed, "token verification failed")
	reason := strings.ToLower(err.Error())
	switch {
	case strings.Contains(reason, "expired"):
		return fe.WithRecovery("obtain a fresh token and retry")
	case strings.Contains(reason, "invalid"):
		return fe.WithRecovery("check the token value and retry")
	}
	return fe
}

// payloadToken pulls the credential out of a tool payload, preferring the
// current field name over the legacy one.
func payloadToken(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload["auth_token"].(string); ok && s != "" {
		return s
	}
	if s, ok := payload["token"].(string); ok && s != "" {
		return s
	}
	return ""
}
