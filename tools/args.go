package tools

import (
	"github.com/docfold/docfold/fault"
)

// Argument decoding over the raw payload map. Every mismatch is an
// INVALID_ARGUMENTS failure naming the offending key.

func requiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", fault.Newf(fault.InvalidArguments, "%s is required", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fault.Newf(fault.InvalidArguments, "%s must be a non-empty string", key)
	}
	return s, nil
}

func optionalString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fault.Newf(fault.InvalidArguments, "%s must be a string", key)
	}
	return s, nil
}

func optionalBool(args map[string]any, key string, def bool) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fault.Newf(fault.InvalidArguments, "%s must be a boolean", key)
	}
	return b, nil
}

// optionalMap accepts a missing or null value as an empty map.
func optionalMap(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fault.Newf(fault.InvalidArguments, "%s must be an object", key)
	}
	return m, nil
}
