// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_tenantcfg

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ============================================================================
// Document edits
// ============================================================================

// DeepMerge applies patch onto base following JSON merge-patch semantics:
// nested objects merge recursively, any other value replaces, and an
// explicit null deletes the key. Neither input is mutated.
func DeepMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		pm, pok := v.(map[string]any)
		bm, bok := out[k].(map[string]any)
		if pok && bok {
			out[k] = DeepMerge(bm, pm)
			continue
		}
		out[k] = v
	}
	return out
}

// InferLiteral turns a CLI argument into a JSON value: anything that parses
// as JSON (numbers, booleans, null, quoted strings, objects, arrays) is
// taken as such, everything else is a plain string.
func InferLiteral(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// SetPath writes value at a dot path, creating intermediate objects. It
// fails when a path element traverses a non-object.
func SetPath(doc map[string]any, path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p]
		if !ok {
			child := map[string]any{}
			cur[p] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("tenantcfg: %q is not an object", p)
		}
		cur = child
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

// UnsetPath removes the key at a dot path; it reports whether anything was
// removed.
func UnsetPath(doc map[string]any, path string) (bool, error) {
	parts, err := splitPath(path)
	if err != nil {
		return false, err
	}
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		child, ok := cur[p].(map[string]any)
		if !ok {
			return false, nil
		}
		cur = child
	}
	last := parts[len(parts)-1]
	if _, ok := cur[last]; !ok {
		return false, nil
	}
	delete(cur, last)
	return true, nil
}

func splitPath(path string) ([]string, error) {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("tenantcfg: invalid path %q", path)
		}
	}
	return parts, nil
}
