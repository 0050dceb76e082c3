package tools

import (
	"encoding/json"
	"sort"
	"strings"
)

// Signature canonicalizes a tool call to "name{sorted-json-args}". Equal
// signatures mean an identical call.
func Signature(name string, args map[string]any) string {
	return name + canonicalJSON(args)
}

func canonicalJSON(v any) string {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			sb.WriteString(canonicalJSON(x[k]))
		}
		sb.WriteByte('}')
		return sb.String()
	case []any:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(canonicalJSON(e))
		}
		sb.WriteByte(']')
		return sb.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "null"
		}
		return string(b)
	}
}

// idempotentVerbs are read-style name tokens that are never deduplicated.
var idempotentVerbs = []string{"GET", "LIST", "SEARCH", "FIND", "FETCH", "READ", "CHECK", "QUERY"}

// IsIdempotent reports whether the tool name classifies as read-only.
func IsIdempotent(name string) bool {
	upper := strings.ToUpper(name)
	for _, v := range idempotentVerbs {
		if containsToken(upper, v) {
			return true
		}
	}
	return false
}

// destructiveVerbs gate tool calls behind human approval.
var destructiveVerbs = []string{
	"DELETE", "REMOVE", "CANCEL", "SEND", "FORWARD",
	"ARCHIVE", "DESTROY", "REVOKE", "UNSUBSCRIBE",
}

// IsDestructive reports whether the tool name carries a destructive verb.
func IsDestructive(name string) bool {
	upper := strings.ToUpper(name)
	for _, v := range destructiveVerbs {
		if containsToken(upper, v) {
			return true
		}
	}
	return false
}

// containsToken matches verb as a whole underscore-separated token, so
// GMAIL_SEND_EMAIL matches SEND but RESEND_API_CALL does not.
func containsToken(upperName, verb string) bool {
	for _, tok := range strings.FieldsFunc(upperName, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	}) {
		if tok == verb {
			return true
		}
	}
	return false
}
