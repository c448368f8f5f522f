package audit

import (
	"encoding/json"
	"time"
)

// Canonical builds the deterministic byte representation of a record that
// the chain hash commits to. The hash and signature columns are excluded;
// previousHash is included explicitly so the hash commits to the linkage,
// not just the record body.
//
// Determinism: fields are enumerated into a map and serialized with
// encoding/json, which emits object keys in sorted order at every nesting
// level. Timestamps are normalized to RFC3339 UTC. Absent values are
// serialized as explicit nulls so adding a column later does not
// retroactively change old hashes when it is empty.
func Canonical(r *Record, previousHash string) []byte {
	payload := map[string]any{
		"id":                   r.ID,
		"created_at":           r.CreatedAt.UTC().Format(time.RFC3339),
		"user_id":              nullable(r.UserID),
		"user_name":            nullable(r.UserName),
		"user_email":           nullable(r.UserEmail),
		"user_username":        nullable(r.UserUsername),
		"role_name":            nullable(r.RoleName),
		"action":               r.Action,
		"auditable_type":       nullable(r.AuditableType),
		"auditable_id":         nullable(r.AuditableID),
		"ip_address":           nullable(r.IPAddress),
		"user_agent_hash":      nullable(r.UserAgentHash),
		"url":                  nullable(r.URL),
		"route":                nullable(r.Route),
		"method":               nullable(r.Method),
		"status_code":          r.StatusCode,
		"request_id":           nullable(r.RequestID),
		"session_id":           nullable(r.SessionID),
		"duration_ms":          r.DurationMs,
		"request_payload_hash": nullable(r.RequestPayloadHash),
		"context":              canonicalJSONColumn(r.Context),
		"old_values":           canonicalJSONColumn(r.OldValues),
		"new_values":           canonicalJSONColumn(r.NewValues),
		"previous_hash":        nullable(previousHash),
	}

	// Marshaling a map of scalars, maps and slices cannot fail.
	out, _ := json.Marshal(payload)
	return out
}

// nullable maps the empty string to an explicit JSON null.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// canonicalJSONColumn normalizes a stored JSON document for hashing.
// Decoding and re-embedding the value means the hash is stable across
// whitespace and key-order differences in the stored text. A column that
// does not hold valid JSON is committed as its raw string so corrupt rows
// still hash deterministically.
func canonicalJSONColumn(s string) any {
	if s == "" {
		return nil
	}
	if v, ok := DecodeJSONColumn(s); ok {
		return v
	}
	return s
}

// DecodeJSONColumn decodes a stored JSON document column. The second
// return reports whether the column held valid JSON; callers choose the
// pass-through behavior on failure.
func DecodeJSONColumn(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}
