package audit

import "time"

// Record is a single audit log row. Once hashed it is immutable; only the
// chain fields (previous_hash, hash, signature) may later be rewritten by
// the rehash tool when they have drifted from the recomputed values.
//
// The JSON tags define the default export shape.
type Record struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	UserEmail    string `json:"user_email"`
	UserUsername string `json:"user_username"`
	RoleName     string `json:"role_name"`

	Action        string `json:"action"`
	AuditableType string `json:"auditable_type"`
	AuditableID   string `json:"auditable_id"`

	IPAddress          string `json:"ip_address"`
	UserAgentHash      string `json:"user_agent_hash"`
	URL                string `json:"url"`
	Route              string `json:"route"`
	Method             string `json:"method"`
	StatusCode         int    `json:"status_code"`
	RequestID          string `json:"request_id"`
	SessionID          string `json:"session_id"`
	DurationMs         int64  `json:"duration_ms"`
	RequestPayloadHash string `json:"request_payload_hash"`

	// Context, OldValues and NewValues hold JSON documents as stored.
	// Empty string means NULL.
	Context   string `json:"-"`
	OldValues string `json:"-"`
	NewValues string `json:"-"`

	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
	Signature    string `json:"signature"`
}
