package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Export formats.
const (
	FormatDefault = "default"
	FormatECS     = "ecs"
)

// RedactionMarker replaces values whose key matches a sensitive substring.
const RedactionMarker = "[redacted]"

// ExportOptions selects the range and shape of an export run.
type ExportOptions struct {
	FromID         int64
	ToID           int64
	ChunkSize      int
	Format         string // default, ecs
	IncludeContext bool
	IncludeChanges bool
}

// Exporter streams audit records as JSON Lines for SIEM shipping.
// Redaction mutates only the exported copy, never stored records.
type Exporter struct {
	store         *Store
	sensitiveKeys []string
}

// NewExporter creates an exporter. sensitiveKeys are case-insensitive
// substrings; any nested key containing one has its value redacted.
func NewExporter(store *Store, sensitiveKeys []string) *Exporter {
	return &Exporter{store: store, sensitiveKeys: sensitiveKeys}
}

// Export writes one JSON object per line to w for every record in the
// selected range, ascending by id, and returns the number exported.
// An unknown format is a precondition error: it fails before any row is
// read or written.
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts ExportOptions) (int, error) {
	switch opts.Format {
	case "", FormatDefault, FormatECS:
	default:
		return 0, fmt.Errorf("unknown export format %q (use default or ecs)", opts.Format)
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 500
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	exported := 0
	afterID := opts.FromID - 1
	if afterID < 0 {
		afterID = 0
	}

	for {
		if err := ctx.Err(); err != nil {
			return exported, err
		}

		records, err := e.store.Chunk(ctx, afterID, opts.ToID, chunkSize)
		if err != nil {
			return exported, err
		}
		if len(records) == 0 {
			break
		}

		for i := range records {
			rec := &records[i]
			var line any
			if opts.Format == FormatECS {
				line = e.ecsShape(rec, opts)
			} else {
				line = e.defaultShape(rec, opts)
			}
			if err := enc.Encode(line); err != nil {
				return exported, fmt.Errorf("writing export line for %d: %w", rec.ID, err)
			}
			exported++
		}

		afterID = records[len(records)-1].ID
	}

	return exported, bw.Flush()
}

// exportRecord is the default export shape: a flat object mirroring the
// stored columns, with the payload columns appended when requested.
type exportRecord struct {
	Record
	Context   any `json:"context,omitempty"`
	OldValues any `json:"old_values,omitempty"`
	NewValues any `json:"new_values,omitempty"`
}

func (e *Exporter) defaultShape(rec *Record, opts ExportOptions) exportRecord {
	out := exportRecord{Record: *rec}
	if opts.IncludeContext {
		out.Context = e.redactedColumn(rec.Context)
	}
	if opts.IncludeChanges {
		out.OldValues = e.redactedColumn(rec.OldValues)
		out.NewValues = e.redactedColumn(rec.NewValues)
	}
	return out
}

// ecsShape maps a record onto an Elastic Common Schema-like document.
func (e *Exporter) ecsShape(rec *Record, opts ExportOptions) map[string]any {
	outcome := "success"
	if rec.StatusCode >= 400 {
		outcome = "failure"
	}

	doc := map[string]any{
		"@timestamp": rec.CreatedAt.UTC().Format(time.RFC3339),
		"event": map[string]any{
			"kind":     "event",
			"category": []string{ecsCategory(rec.Action)},
			"action":   rec.Action,
			"outcome":  outcome,
			"id":       rec.RequestID,
		},
		"user": map[string]any{
			"id":    rec.UserID,
			"name":  rec.UserUsername,
			"email": rec.UserEmail,
		},
		"source": map[string]any{
			"ip": rec.IPAddress,
		},
		"http": map[string]any{
			"request": map[string]any{
				"method": rec.Method,
			},
			"response": map[string]any{
				"status_code": rec.StatusCode,
			},
		},
		"url": map[string]any{
			"original": rec.URL,
		},
		"labels": map[string]any{
			"audit_id":       rec.ID,
			"role":           rec.RoleName,
			"route":          rec.Route,
			"session_id":     rec.SessionID,
			"duration_ms":    rec.DurationMs,
			"auditable_type": rec.AuditableType,
			"auditable_id":   rec.AuditableID,
			"previous_hash":  rec.PreviousHash,
			"hash":           rec.Hash,
			"signature":      rec.Signature,
		},
	}

	if opts.IncludeContext {
		if v := e.redactedColumn(rec.Context); v != nil {
			doc["sealproof"] = map[string]any{"context": v}
		}
	}
	if opts.IncludeChanges {
		changes := map[string]any{}
		if v := e.redactedColumn(rec.OldValues); v != nil {
			changes["old_values"] = v
		}
		if v := e.redactedColumn(rec.NewValues); v != nil {
			changes["new_values"] = v
		}
		if len(changes) > 0 {
			sp, _ := doc["sealproof"].(map[string]any)
			if sp == nil {
				sp = map[string]any{}
				doc["sealproof"] = sp
			}
			for k, v := range changes {
				sp[k] = v
			}
		}
	}

	return doc
}

// ecsCategory maps an audit action to an ECS event category by keyword.
func ecsCategory(action string) string {
	a := strings.ToLower(action)
	switch {
	case containsAny(a, "auth", "login", "otp"):
		return "authentication"
	case containsAny(a, "role", "permission", "user"):
		return "iam"
	case containsAny(a, "security", "threat"):
		return "security"
	case containsAny(a, "maintenance", "setting"):
		return "configuration"
	default:
		return "configuration"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// redactedColumn decodes a stored JSON column and redacts sensitive keys.
// A column holding invalid JSON is passed through as an opaque string
// rather than failing the export.
func (e *Exporter) redactedColumn(col string) any {
	if col == "" {
		return nil
	}
	v, ok := DecodeJSONColumn(col)
	if !ok {
		return col
	}
	return e.redactValue(v)
}

// redactValue recursively replaces the value of any map key that contains
// a configured sensitive substring, at any depth.
func (e *Exporter) redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if e.isSensitiveKey(k) {
				out[k] = RedactionMarker
				continue
			}
			out[k] = e.redactValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = e.redactValue(inner)
		}
		return out
	default:
		return v
	}
}

func (e *Exporter) isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range e.sensitiveKeys {
		if s != "" && strings.Contains(k, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
