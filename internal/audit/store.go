package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	user_id TEXT,
	user_name TEXT,
	user_email TEXT,
	user_username TEXT,
	role_name TEXT,
	action TEXT NOT NULL,
	auditable_type TEXT,
	auditable_id TEXT,
	ip_address TEXT,
	user_agent_hash TEXT,
	url TEXT,
	route TEXT,
	method TEXT,
	status_code INTEGER NOT NULL DEFAULT 0,
	request_id TEXT,
	session_id TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	request_payload_hash TEXT,
	context TEXT,
	old_values TEXT,
	new_values TEXT,
	previous_hash TEXT,
	hash TEXT,
	signature TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_records(action);
CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_records(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_records(user_id);
`

const recordColumns = `id, created_at, user_id, user_name, user_email, user_username, role_name,
	action, auditable_type, auditable_id, ip_address, user_agent_hash, url, route, method,
	status_code, request_id, session_id, duration_ms, request_payload_hash,
	context, old_values, new_values, previous_hash, hash, signature`

// Store manages the SQLite audit record table and provides the ordered,
// chunked reads the chain tooling depends on.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the SQLite audit database.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}

	// Enable WAL mode so verify/export can read while the writer appends
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("setting WAL mode: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("creating schema: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts a new record and seals it in a single transaction.
// The record's previous_hash is read from the current head inside the
// transaction, the row is inserted so storage assigns the id, then seal
// fills in hash/signature and the chain fields are written back. The
// transaction ensures no two records can ever claim the same predecessor.
func (s *Store) Append(ctx context.Context, r *Record, seal func(*Record)) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT hash FROM audit_records ORDER BY id DESC LIMIT 1").Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("reading chain head: %w", err)
	}
	r.PreviousHash = prev.String

	res, err := tx.ExecContext(ctx, `INSERT INTO audit_records (
		created_at, user_id, user_name, user_email, user_username, role_name,
		action, auditable_type, auditable_id, ip_address, user_agent_hash, url, route, method,
		status_code, request_id, session_id, duration_ms, request_payload_hash,
		context, old_values, new_values, previous_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CreatedAt.UTC().Format(time.RFC3339),
		nullStr(r.UserID), nullStr(r.UserName), nullStr(r.UserEmail), nullStr(r.UserUsername), nullStr(r.RoleName),
		r.Action, nullStr(r.AuditableType), nullStr(r.AuditableID),
		nullStr(r.IPAddress), nullStr(r.UserAgentHash), nullStr(r.URL), nullStr(r.Route), nullStr(r.Method),
		r.StatusCode, nullStr(r.RequestID), nullStr(r.SessionID), r.DurationMs, nullStr(r.RequestPayloadHash),
		nullStr(r.Context), nullStr(r.OldValues), nullStr(r.NewValues), nullStr(r.PreviousHash),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting audit record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted id: %w", err)
	}
	r.ID = id

	seal(r)

	if _, err := tx.ExecContext(ctx,
		"UPDATE audit_records SET hash = ?, signature = ? WHERE id = ?",
		r.Hash, nullStr(r.Signature), id,
	); err != nil {
		return 0, fmt.Errorf("sealing audit record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing append: %w", err)
	}
	return id, nil
}

// Before returns the record immediately preceding id in chain order,
// or nil when id is the first record.
func (s *Store) Before(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM audit_records WHERE id < ? ORDER BY id DESC LIMIT 1", id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading predecessor of %d: %w", id, err)
	}
	return r, nil
}

// Head returns the record with the highest id, or nil on an empty table.
func (s *Store) Head(ctx context.Context) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM audit_records ORDER BY id DESC LIMIT 1")
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading chain head: %w", err)
	}
	return r, nil
}

// Chunk returns up to limit records with id > afterID in ascending id
// order. When toID > 0 the range is additionally bounded by id <= toID.
func (s *Store) Chunk(ctx context.Context, afterID, toID int64, limit int) ([]Record, error) {
	query := "SELECT " + recordColumns + " FROM audit_records WHERE id > ?"
	args := []any{afterID}
	if toID > 0 {
		query += " AND id <= ?"
		args = append(args, toID)
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading audit chunk after %d: %w", afterID, err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// UpdateChainFields rewrites only the chain columns of a single record.
// Used by the rehash tool; all other columns are untouched.
func (s *Store) UpdateChainFields(ctx context.Context, id int64, previousHash, hash, signature string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE audit_records SET previous_hash = ?, hash = ?, signature = ? WHERE id = ?",
		nullStr(previousHash), nullStr(hash), nullStr(signature), id)
	if err != nil {
		return fmt.Errorf("updating chain fields for %d: %w", id, err)
	}
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting audit records: %w", err)
	}
	return n, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var r Record
	var createdAt string
	var userID, userName, userEmail, userUsername, roleName sql.NullString
	var auditableType, auditableID, ip, uaHash, url, route, method sql.NullString
	var requestID, sessionID, payloadHash, ctxCol, oldVals, newVals sql.NullString
	var prevHash, hash, signature sql.NullString

	err := row.Scan(&r.ID, &createdAt, &userID, &userName, &userEmail, &userUsername, &roleName,
		&r.Action, &auditableType, &auditableID, &ip, &uaHash, &url, &route, &method,
		&r.StatusCode, &requestID, &sessionID, &r.DurationMs, &payloadHash,
		&ctxCol, &oldVals, &newVals, &prevHash, &hash, &signature)
	if err != nil {
		return nil, err
	}

	r.CreatedAt = parseStoredTime(createdAt)
	r.UserID = userID.String
	r.UserName = userName.String
	r.UserEmail = userEmail.String
	r.UserUsername = userUsername.String
	r.RoleName = roleName.String
	r.AuditableType = auditableType.String
	r.AuditableID = auditableID.String
	r.IPAddress = ip.String
	r.UserAgentHash = uaHash.String
	r.URL = url.String
	r.Route = route.String
	r.Method = method.String
	r.RequestID = requestID.String
	r.SessionID = sessionID.String
	r.RequestPayloadHash = payloadHash.String
	r.Context = ctxCol.String
	r.OldValues = oldVals.String
	r.NewValues = newVals.String
	r.PreviousHash = prevHash.String
	r.Hash = hash.String
	r.Signature = signature.String
	return &r, nil
}

// nullStr stores the empty string as NULL.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// parseStoredTime parses a created_at column. Stored timestamps are always
// RFC3339 UTC; a row that predates this tooling falls back to the zero time
// rather than failing the read.
func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
