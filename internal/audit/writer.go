package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Writer appends records to the audit chain. It is the single designated
// writer for its store: the read-last-hash + insert sequence runs under one
// mutex and one storage transaction, so no two records can ever point at
// the same predecessor.
type Writer struct {
	mu     sync.Mutex
	store  *Store
	signer *Signer
	logger *slog.Logger

	// notify, when set, receives every sealed record. Fire-and-forget,
	// best-effort; not part of the integrity contract.
	notify func(Record)
}

// NewWriter creates a chain writer. signer may be nil (signing disabled).
func NewWriter(store *Store, signer *Signer, logger *slog.Logger) *Writer {
	return &Writer{store: store, signer: signer, logger: logger}
}

// OnAppend registers a best-effort notification hook for live dashboards.
// The hook runs on its own goroutine; failures never reach the caller.
func (w *Writer) OnAppend(fn func(Record)) {
	w.notify = fn
}

// Append assigns created_at, chains the record to the current head,
// computes hash and signature, and persists it. Returns the storage id.
func (w *Writer) Append(ctx context.Context, r *Record) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if r.Action == "" {
		return 0, fmt.Errorf("audit record requires an action")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	id, err := w.store.Append(ctx, r, func(rec *Record) {
		canonical := Canonical(rec, rec.PreviousHash)
		rec.Hash = ChainHash(canonical, rec.PreviousHash)
		rec.Signature = w.signer.Sign(rec.Hash)
	})
	if err != nil {
		return 0, err
	}

	if w.notify != nil {
		rec := *r
		go func() {
			defer func() {
				if p := recover(); p != nil {
					w.logger.Warn("audit notify hook panicked", "id", rec.ID, "panic", p)
				}
			}()
			w.notify(rec)
		}()
	}

	return id, nil
}
