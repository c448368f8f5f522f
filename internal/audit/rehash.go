package audit

import (
	"context"
	"fmt"
	"log/slog"
)

// RehashResult aggregates a repair run.
type RehashResult struct {
	Total   int
	Updated int
}

// Rehasher walks an ordered range of records and rewrites the chain fields
// of any row that drifted from the recomputed canonical values.
//
// Unlike the verifier, the running previous_hash advances using the
// *recomputed* hash: each record is corrected relative to its corrected
// predecessor, so a single pass heals all downstream linkage. Running it
// again immediately afterward updates nothing.
type Rehasher struct {
	store     *Store
	signer    *Signer
	chunkSize int
	logger    *slog.Logger

	// OnUpdate, when set, receives the id of every record that needed
	// (or, in dry-run, would need) its chain fields rewritten.
	OnUpdate func(id int64)
}

// NewRehasher creates a repairer. signer may be nil (signing disabled).
func NewRehasher(store *Store, signer *Signer, chunkSize int, logger *slog.Logger) *Rehasher {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &Rehasher{store: store, signer: signer, chunkSize: chunkSize, logger: logger}
}

// Rehash recomputes and repairs records with id >= fromID in ascending
// order. With dryRun it performs identical computation and counting but
// issues no writes. Writes are per-record and independent: a crash
// mid-run leaves corrected records corrected, and a later run starting
// from any id picks up the rest.
func (rh *Rehasher) Rehash(ctx context.Context, fromID int64, dryRun bool) (RehashResult, error) {
	var result RehashResult

	prev, err := rh.seedPrevious(ctx, fromID)
	if err != nil {
		return result, err
	}

	afterID := fromID - 1
	if afterID < 0 {
		afterID = 0
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		records, err := rh.store.Chunk(ctx, afterID, 0, rh.chunkSize)
		if err != nil {
			return result, err
		}
		if len(records) == 0 {
			return result, nil
		}

		for i := range records {
			rec := &records[i]
			result.Total++

			expectedHash := ChainHash(Canonical(rec, prev), prev)
			expectedSig := rh.signer.Sign(expectedHash)

			if rec.Hash != expectedHash || rec.PreviousHash != prev || rec.Signature != expectedSig {
				result.Updated++
				if rh.OnUpdate != nil {
					rh.OnUpdate(rec.ID)
				}
				if !dryRun {
					if err := rh.store.UpdateChainFields(ctx, rec.ID, prev, expectedHash, expectedSig); err != nil {
						return result, err
					}
					rh.logger.Debug("rehashed audit record", "id", rec.ID)
				}
			}

			// Advance on the recomputed hash so downstream linkage heals.
			prev = expectedHash
		}

		afterID = records[len(records)-1].ID
	}
}

func (rh *Rehasher) seedPrevious(ctx context.Context, fromID int64) (string, error) {
	if fromID <= 1 {
		return chainSeed, nil
	}
	before, err := rh.store.Before(ctx, fromID)
	if err != nil {
		return "", fmt.Errorf("seeding previous hash for range start %d: %w", fromID, err)
	}
	if before == nil {
		return chainSeed, nil
	}
	return before.Hash, nil
}
