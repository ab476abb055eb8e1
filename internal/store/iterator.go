package store

import (
	"context"
	"time"

	"github.com/pathlight-hq/pathlight/internal/models"
)

const defaultIterBatchSize = 200

// RelationshipIter walks a principal's live relationships lazily, loading
// fixed-size batches keyed on the row ID. Callers with very large group
// memberships never pay for an exhaustive preload, and Restart rewinds the
// cursor for another pass.
type RelationshipIter struct {
	store       *RelationshipStore
	principalID string
	kind        models.RelationshipKind // empty matches every kind
	at          time.Time
	batchSize   int

	afterID string
	buf     []models.Relationship
	idx     int
	done    bool
	err     error
}

// ListActive returns an iterator over the principal's live relationships,
// optionally narrowed to one kind. Liveness is evaluated at call time.
func (s *RelationshipStore) ListActive(principalID string, kind models.RelationshipKind) *RelationshipIter {
	return &RelationshipIter{
		store:       s,
		principalID: principalID,
		kind:        kind,
		at:          s.now(),
		batchSize:   defaultIterBatchSize,
	}
}

// Next advances the iterator, loading the next batch when the buffer is
// drained. It returns false at the end of the sequence or on error.
func (it *RelationshipIter) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}

	it.idx++
	if it.idx < len(it.buf) {
		return true
	}
	if it.done {
		return false
	}

	if len(it.buf) > 0 {
		it.afterID = it.buf[len(it.buf)-1].ID
	}

	batch, err := it.loadBatch(ctx)
	if err != nil {
		it.err = err
		return false
	}

	it.buf = batch
	it.idx = 0
	if len(batch) < it.batchSize {
		it.done = true
	}
	return len(batch) > 0
}

// Relationship returns the current row. Only valid after Next reports true.
func (it *RelationshipIter) Relationship() *models.Relationship {
	if it.idx < 0 || it.idx >= len(it.buf) {
		return nil
	}
	return &it.buf[it.idx]
}

// Err reports the first error encountered while iterating.
func (it *RelationshipIter) Err() error {
	return it.err
}

// Restart rewinds the iterator to the beginning of the sequence.
func (it *RelationshipIter) Restart() {
	it.afterID = ""
	it.buf = nil
	it.idx = -1
	it.done = false
	it.err = nil
}

func (it *RelationshipIter) loadBatch(ctx context.Context) ([]models.Relationship, error) {
	ctx = ensureContext(ctx)

	query := it.store.liveScope(ctx, it.at).
		Where("subject_type = ? AND subject_id = ?", models.SubjectPrincipal, it.principalID)
	if it.kind != "" {
		query = query.Where("kind = ?", it.kind)
	}
	if it.afterID != "" {
		query = query.Where("id > ?", it.afterID)
	}

	var batch []models.Relationship
	if err := query.Order("id ASC").Limit(it.batchSize).Find(&batch).Error; err != nil {
		return nil, storeError("list active relationships", err)
	}
	return batch, nil
}
