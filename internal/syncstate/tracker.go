// Package syncstate tracks which local rows have diverged from the upstream
// replica and exposes them to the replicator.
package syncstate

import (
	"context"
	"fmt"
	"time"

	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/store"
	"warehouse-ledger/internal/util"

	"go.uber.org/zap"
)

// ChangeSet collects the rows touched by one business operation, in first-seen
// order and without duplicates
type ChangeSet struct {
	refs []models.EntityRef
	seen map[models.EntityRef]struct{}
}

// NewChangeSet creates an empty change set
func NewChangeSet() *ChangeSet {
	return &ChangeSet{seen: make(map[models.EntityRef]struct{})}
}

// Add records rows of one entity type. Zero ids are ignored.
func (c *ChangeSet) Add(entityType models.EntityType, ids ...int64) {
	for _, id := range ids {
		if id == 0 {
			continue
		}
		ref := models.EntityRef{Type: entityType, ID: id}
		if _, ok := c.seen[ref]; ok {
			continue
		}
		c.seen[ref] = struct{}{}
		c.refs = append(c.refs, ref)
	}
}

// AddRefs records already built references
func (c *ChangeSet) AddRefs(refs ...models.EntityRef) {
	for _, ref := range refs {
		c.Add(ref.Type, ref.ID)
	}
}

// Refs returns the collected references
func (c *ChangeSet) Refs() []models.EntityRef {
	out := make([]models.EntityRef, len(c.refs))
	copy(out, c.refs)
	return out
}

// Len returns the number of distinct references
func (c *ChangeSet) Len() int {
	return len(c.refs)
}

// Tracker clears sync flags inside the caller's transaction
type Tracker struct {
	logger *zap.Logger
}

// NewTracker creates a tracker
func NewTracker() *Tracker {
	return &Tracker{logger: util.GetLogger()}
}

// MarkDiverged marks entity and every related row as diverged in tx and
// returns the distinct references it marked. Marking a row that is already
// diverged is a no-op for that row.
func (t *Tracker) MarkDiverged(ctx context.Context, tx store.Tx, entity models.EntityRef, related []models.EntityRef) ([]models.EntityRef, error) {
	cs := NewChangeSet()
	cs.AddRefs(entity)
	cs.AddRefs(related...)
	return t.Apply(ctx, tx, cs)
}

// Apply marks every row of cs as diverged in one call
func (t *Tracker) Apply(ctx context.Context, tx store.Tx, cs *ChangeSet) ([]models.EntityRef, error) {
	refs := cs.Refs()
	if len(refs) == 0 {
		return nil, nil
	}

	if err := tx.MarkDiverged(ctx, refs); err != nil {
		return nil, fmt.Errorf("failed to mark records diverged: %w", err)
	}

	t.logger.Debug("Records marked diverged", zap.Int("count", len(refs)))
	return refs, nil
}

// CountDiverged feeds the diverged-records metric once the transaction that
// marked refs has committed
func CountDiverged(refs []models.EntityRef) {
	for _, ref := range refs {
		util.DivergedRecordsTotal.WithLabelValues(string(ref.Type)).Inc()
	}
}

// Reader is the replicator's view of the sync state
type Reader struct {
	store        store.Store
	defaultLimit int
	logger       *zap.Logger
}

// NewReader creates a reader; limit is used when a caller asks for none
func NewReader(s store.Store, defaultLimit int) *Reader {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &Reader{
		store:        s,
		defaultLimit: defaultLimit,
		logger:       util.GetLogger(),
	}
}

// ListDiverged lists up to limit rows of entityType whose sync flag is cleared
func (r *Reader) ListDiverged(ctx context.Context, entityType models.EntityType, limit int) ([]models.SyncRecord, error) {
	ctx, span := util.StartSpan(ctx, "SyncReader.ListDiverged")
	defer span.End()

	if !entityType.Valid() {
		return nil, models.NewValidationError("entity_type", "unknown entity type "+string(entityType))
	}
	if limit <= 0 {
		limit = r.defaultLimit
	}

	records, err := r.store.ListDiverged(ctx, entityType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list diverged %s: %w", entityType, err)
	}
	if records == nil {
		records = []models.SyncRecord{}
	}
	return records, nil
}

// MarkSynced sets the sync flag of one row if it is still at the version the
// replicator copied. It reports false, without error, when the row diverged
// again since; that row stays diverged. A zero syncedAt means now.
func (r *Reader) MarkSynced(ctx context.Context, entityType models.EntityType, id, version int64, syncedAt time.Time) (bool, error) {
	ctx, span := util.StartSpan(ctx, "SyncReader.MarkSynced")
	defer span.End()

	if !entityType.Valid() {
		return false, models.NewValidationError("entity_type", "unknown entity type "+string(entityType))
	}
	if id <= 0 {
		return false, models.NewValidationError("id", "must be positive")
	}
	if version <= 0 {
		return false, models.NewValidationError("sync_version", "must be positive")
	}
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	applied, err := r.store.MarkSynced(ctx, entityType, id, version, syncedAt.UTC())
	if err != nil {
		util.SyncAcksTotal.WithLabelValues("error").Inc()
		return false, err
	}

	if !applied {
		util.SyncAcksTotal.WithLabelValues("stale").Inc()
		r.logger.Info("Ignoring stale sync acknowledgement",
			zap.String("entity_type", string(entityType)),
			zap.Int64("id", id),
			zap.Int64("sync_version", version))
		return false, nil
	}

	util.SyncAcksTotal.WithLabelValues("applied").Inc()
	return true, nil
}
