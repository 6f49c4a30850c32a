package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/reconcile"
	"warehouse-ledger/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMarker struct {
	err   error
	calls int
}

func (m *stubMarker) MarkSynced(ctx context.Context, entityType models.EntityType, id, version int64, syncedAt time.Time) (bool, error) {
	m.calls++
	return m.err == nil, m.err
}

func TestHandleRecordSyncedDropsPermanentFailures(t *testing.T) {
	event := &models.RecordSyncedEvent{EntityType: models.EntityOrder, ID: 1, SyncVersion: 3, SyncedAt: time.Now()}

	for name, tc := range map[string]struct {
		err     error
		wantErr bool
	}{
		"applied":   {},
		"not found": {err: models.NewNotFoundError("order", 1)},
		"invalid":   {err: models.NewValidationError("entity_type", "unknown")},
		"transient": {err: errors.New("connection reset"), wantErr: true},
	} {
		t.Run(name, func(t *testing.T) {
			marker := &stubMarker{err: tc.err}
			w := NewSyncAckWorker(nil, marker)
			err := w.HandleRecordSynced(context.Background(), event)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, 1, marker.calls)
		})
	}
}

type stubLocker struct {
	held     bool
	released []string
}

func (l *stubLocker) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	if l.held {
		return "", false, nil
	}
	l.held = true
	return "token-1", true, nil
}

func (l *stubLocker) ReleaseLock(ctx context.Context, lockKey, token string) error {
	l.held = false
	l.released = append(l.released, token)
	return nil
}

func TestRunOnceHonoursLock(t *testing.T) {
	s := store.NewMemStore()
	locker := &stubLocker{}
	w := NewReconcileWorker("@every 1h", reconcile.NewReconciler(s), locker, time.Minute)

	assert.True(t, w.RunOnce(context.Background()))
	assert.Equal(t, []string{"token-1"}, locker.released)

	locker.held = true
	assert.False(t, w.RunOnce(context.Background()))
	assert.Len(t, locker.released, 1)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	w := NewReconcileWorker("not a schedule", reconcile.NewReconciler(store.NewMemStore()), nil, time.Minute)
	require.Error(t, w.Start(context.Background()))

	w = NewReconcileWorker("@every 1h", reconcile.NewReconciler(store.NewMemStore()), nil, time.Minute)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
}
