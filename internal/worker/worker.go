package worker

import (
	"context"
	"time"

	"warehouse-ledger/internal/broker"
	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/reconcile"
	"warehouse-ledger/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SyncMarker applies replication acknowledgements
type SyncMarker interface {
	MarkSynced(ctx context.Context, entityType models.EntityType, id, version int64, syncedAt time.Time) (bool, error)
}

// SyncAckWorker consumes RecordSynced acknowledgements and marks rows synced
type SyncAckWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	marker       SyncMarker
	logger       *zap.Logger
}

// NewSyncAckWorker creates a new sync ack worker
func NewSyncAckWorker(consumer *broker.Consumer, marker SyncMarker) *SyncAckWorker {
	w := &SyncAckWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		marker:       marker,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnRecordSynced(w.HandleRecordSynced)
	return w
}

// HandleRecordSynced applies one acknowledgement. Acks for rows that no longer
// exist or are malformed are dropped so they do not block the partition.
func (w *SyncAckWorker) HandleRecordSynced(ctx context.Context, event *models.RecordSyncedEvent) error {
	applied, err := w.marker.MarkSynced(ctx, event.EntityType, event.ID, event.SyncVersion, event.SyncedAt)
	if err != nil {
		if models.IsNotFound(err) || models.IsValidation(err) {
			w.logger.Warn("Dropping sync acknowledgement",
				zap.String("entity_type", string(event.EntityType)),
				zap.Int64("id", event.ID),
				zap.Error(err))
			return nil
		}
		return err
	}

	w.logger.Debug("Sync acknowledgement handled",
		zap.String("entity_type", string(event.EntityType)),
		zap.Int64("id", event.ID),
		zap.Bool("applied", applied))
	return nil
}

// Start starts the worker
func (w *SyncAckWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting sync ack worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SyncAckWorker) Stop() error {
	w.logger.Info("Stopping sync ack worker")
	return w.consumer.Close()
}

// Locker guards work that only one replica may run at a time
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

const reconcileLockKey = "reconcile"

// ReconcileWorker runs the reconciler on a cron schedule
type ReconcileWorker struct {
	cron       *cron.Cron
	schedule   string
	reconciler *reconcile.Reconciler
	locker     Locker
	lockTTL    time.Duration
	logger     *zap.Logger
}

// NewReconcileWorker creates a reconcile worker. locker may be nil when a
// single replica runs.
func NewReconcileWorker(schedule string, reconciler *reconcile.Reconciler, locker Locker, lockTTL time.Duration) *ReconcileWorker {
	return &ReconcileWorker{
		cron:       cron.New(),
		schedule:   schedule,
		reconciler: reconciler,
		locker:     locker,
		lockTTL:    lockTTL,
		logger:     util.GetLogger(),
	}
}

// Start registers the job and starts the scheduler
func (w *ReconcileWorker) Start(ctx context.Context) error {
	if _, err := w.cron.AddFunc(w.schedule, func() { w.RunOnce(ctx) }); err != nil {
		return err
	}
	w.cron.Start()
	w.logger.Info("Reconcile worker started", zap.String("schedule", w.schedule))
	return nil
}

// Stop stops the scheduler and waits for a running job
func (w *ReconcileWorker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Reconcile worker stopped")
}

// RunOnce runs one reconciliation if this replica wins the lock. It reports
// whether a pass ran.
func (w *ReconcileWorker) RunOnce(ctx context.Context) bool {
	if w.locker != nil {
		token, ok, err := w.locker.AcquireLock(ctx, reconcileLockKey, w.lockTTL)
		if err != nil {
			util.ReconcileRunsTotal.WithLabelValues("lock_error").Inc()
			w.logger.Error("Failed to acquire reconcile lock", zap.Error(err))
			return false
		}
		if !ok {
			util.ReconcileRunsTotal.WithLabelValues("skipped").Inc()
			w.logger.Debug("Reconcile lock held elsewhere, skipping")
			return false
		}
		defer func() {
			if err := w.locker.ReleaseLock(context.Background(), reconcileLockKey, token); err != nil {
				w.logger.Warn("Failed to release reconcile lock", zap.Error(err))
			}
		}()
	}

	if _, err := w.reconciler.Run(ctx); err != nil {
		w.logger.Error("Reconciliation failed", zap.Error(err))
	}
	return true
}
