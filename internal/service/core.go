package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"warehouse-ledger/internal/ledger"
	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/store"
	"warehouse-ledger/internal/syncstate"
	"warehouse-ledger/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher publishes events after a unit of work has committed
type EventPublisher interface {
	PublishRecordsDiverged(ctx context.Context, event *models.RecordsDivergedEvent) error
	PublishLowStock(ctx context.Context, event *models.LowStockEvent) error
}

// StockCache mirrors committed stock levels for fast reads
type StockCache interface {
	SetStock(ctx context.Context, warehouseID, itemID int64, quantity int, movementID int64) error
	GetStock(ctx context.Context, warehouseID, itemID int64) (int, bool, error)
}

// Core holds what every service shares: the store, both ledgers, the sync
// tracker and the post-commit side effects
type Core struct {
	store     store.Store
	stock     *ledger.StockLedger
	balance   *ledger.BalanceLedger
	tracker   *syncstate.Tracker
	publisher EventPublisher
	cache     StockCache
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewCore creates the shared service core. publisher and cache may be nil.
func NewCore(s store.Store, publisher EventPublisher, cache StockCache) *Core {
	return &Core{
		store:     s,
		stock:     ledger.NewStockLedger(),
		balance:   ledger.NewBalanceLedger(),
		tracker:   syncstate.NewTracker(),
		publisher: publisher,
		cache:     cache,
		validate:  newValidator(),
		logger:    util.GetLogger(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return v
}

// check runs struct validation and converts the first failure into a ValidationError
func (c *Core) check(req interface{}) error {
	err := c.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return models.NewValidationError(fe.Field(), fmt.Sprintf("failed on the '%s' rule", fe.Tag()))
	}
	return models.NewValidationError("", err.Error())
}

// unit accumulates what one business operation touched so the tracker can be
// called once inside the transaction and side effects can run after commit
type unit struct {
	operation   string
	warehouseID int64
	changes     *syncstate.ChangeSet

	items     map[int64]*models.InventoryItem
	movements []*models.StockMovement
	postings  []*models.BalanceTransaction
	decreased map[int64]bool
}

func newUnit(operation string, warehouseID int64) *unit {
	return &unit{
		operation:   operation,
		warehouseID: warehouseID,
		changes:     syncstate.NewChangeSet(),
		items:       make(map[int64]*models.InventoryItem),
		decreased:   make(map[int64]bool),
	}
}

// stockMoved records a movement and the item state it produced
func (u *unit) stockMoved(m *models.StockMovement, item *models.InventoryItem) {
	u.changes.Add(models.EntityInventoryItem, item.ID)
	u.changes.Add(models.EntityStockMovement, m.ID)
	u.movements = append(u.movements, m)
	u.items[item.ID] = item
	if m.Delta < 0 {
		u.decreased[item.ID] = true
	}
}

// posted records a balance transaction and the account it changed
func (u *unit) posted(bt *models.BalanceTransaction, account *models.Account) {
	u.changes.Add(models.EntityBalanceTransaction, bt.ID)
	u.changes.Add(models.EntityAccount, account.ID)
	u.postings = append(u.postings, bt)
}

func (u *unit) orderChanged(order *models.Order, lines []models.OrderItem, payments []models.Payment) {
	u.changes.Add(models.EntityOrder, order.ID)
	for _, l := range lines {
		u.changes.Add(models.EntityOrderItem, l.ID)
	}
	for _, p := range payments {
		u.changes.Add(models.EntityPayment, p.ID)
	}
}

// run executes fn as one unit of work. Structural checks happen before the
// transaction; the tracker runs once inside it; events, cache writes and
// metrics run only after commit.
func (c *Core) run(ctx context.Context, operation string, warehouseID int64, fn func(ctx context.Context, tx store.Tx, u *unit) error) error {
	start := time.Now()
	defer func() {
		util.OperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	if _, err := c.store.GetWarehouse(ctx, warehouseID); err != nil {
		c.recordFailure(operation, warehouseID, err)
		return err
	}

	var (
		u      *unit
		marked []models.EntityRef
	)
	err := c.store.RunInTx(ctx, func(tx store.Tx) error {
		u = newUnit(operation, warehouseID)
		if err := fn(ctx, tx, u); err != nil {
			return err
		}
		var err error
		marked, err = c.tracker.Apply(ctx, tx, u.changes)
		return err
	})
	if err != nil {
		c.recordFailure(operation, warehouseID, err)
		return err
	}

	util.OperationsTotal.WithLabelValues(operation, "ok").Inc()
	c.afterCommit(ctx, u, marked)
	return nil
}

func (c *Core) recordFailure(operation string, warehouseID int64, err error) {
	result := "error"
	switch {
	case models.IsValidation(err):
		result = "validation"
	case models.IsNotFound(err):
		result = "not_found"
	case models.IsConflict(err):
		result = "conflict"
	case models.IsInsufficientStock(err):
		result = "insufficient_stock"
		util.InsufficientStockTotal.Inc()
	case models.IsConsistency(err):
		result = "consistency"
		util.ConsistencyErrorsTotal.WithLabelValues(operation).Inc()
		c.logger.Error("Ledger invariant violated, operation rolled back",
			zap.String("operation", operation),
			zap.Int64("warehouse_id", warehouseID),
			zap.Error(err))
	default:
		c.logger.Error("Operation failed",
			zap.String("operation", operation),
			zap.Int64("warehouse_id", warehouseID),
			zap.Error(err))
	}
	util.OperationsTotal.WithLabelValues(operation, result).Inc()
}

// afterCommit runs best-effort side effects; failures are logged, never returned
func (c *Core) afterCommit(ctx context.Context, u *unit, marked []models.EntityRef) {
	syncstate.CountDiverged(marked)
	for _, m := range u.movements {
		util.StockMovementsTotal.WithLabelValues(string(m.Type)).Inc()
	}
	for _, bt := range u.postings {
		util.BalancePostingsTotal.WithLabelValues(string(bt.Kind)).Inc()
	}

	if c.cache != nil {
		last := make(map[int64]int64, len(u.items))
		for _, m := range u.movements {
			last[m.ItemID] = m.ID
		}
		for itemID, movementID := range last {
			item := u.items[itemID]
			if err := c.cache.SetStock(ctx, item.WarehouseID, item.ID, item.Quantity, movementID); err != nil {
				c.logger.Warn("Failed to refresh stock cache",
					zap.Int64("item_id", item.ID),
					zap.Error(err))
			}
		}
	}

	for itemID := range u.decreased {
		item := u.items[itemID]
		if !item.BelowReorderLevel() {
			continue
		}
		util.LowStockTotal.Inc()
		c.logger.Info("Item at or below reorder level",
			zap.Int64("item_id", item.ID),
			zap.Int("quantity", item.Quantity),
			zap.Int("reorder_level", item.ReorderLevel))
		c.publishLowStock(ctx, item)
	}

	if len(marked) > 0 {
		c.publishDiverged(ctx, u, marked)
	}
}

func (c *Core) publishDiverged(ctx context.Context, u *unit, refs []models.EntityRef) {
	if c.publisher == nil {
		return
	}
	event := &models.RecordsDivergedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeRecordsDiverged,
			Timestamp: time.Now(),
		},
		WarehouseID: u.warehouseID,
		Operation:   u.operation,
		Refs:        refs,
	}
	if err := c.publisher.PublishRecordsDiverged(ctx, event); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(models.EventTypeRecordsDiverged).Inc()
		c.logger.Error("Failed to publish RecordsDiverged event",
			zap.String("operation", u.operation),
			zap.Error(err))
	}
}

func (c *Core) publishLowStock(ctx context.Context, item *models.InventoryItem) {
	if c.publisher == nil {
		return
	}
	event := &models.LowStockEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeLowStock,
			Timestamp: time.Now(),
		},
		WarehouseID:  item.WarehouseID,
		ItemID:       item.ID,
		Quantity:     item.Quantity,
		ReorderLevel: item.ReorderLevel,
	}
	if err := c.publisher.PublishLowStock(ctx, event); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(models.EventTypeLowStock).Inc()
		c.logger.Error("Failed to publish LowStock event",
			zap.Int64("item_id", item.ID),
			zap.Error(err))
	}
}
