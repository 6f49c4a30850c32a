package ledger

import (
	"context"
	"fmt"
	"sort"

	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/store"
)

// Policy decides what a decrease larger than the available quantity does
type Policy string

const (
	// PolicyReject fails the adjustment with InsufficientStockError
	PolicyReject Policy = "reject"
	// PolicyClamp drains the item to zero and records the applied delta
	PolicyClamp Policy = "clamp"
)

// ParsePolicy parses a configured policy name
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyReject, PolicyClamp:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown stock policy %q", s)
}

// Adjustment describes one change to an item's quantity
type Adjustment struct {
	WarehouseID int64
	ItemID      int64
	Type        models.MovementType
	Magnitude   int
	Reason      string
	Reference   string
	Policy      Policy
}

// Validate checks an adjustment before any row is touched
func (a Adjustment) Validate() error {
	if !a.Type.Valid() {
		return models.NewValidationError("type", "must be one of increase, decrease, set")
	}
	if a.Type == models.MovementSet {
		if a.Magnitude < 0 {
			return models.NewValidationError("magnitude", "must not be negative")
		}
	} else if a.Magnitude <= 0 {
		return models.NewValidationError("magnitude", "must be positive")
	}
	if a.Reason == "" {
		return models.NewValidationError("reason", "is required")
	}
	return nil
}

// StockLedger is the single writer of InventoryItem.Quantity. Every change
// appends one StockMovement whose QuantityAfter becomes the new quantity.
type StockLedger struct{}

// NewStockLedger creates a stock ledger
func NewStockLedger() *StockLedger {
	return &StockLedger{}
}

// LockItems locks the given items in ascending id order and verifies each
// against its movement log. Duplicate ids are locked once.
func (l *StockLedger) LockItems(ctx context.Context, tx store.Tx, warehouseID int64, ids []int64) (map[int64]*models.InventoryItem, error) {
	sorted := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	items := make(map[int64]*models.InventoryItem, len(sorted))
	for _, id := range sorted {
		item, err := l.lockItem(ctx, tx, warehouseID, id)
		if err != nil {
			return nil, err
		}
		items[id] = item
	}
	return items, nil
}

func (l *StockLedger) lockItem(ctx context.Context, tx store.Tx, warehouseID, id int64) (*models.InventoryItem, error) {
	item, err := tx.GetItemForUpdate(ctx, warehouseID, id)
	if err != nil {
		return nil, err
	}

	last, err := tx.LastMovement(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read last movement: %w", err)
	}
	expected := 0
	if last != nil {
		expected = last.QuantityAfter
	}
	if item.Quantity != expected {
		return nil, &models.ConsistencyError{
			Entity:  "inventory item",
			ID:      item.ID,
			Message: fmt.Sprintf("cached quantity %d differs from ledger quantity %d", item.Quantity, expected),
		}
	}
	return item, nil
}

// Adjust applies one adjustment inside tx and returns the movement written
// and the updated item
func (l *StockLedger) Adjust(ctx context.Context, tx store.Tx, adj Adjustment) (*models.StockMovement, *models.InventoryItem, error) {
	if err := adj.Validate(); err != nil {
		return nil, nil, err
	}

	item, err := l.lockItem(ctx, tx, adj.WarehouseID, adj.ItemID)
	if err != nil {
		return nil, nil, err
	}

	before := item.Quantity
	var after int
	switch adj.Type {
	case models.MovementIncrease:
		after = before + adj.Magnitude
	case models.MovementDecrease:
		if adj.Magnitude > before {
			if adj.Policy != PolicyClamp {
				return nil, nil, &models.InsufficientStockError{
					ItemID:    item.ID,
					Available: before,
					Requested: adj.Magnitude,
				}
			}
			after = 0
		} else {
			after = before - adj.Magnitude
		}
	case models.MovementSet:
		after = adj.Magnitude
	}

	movement := &models.StockMovement{
		WarehouseID:    adj.WarehouseID,
		ItemID:         item.ID,
		Type:           adj.Type,
		Delta:          after - before,
		QuantityBefore: before,
		QuantityAfter:  after,
		Reason:         adj.Reason,
		Reference:      models.StringRef(adj.Reference),
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return nil, nil, fmt.Errorf("failed to insert stock movement: %w", err)
	}

	item.Quantity = movement.QuantityAfter
	if err := tx.UpdateItem(ctx, item); err != nil {
		return nil, nil, fmt.Errorf("failed to update item quantity: %w", err)
	}

	return movement, item, nil
}
