package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType names a replicated table
type EntityType string

const (
	EntityInventoryItem      EntityType = "inventory_item"
	EntityStockMovement      EntityType = "stock_movement"
	EntityAccount            EntityType = "account"
	EntityBalanceTransaction EntityType = "balance_transaction"
	EntityOrder              EntityType = "order"
	EntityOrderItem          EntityType = "order_item"
	EntityPayment            EntityType = "payment"
)

// EntityTypes lists every replicated entity type
var EntityTypes = []EntityType{
	EntityInventoryItem,
	EntityStockMovement,
	EntityAccount,
	EntityBalanceTransaction,
	EntityOrder,
	EntityOrderItem,
	EntityPayment,
}

// Valid reports whether t is a replicated entity type
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// AppendOnly reports whether rows of this type are ledger entries
func (t EntityType) AppendOnly() bool {
	return t == EntityStockMovement || t == EntityBalanceTransaction
}

// EntityRef identifies one row of one replicated table
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   int64      `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// SyncRecord is a diverged row as handed to the replicator
type SyncRecord struct {
	EntityType  EntityType      `db:"-" json:"entity_type"`
	ID          int64           `db:"id" json:"id"`
	WarehouseID int64           `db:"warehouse_id" json:"warehouse_id"`
	Version     int64           `db:"sync_version" json:"sync_version"`
	ChangedAt   time.Time       `db:"changed_at" json:"changed_at"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
}
