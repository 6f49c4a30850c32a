package models

import "time"

// Event types
const (
	EventTypeRecordsDiverged = "RECORDS_DIVERGED"
	EventTypeRecordSynced    = "RECORD_SYNCED"
	EventTypeLowStock        = "LOW_STOCK"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordsDivergedEvent published after a committed operation marked rows unsynced
type RecordsDivergedEvent struct {
	BaseEvent
	WarehouseID int64       `json:"warehouse_id"`
	Operation   string      `json:"operation"`
	Refs        []EntityRef `json:"refs"`
}

// RecordSyncedEvent published by the replicator once a row reached the upstream store.
// SyncVersion is the version the replicator read in ListDiverged.
type RecordSyncedEvent struct {
	BaseEvent
	EntityType  EntityType `json:"entity_type"`
	ID          int64      `json:"id"`
	SyncVersion int64      `json:"sync_version"`
	SyncedAt    time.Time  `json:"synced_at"`
}

// LowStockEvent published when a decrease leaves an item at or below its reorder level
type LowStockEvent struct {
	BaseEvent
	WarehouseID  int64 `json:"warehouse_id"`
	ItemID       int64 `json:"item_id"`
	Quantity     int   `json:"quantity"`
	ReorderLevel int   `json:"reorder_level"`
}
