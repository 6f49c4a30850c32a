package service

import (
	"context"
	"fmt"

	"warehouse-ledger/internal/ledger"
	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/store"
	"warehouse-ledger/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockService is the stand-alone entry point to the stock ledger
type StockService struct {
	*Core
}

// NewStockService creates a new stock service
func NewStockService(core *Core) *StockService {
	return &StockService{Core: core}
}

// CreateItemRequest represents a request to create an inventory item
type CreateItemRequest struct {
	WarehouseID    int64           `json:"-" validate:"required"`
	Code           string          `json:"code" validate:"required,max=64"`
	Name           string          `json:"name" validate:"required,max=255"`
	Quantity       int             `json:"quantity" validate:"gte=0"`
	ReorderLevel   int             `json:"reorder_level" validate:"gte=0"`
	Cost           decimal.Decimal `json:"cost"`
	RetailPrice    decimal.Decimal `json:"retail_price"`
	WholesalePrice decimal.Decimal `json:"wholesale_price"`
}

// AdjustStockRequest represents a manual stock adjustment
type AdjustStockRequest struct {
	WarehouseID int64               `json:"-" validate:"required"`
	ItemID      int64               `json:"-" validate:"required"`
	Type        models.MovementType `json:"type" validate:"required,oneof=increase decrease set"`
	Magnitude   int                 `json:"magnitude" validate:"gte=0"`
	Reason      string              `json:"reason" validate:"required,max=255"`
	Reference   string              `json:"reference" validate:"max=255"`
}

// StockResult is an item together with the movement that produced its quantity
type StockResult struct {
	Item     *models.InventoryItem `json:"item"`
	Movement *models.StockMovement `json:"movement,omitempty"`
}

// StockLevel is a current quantity and where it was read from
type StockLevel struct {
	WarehouseID int64  `json:"warehouse_id"`
	ItemID      int64  `json:"item_id"`
	Quantity    int    `json:"quantity"`
	Source      string `json:"source"`
}

func checkPrices(prices map[string]decimal.Decimal) error {
	for field, p := range prices {
		if p.IsNegative() {
			return models.NewValidationError(field, "must not be negative")
		}
	}
	return nil
}

// CreateItem creates an item; a non-zero opening quantity is recorded as a set movement
func (s *StockService) CreateItem(ctx context.Context, req *CreateItemRequest) (*StockResult, error) {
	ctx, span := util.StartSpan(ctx, "StockService.CreateItem")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = s.check(req); err != nil {
		return nil, err
	}
	if err = checkPrices(map[string]decimal.Decimal{
		"cost": req.Cost, "retail_price": req.RetailPrice, "wholesale_price": req.WholesalePrice,
	}); err != nil {
		return nil, err
	}

	result := &StockResult{}
	err = s.run(ctx, "create_item", req.WarehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		item := &models.InventoryItem{
			WarehouseID:    req.WarehouseID,
			Code:           req.Code,
			Name:           req.Name,
			ReorderLevel:   req.ReorderLevel,
			Cost:           req.Cost,
			RetailPrice:    req.RetailPrice,
			WholesalePrice: req.WholesalePrice,
		}
		if err := tx.CreateItem(ctx, item); err != nil {
			return err
		}
		u.changes.Add(models.EntityInventoryItem, item.ID)
		result.Item = item

		if req.Quantity == 0 {
			return nil
		}
		movement, updated, err := s.stock.Adjust(ctx, tx, ledger.Adjustment{
			WarehouseID: req.WarehouseID,
			ItemID:      item.ID,
			Type:        models.MovementSet,
			Magnitude:   req.Quantity,
			Reason:      "opening stock",
			Policy:      ledger.PolicyReject,
		})
		if err != nil {
			return err
		}
		u.stockMoved(movement, updated)
		result.Item, result.Movement = updated, movement
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Inventory item created",
		zap.Int64("warehouse_id", req.WarehouseID),
		zap.Int64("item_id", result.Item.ID),
		zap.String("code", result.Item.Code))
	return result, nil
}

// Adjust applies a manual stock adjustment. Decreases beyond the available
// quantity are rejected.
func (s *StockService) Adjust(ctx context.Context, req *AdjustStockRequest) (*StockResult, error) {
	ctx, span := util.StartSpan(ctx, "StockService.Adjust")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = s.check(req); err != nil {
		return nil, err
	}
	adj := ledger.Adjustment{
		WarehouseID: req.WarehouseID,
		ItemID:      req.ItemID,
		Type:        req.Type,
		Magnitude:   req.Magnitude,
		Reason:      req.Reason,
		Reference:   req.Reference,
		Policy:      ledger.PolicyReject,
	}
	if err = adj.Validate(); err != nil {
		return nil, err
	}

	result := &StockResult{}
	err = s.run(ctx, "adjust_stock", req.WarehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		movement, item, err := s.stock.Adjust(ctx, tx, adj)
		if err != nil {
			return err
		}
		u.stockMoved(movement, item)
		result.Item, result.Movement = item, movement
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Stock adjusted",
		zap.Int64("item_id", req.ItemID),
		zap.String("type", string(req.Type)),
		zap.Int("delta", result.Movement.Delta),
		zap.Int("quantity", result.Item.Quantity))
	return result, nil
}

// GetItem retrieves an inventory item
func (s *StockService) GetItem(ctx context.Context, warehouseID, itemID int64) (*models.InventoryItem, error) {
	ctx, span := util.StartSpan(ctx, "StockService.GetItem")
	defer span.End()
	return s.store.GetItem(ctx, warehouseID, itemID)
}

// ListItems lists a warehouse's items
func (s *StockService) ListItems(ctx context.Context, warehouseID int64) ([]models.InventoryItem, error) {
	ctx, span := util.StartSpan(ctx, "StockService.ListItems")
	defer span.End()

	if _, err := s.store.GetWarehouse(ctx, warehouseID); err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.InventoryItem{}
	}
	return items, nil
}

// ListMovements lists an item's movement log, oldest first
func (s *StockService) ListMovements(ctx context.Context, warehouseID, itemID int64) ([]models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "StockService.ListMovements")
	defer span.End()

	if _, err := s.store.GetItem(ctx, warehouseID, itemID); err != nil {
		return nil, err
	}
	movements, err := s.store.ListMovements(ctx, warehouseID, itemID)
	if err != nil {
		return nil, err
	}
	if movements == nil {
		movements = []models.StockMovement{}
	}
	return movements, nil
}

// GetStockLevel reads an item's quantity from the cache, falling back to the store
func (s *StockService) GetStockLevel(ctx context.Context, warehouseID, itemID int64) (*StockLevel, error) {
	ctx, span := util.StartSpan(ctx, "StockService.GetStockLevel")
	defer span.End()

	if s.cache != nil {
		quantity, ok, err := s.cache.GetStock(ctx, warehouseID, itemID)
		switch {
		case err != nil:
			util.StockCacheTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Stock cache read failed", zap.Int64("item_id", itemID), zap.Error(err))
		case ok:
			util.StockCacheTotal.WithLabelValues("hit").Inc()
			return &StockLevel{WarehouseID: warehouseID, ItemID: itemID, Quantity: quantity, Source: "cache"}, nil
		default:
			util.StockCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	item, err := s.store.GetItem(ctx, warehouseID, itemID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		// movement id 0 only fills an empty entry and never overrides a committed write
		if err := s.cache.SetStock(ctx, warehouseID, itemID, item.Quantity, 0); err != nil {
			s.logger.Warn("Failed to seed stock cache", zap.Int64("item_id", itemID), zap.Error(err))
		}
	}
	return &StockLevel{WarehouseID: warehouseID, ItemID: itemID, Quantity: item.Quantity, Source: "store"}, nil
}

// WarmStockCache seeds the cache with every item's committed quantity
func (s *StockService) WarmStockCache(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "StockService.WarmStockCache")
	defer span.End()

	if s.cache == nil {
		return nil
	}

	items, err := s.store.ListItems(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}

	for _, item := range items {
		if err := s.cache.SetStock(ctx, item.WarehouseID, item.ID, item.Quantity, 0); err != nil {
			s.logger.Error("Failed to warm stock cache",
				zap.Int64("item_id", item.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("Stock cache warmed", zap.Int("items", len(items)))
	return nil
}
