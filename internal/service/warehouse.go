package service

import (
	"context"

	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/util"

	"go.uber.org/zap"
)

// CreateWarehouseRequest represents a request to register a warehouse
type CreateWarehouseRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// CreateWarehouse registers a new tenant
func (c *Core) CreateWarehouse(ctx context.Context, req *CreateWarehouseRequest) (*models.Warehouse, error) {
	ctx, span := util.StartSpan(ctx, "Core.CreateWarehouse")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = c.check(req); err != nil {
		return nil, err
	}
	w := &models.Warehouse{Name: req.Name}
	if err = c.store.CreateWarehouse(ctx, w); err != nil {
		return nil, err
	}

	c.logger.Info("Warehouse created", zap.Int64("warehouse_id", w.ID), zap.String("name", w.Name))
	return w, nil
}

// GetWarehouse retrieves a warehouse
func (c *Core) GetWarehouse(ctx context.Context, id int64) (*models.Warehouse, error) {
	return c.store.GetWarehouse(ctx, id)
}
