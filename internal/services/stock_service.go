package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/kanili/api/internal/domain"
	"github.com/kanili/api/internal/repositories"
)

// StockServiceDeps bundles the collaborators required to construct a stock service.
type StockServiceDeps struct {
	Stock  repositories.StockRepository
	Logger *zap.Logger
	Clock  func() time.Time
}

type stockService struct {
	stock  repositories.StockRepository
	logger *zap.Logger
}

// NewStockService wires dependencies into a concrete StockService implementation.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock service: stock repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &stockService{
		stock:  deps.Stock,
		logger: logger,
	}, nil
}

// CommitOrderLines decrements local inventory for every local line on the
// order. Missing stock records and decrement failures are logged and skipped;
// inventory problems must never abort the rest of a settlement.
func (s *stockService) CommitOrderLines(ctx context.Context, order domain.Order) []StockAdjustment {
	var adjustments []StockAdjustment
	for _, line := range order.Lines {
		if line.Site != domain.SiteLocal {
			continue
		}
		sku := strings.TrimSpace(line.SKU)
		if sku == "" {
			s.logger.Warn("local order line without sku",
				zap.String("orderNumber", order.OrderNumber),
				zap.String("productId", line.ProductID),
			)
			continue
		}

		result, err := s.stock.DecrementAvailable(ctx, sku, int64(line.Quantity))
		if err != nil {
			if repositories.IsNotFound(err) {
				s.logger.Warn("stock record missing, skipping decrement",
					zap.String("orderNumber", order.OrderNumber),
					zap.String("sku", sku),
				)
				adjustments = append(adjustments, StockAdjustment{
					SKU:       sku,
					Requested: int64(line.Quantity),
					Missing:   true,
				})
				continue
			}
			s.logger.Error("stock decrement failed",
				zap.String("orderNumber", order.OrderNumber),
				zap.String("sku", sku),
				zap.Error(err),
			)
			continue
		}

		adjustments = append(adjustments, StockAdjustment{
			SKU:       result.SKU,
			Requested: result.Requested,
			Applied:   result.Applied,
			Remaining: result.Remaining,
		})
	}
	return adjustments
}
