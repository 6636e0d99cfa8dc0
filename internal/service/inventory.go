package service

import (
	"context"
	"fmt"
	"strings"

	"spbukita/backend/internal/domain"
	"spbukita/backend/internal/store"
	"spbukita/backend/internal/xid"
)

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Name == "" || req.Unit == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	switch req.Type {
	case domain.ProductTypeFuel, domain.ProductTypeLPG, domain.ProductTypeLubricant, domain.ProductTypeShop:
	default:
		return domain.Product{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:        xid.New("prd"),
		StationID: req.StationID,
		Name:      req.Name,
		Type:      req.Type,
		Unit:      req.Unit,
		Active:    true,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, req.StationID, "product_create", "product", created.ID, fmt.Sprintf("name=%s,type=%s", created.Name, created.Type))
	return *created, nil
}

func (s *Service) ListProducts(ctx context.Context, stationID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, stationID)
}

// UpdateInventory applies a signed delta to one (station, product) stock row.
// The repository rejects any delta that would drive stock negative, leaving
// the row untouched.
func (s *Service) UpdateInventory(ctx context.Context, req domain.InventoryUpdateRequest) (domain.InventoryUpdateResponse, error) {
	if req.StationID == "" || req.ProductID == "" || req.Delta.IsZero() {
		return domain.InventoryUpdateResponse{}, store.ErrInvalidInput
	}
	if _, err := s.repo.GetProduct(ctx, req.ProductID); err != nil {
		return domain.InventoryUpdateResponse{}, err
	}

	updated, err := s.repo.AdjustInventory(ctx, req.StationID, req.ProductID, req.Delta)
	if err != nil {
		return domain.InventoryUpdateResponse{}, err
	}

	s.logAudit(ctx, req.StationID, "inventory_adjust", "inventory", req.ProductID,
		fmt.Sprintf("delta=%s,quantity=%s", req.Delta, updated.Quantity))
	return domain.InventoryUpdateResponse{Inventory: *updated}, nil
}

// CheckLowStock returns the station's inventory rows at or below their alert
// level.
func (s *Service) CheckLowStock(ctx context.Context, stationID string) ([]domain.ProductInventory, error) {
	items, err := s.repo.ListInventory(ctx, stationID)
	if err != nil {
		return nil, err
	}

	low := make([]domain.ProductInventory, 0, len(items))
	for _, item := range items {
		if item.AlertLevel.IsPositive() && item.Quantity.LessThanOrEqual(item.AlertLevel) {
			low = append(low, item)
		}
	}
	return low, nil
}

// GetStationInventorySummary joins stock rows with their product names and
// flags the low ones.
func (s *Service) GetStationInventorySummary(ctx context.Context, stationID string) (domain.InventorySummary, error) {
	if _, err := s.repo.GetStation(ctx, stationID); err != nil {
		return domain.InventorySummary{}, err
	}
	items, err := s.repo.ListInventory(ctx, stationID)
	if err != nil {
		return domain.InventorySummary{}, err
	}

	summary := domain.InventorySummary{StationID: stationID, Items: make([]domain.InventorySummaryItem, 0, len(items))}
	for _, item := range items {
		name := item.ProductID
		if product, err := s.repo.GetProduct(ctx, item.ProductID); err == nil {
			name = product.Name
		}
		low := item.AlertLevel.IsPositive() && item.Quantity.LessThanOrEqual(item.AlertLevel)
		if low {
			summary.LowCount++
		}
		summary.Items = append(summary.Items, domain.InventorySummaryItem{
			ProductID:   item.ProductID,
			ProductName: name,
			Quantity:    item.Quantity,
			AlertLevel:  item.AlertLevel,
			LowStock:    low,
		})
	}
	return summary, nil
}
