package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"spbukita/backend/internal/domain"
	"spbukita/backend/internal/store"
	"spbukita/backend/internal/xid"
)

// GetCurrentPrice resolves the price entry in effect right now for the
// product type, preferring a station-specific entry over a station-wide one.
func (s *Service) GetCurrentPrice(ctx context.Context, productType string, stationID string) (domain.PriceEntry, error) {
	entry, err := s.repo.FindPriceAt(ctx, productType, stationID, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return domain.PriceEntry{}, fmt.Errorf("%w: %s", ErrNoPriceConfigured, productType)
	}
	if err != nil {
		return domain.PriceEntry{}, err
	}
	return *entry, nil
}

// SetPrice rotates the price book: the currently open entry for the same
// (product type, station) scope is closed at the new entry's effectiveFrom
// and the new entry becomes current.
func (s *Service) SetPrice(ctx context.Context, req domain.PriceSetRequest) (domain.PriceEntry, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.PriceEntry{}, fmt.Errorf("admin role required")
	}

	req.ProductType = strings.TrimSpace(req.ProductType)
	switch req.ProductType {
	case domain.ProductTypeFuel, domain.ProductTypeLPG, domain.ProductTypeLubricant, domain.ProductTypeShop:
	default:
		return domain.PriceEntry{}, store.ErrInvalidInput
	}
	if !req.RetailPrice.IsPositive() {
		return domain.PriceEntry{}, store.ErrInvalidInput
	}
	if req.WholesalePrice != nil && !req.WholesalePrice.IsPositive() {
		return domain.PriceEntry{}, store.ErrInvalidInput
	}

	effectiveFrom := s.now()
	if req.EffectiveFrom != nil {
		effectiveFrom = req.EffectiveFrom.UTC()
	}

	entry := domain.PriceEntry{
		ID:             xid.New("price"),
		ProductType:    req.ProductType,
		StationID:      req.StationID,
		RetailPrice:    req.RetailPrice,
		WholesalePrice: req.WholesalePrice,
		EffectiveFrom:  effectiveFrom,
		SetBy:          actor.Username,
	}

	created, err := s.repo.RotatePrice(ctx, entry)
	if err != nil {
		return domain.PriceEntry{}, err
	}

	s.logAudit(ctx, req.StationID, "price_set", "price_entry", created.ID,
		fmt.Sprintf("type=%s,retail=%s", created.ProductType, created.RetailPrice))
	return *created, nil
}

// CalculateAmount prices a quantity at the current rate, using the wholesale
// rate when requested and configured.
func (s *Service) CalculateAmount(ctx context.Context, req domain.AmountRequest) (domain.AmountResponse, error) {
	if req.Liters.IsNegative() {
		return domain.AmountResponse{}, store.ErrInvalidInput
	}

	entry, err := s.GetCurrentPrice(ctx, req.ProductType, req.StationID)
	if err != nil {
		return domain.AmountResponse{}, err
	}

	unitPrice := entry.RetailPrice
	if req.IsWholesale && entry.WholesalePrice != nil {
		unitPrice = *entry.WholesalePrice
	}

	return domain.AmountResponse{
		ProductType: req.ProductType,
		Liters:      req.Liters,
		UnitPrice:   unitPrice,
		Amount:      req.Liters.Mul(unitPrice),
	}, nil
}

func (s *Service) GetPriceHistory(ctx context.Context, productType string, stationID string, limit int) ([]domain.PriceEntry, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.ListPriceEntries(ctx, productType, stationID, limit)
}

// dayPricesFor snapshots the fuel prices in effect now for seeding a new
// daily record. A missing price book entry degrades to zero here; the
// reconciliation fallback price covers that gap at calculation time.
func (s *Service) dayPricesFor(ctx context.Context, station domain.Station) domain.DayPrices {
	prices := domain.DayPrices{}

	entry, err := s.repo.FindPriceAt(ctx, domain.ProductTypeFuel, station.ID, s.now())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[service] WARN: price lookup failed station=%s: %v", station.ID, err)
		}
		return prices
	}

	prices.Retail = entry.RetailPrice
	if entry.WholesalePrice != nil {
		prices.Wholesale = *entry.WholesalePrice
	}
	if station.Type == domain.StationTypeGas {
		prices.Gas = entry.RetailPrice
	}
	return prices
}

// resolveFuelPrice picks the per-liter price the meters are reconciled at.
// Gas stations price against the day's gas rate, everyone else against the
// retail rate; a zero day price falls back to the configured default.
func (s *Service) resolveFuelPrice(record domain.DailyRecord, station domain.Station) decimal.Decimal {
	price := record.RetailPrice
	if station.Type == domain.StationTypeGas && !record.GasPrice.IsZero() {
		price = record.GasPrice
	}
	if price.IsZero() {
		price = s.thresholds.FallbackFuelPrice
	}
	return price
}
