package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"spbukita/backend/internal/domain"
)

// CalculateReconciliation builds the reconciliation snapshot for the shift's
// window [openedAt, at). Expected fuel revenue comes from meter sold
// quantities at the day's fuel price; expected other revenue and the received
// buckets come from the shift window's non-voided transactions.
func (s *Service) CalculateReconciliation(ctx context.Context, sctx domain.ShiftContext, at time.Time) (domain.ShiftReconciliation, error) {
	fuelPrice := s.resolveFuelPrice(sctx.DailyRecord, sctx.Station)

	expectedFuel := decimal.Zero
	if domain.StationRequiresMetering(sctx.Station.Type) {
		soldTotal := decimal.Zero
		for _, reading := range sctx.Readings {
			if reading.SoldQty == nil {
				continue
			}
			soldTotal = soldTotal.Add(*reading.SoldQty)
		}
		expectedFuel = soldTotal.Mul(fuelPrice)
	}

	transactions, err := s.repo.ListTransactions(ctx, sctx.Station.ID, sctx.Shift.OpenedAt, at)
	if err != nil {
		return domain.ShiftReconciliation{}, err
	}

	expectedOther := decimal.Zero
	cash, credit, transfer := decimal.Zero, decimal.Zero, decimal.Zero
	for _, tx := range transactions {
		if tx.Kind == domain.TxKindProduct {
			expectedOther = expectedOther.Add(tx.Amount)
		}
		switch domain.PaymentBucket(tx.PaymentMethod) {
		case "cash":
			cash = cash.Add(tx.Amount)
		case "credit":
			credit = credit.Add(tx.Amount)
		case "transfer":
			transfer = transfer.Add(tx.Amount)
		}
	}

	totalExpected := expectedFuel.Add(expectedOther)
	totalReceived := cash.Add(credit).Add(transfer)
	variance := totalExpected.Sub(totalReceived)

	return domain.ShiftReconciliation{
		ShiftID:             sctx.Shift.ID,
		ExpectedFuelAmount:  expectedFuel,
		ExpectedOtherAmount: expectedOther,
		TotalExpected:       totalExpected,
		CashReceived:        cash,
		CreditReceived:      credit,
		TransferReceived:    transfer,
		TotalReceived:       totalReceived,
		Variance:            variance,
		VarianceStatus:      s.varianceStatus(variance),
		ComputedAt:          at,
	}, nil
}

func (s *Service) GetReconciliation(ctx context.Context, shiftID string) (domain.ShiftReconciliation, error) {
	recon, err := s.repo.GetReconciliation(ctx, shiftID)
	if err != nil {
		return domain.ShiftReconciliation{}, err
	}
	return *recon, nil
}

// varianceStatus classifies the absolute variance against the configured
// bands. The sign of the variance carries no weight here; a surplus is as
// suspicious as a shortfall.
func (s *Service) varianceStatus(variance decimal.Decimal) string {
	abs := variance.Abs()
	switch {
	case abs.LessThanOrEqual(s.thresholds.VarianceYellow):
		return domain.VarianceStatusGreen
	case abs.LessThanOrEqual(s.thresholds.VarianceRed):
		return domain.VarianceStatusYellow
	default:
		return domain.VarianceStatusRed
	}
}
