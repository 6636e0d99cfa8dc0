package service

import (
	"context"
	"fmt"

	"spbukita/backend/internal/domain"
	"spbukita/backend/internal/store"
	"spbukita/backend/internal/xid"
)

// RecordTransaction books a payment event against an open shift. Product
// sales with a known product decrement that station's stock first; if the
// decrement fails the transaction is never written.
func (s *Service) RecordTransaction(ctx context.Context, req domain.TransactionCreateRequest) (domain.Transaction, error) {
	actor, _ := ActorFromContext(ctx)

	sctx, err := s.repo.GetShiftContext(ctx, req.ShiftID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if sctx.Shift.Status != domain.ShiftStatusOpen {
		return domain.Transaction{}, store.ErrShiftNotOpen
	}

	if req.Kind != domain.TxKindFuel && req.Kind != domain.TxKindProduct {
		return domain.Transaction{}, store.ErrInvalidInput
	}
	if domain.PaymentBucket(req.PaymentMethod) == "" {
		return domain.Transaction{}, fmt.Errorf("unknown payment method %q: %w", req.PaymentMethod, store.ErrInvalidInput)
	}
	if !req.Amount.IsPositive() || req.Quantity.IsNegative() {
		return domain.Transaction{}, store.ErrInvalidInput
	}

	if req.Kind == domain.TxKindProduct && req.ProductID != "" && req.Quantity.IsPositive() {
		if _, err := s.repo.AdjustInventory(ctx, sctx.Station.ID, req.ProductID, req.Quantity.Neg()); err != nil {
			return domain.Transaction{}, err
		}
	}

	created, err := s.repo.CreateTransaction(ctx, domain.Transaction{
		ID:            xid.New("tx"),
		StationID:     sctx.Station.ID,
		DailyRecordID: sctx.DailyRecord.ID,
		ShiftID:       sctx.Shift.ID,
		Kind:          req.Kind,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		RecordedBy:    actor.Username,
		CreatedAt:     s.now(),
	})
	if err != nil {
		// Put the stock back; the sale never happened.
		if req.Kind == domain.TxKindProduct && req.ProductID != "" && req.Quantity.IsPositive() {
			if _, restoreErr := s.repo.AdjustInventory(ctx, sctx.Station.ID, req.ProductID, req.Quantity); restoreErr != nil {
				return domain.Transaction{}, fmt.Errorf("create failed (%v) and stock restore failed: %w", err, restoreErr)
			}
		}
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, sctx.Station.ID, "transaction_record", "transaction", created.ID,
		fmt.Sprintf("kind=%s,amount=%s,method=%s", created.Kind, created.Amount, created.PaymentMethod))
	return *created, nil
}

// VoidTransaction marks a transaction void and restores any product stock it
// consumed. Voiding is refused once the owning shift is locked.
func (s *Service) VoidTransaction(ctx context.Context, req domain.VoidTransactionRequest) (domain.Transaction, error) {
	if req.Reason == "" {
		return domain.Transaction{}, fmt.Errorf("void reason is required: %w", store.ErrInvalidInput)
	}

	tx, err := s.repo.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return domain.Transaction{}, err
	}

	shift, err := s.repo.GetShift(ctx, tx.ShiftID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if shift.Status == domain.ShiftStatusLocked {
		return domain.Transaction{}, store.ErrShiftLocked
	}
	if shift.Status == domain.ShiftStatusClosed {
		actor, ok := ActorFromContext(ctx)
		if !ok || actor.Role != "admin" {
			return domain.Transaction{}, fmt.Errorf("admin role required")
		}
	}

	voided, err := s.repo.VoidTransaction(ctx, req.TransactionID, req.Reason, s.now())
	if err != nil {
		return domain.Transaction{}, err
	}

	if voided.Kind == domain.TxKindProduct && voided.ProductID != "" && voided.Quantity.IsPositive() {
		if _, err := s.repo.AdjustInventory(ctx, voided.StationID, voided.ProductID, voided.Quantity); err != nil {
			return domain.Transaction{}, fmt.Errorf("transaction voided but stock restore failed: %w", err)
		}
	}

	s.logAudit(ctx, voided.StationID, "transaction_void", "transaction", voided.ID, req.Reason)
	return *voided, nil
}

func (s *Service) ListShiftTransactions(ctx context.Context, shiftID string) ([]domain.Transaction, error) {
	sctx, err := s.repo.GetShiftContext(ctx, shiftID)
	if err != nil {
		return nil, err
	}

	until := s.now()
	if sctx.Shift.ClosedAt != nil {
		until = *sctx.Shift.ClosedAt
	}
	return s.repo.ListTransactions(ctx, sctx.Station.ID, sctx.Shift.OpenedAt, until)
}
