package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/gridlands/auction/internal/store"
)

// Summary is the operator-facing snapshot of the ledger.
type Summary struct {
	AddressesWithBalance int64           `json:"addressesWithBalance"`
	AddressesWithEmail   int64           `json:"addressesWithEmail"`
	MaxBalance           decimal.Decimal `json:"maxBalance"`
	TotalLocked          decimal.Decimal `json:"totalLocked"`
}

// SummaryService serves aggregate read models for the backoffice.
type SummaryService struct {
	store  store.Store
	logger *slog.Logger
}

func NewSummaryService(st store.Store, logger *slog.Logger) *SummaryService {
	return &SummaryService{store: st, logger: logger}
}

// Snapshot gathers the ledger aggregates in one pass.
func (s *SummaryService) Snapshot(ctx context.Context) (*Summary, error) {
	withBalance, err := s.store.CountAddressesWithBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("summary_service.Snapshot: %w", err)
	}
	withEmail, err := s.store.CountAddressesWithEmail(ctx)
	if err != nil {
		return nil, fmt.Errorf("summary_service.Snapshot: %w", err)
	}
	maxBalance, err := s.store.MaxBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("summary_service.Snapshot: %w", err)
	}
	totalLocked, err := s.store.TotalLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("summary_service.Snapshot: %w", err)
	}

	return &Summary{
		AddressesWithBalance: withBalance,
		AddressesWithEmail:   withEmail,
		MaxBalance:           maxBalance,
		TotalLocked:          totalLocked,
	}, nil
}
