// Package scheduler manages the two background goroutines that run the
// auction lifecycle:
//  1. finalizeLoop – settles parcels whose effective close has passed.
//  2. notifyLoop   – drains the outbid notification queue to the Sender.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/gridlands/auction/internal/domain"
	"github.com/gridlands/auction/internal/service"
	"github.com/gridlands/auction/internal/store"
)

const (
	finalizeInterval = 5 * time.Second
	notifyInterval   = 10 * time.Second
	notifyBatchSize  = 50
)

// ──────────────────────────────────────────────────────────────────────────────
// Sender interface
// ──────────────────────────────────────────────────────────────────────────────

// Sender delivers an outbid notification to the displaced bidder. Declared
// here so mail transports can be swapped without touching the loops.
type Sender interface {
	Send(ctx context.Context, n *domain.OutbidNotification) error
}

// LogSender writes notifications to the log. Stand-in until a mail transport
// is wired; delivery is still marked so the queue drains.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, n *domain.OutbidNotification) error {
	s.Logger.Info("outbid notification",
		"address", n.Address, "x", n.X, "y", n.Y, "new_amount", n.NewAmount)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler runs the auction lifecycle goroutines. Call Start(ctx) once from
// main(); cancel the context to shut it down gracefully.
type Scheduler struct {
	ledger *service.LedgerService
	store  store.Store
	sender Sender
	logger *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(ledger *service.LedgerService, st store.Store, sender Sender, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		ledger: ledger,
		store:  st,
		sender: sender,
		logger: logger,
	}
}

// Start launches the background goroutines. It returns immediately; all
// loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.finalizeLoop(ctx)
	go s.notifyLoop(ctx)
	s.logger.Info("scheduler started")
}

// ──────────────────────────────────────────────────────────────────────────────
// finalizeLoop
// ──────────────────────────────────────────────────────────────────────────────

// finalizeLoop polls for parcels past their effective close and settles them.
// A failing parcel is logged and retried on the next tick; the loop never
// stops on settlement errors.
func (s *Scheduler) finalizeLoop(ctx context.Context) {
	defer s.recoverAndLog("finalizeLoop")

	ticker := time.NewTicker(finalizeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("finalizeLoop: shutting down")
			return
		case <-ticker.C:
			n, err := s.ledger.FinalizeExpired(ctx)
			if err != nil {
				s.logger.Error("finalizeLoop: FinalizeExpired", "err", err)
				continue
			}
			if n > 0 {
				s.logger.Info("parcels settled", "count", n)
			}
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// notifyLoop
// ──────────────────────────────────────────────────────────────────────────────

// notifyLoop drains pending outbid notifications in batches. A notification
// is marked sent only after the Sender accepts it, so delivery is
// at-least-once.
func (s *Scheduler) notifyLoop(ctx context.Context) {
	defer s.recoverAndLog("notifyLoop")

	ticker := time.NewTicker(notifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("notifyLoop: shutting down")
			return
		case <-ticker.C:
			s.drainNotifications(ctx)
		}
	}
}

// drainNotifications is the inner body of notifyLoop, extracted so that the
// defer/recover in the loop catches panics correctly.
func (s *Scheduler) drainNotifications(ctx context.Context) {
	pending, err := s.store.PendingOutbidNotifications(ctx, notifyBatchSize)
	if err != nil {
		s.logger.Error("notifyLoop: list pending", "err", err)
		return
	}

	for _, n := range pending {
		if err := s.sender.Send(ctx, n); err != nil {
			s.logger.Warn("notifyLoop: send failed, will retry",
				"id", n.ID, "address", n.Address, "err", err)
			continue
		}
		if err := s.store.MarkNotificationSent(ctx, n.ID, time.Now().UTC()); err != nil {
			s.logger.Error("notifyLoop: mark sent", "id", n.ID, "err", err)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each goroutine to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
