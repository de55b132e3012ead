// Package verification confirms claimed workouts against the ledger. A claim
// names a participant and an exact meter count; the most recent unverified
// activity with that distance is marked verified.
package verification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/store"
)

// ChangeNotifier is told after an activity was verified
type ChangeNotifier interface {
	LedgerChanged(ctx context.Context)
}

// Service verifies claimed activities
type Service struct {
	accounts store.AccountStore
	ledger   store.ActivityLedger
	notifier ChangeNotifier
	logger   *slog.Logger
}

// NewService creates a verification service
func NewService(accounts store.AccountStore, ledger store.ActivityLedger, logger *slog.Logger) *Service {
	return &Service{accounts: accounts, ledger: ledger, logger: logger}
}

// SetNotifier registers a listener for ledger changes
func (s *Service) SetNotifier(n ChangeNotifier) {
	s.notifier = n
}

// VerifyClaim marks the participant's latest unverified activity of exactly
// meters as verified. It returns domain.ErrAccountNotFound or
// domain.ErrActivityNotFound when nothing matches.
func (s *Service) VerifyClaim(ctx context.Context, chatID string, meters int64) (*domain.Activity, error) {
	if meters <= 0 {
		return nil, domain.NewValidationError("invalid claim", map[string]string{"meters": "must be greater than 0"})
	}

	acct, err := s.accounts.GetByChatID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	act, err := s.ledger.FindUnverifiedByMeters(ctx, acct.ID, meters)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.VerifyActivity(ctx, act.ID); err != nil {
		return nil, fmt.Errorf("verifying activity %d: %w", act.ID, err)
	}
	act.Verified = true

	s.logger.Info("activity verified",
		"account_id", acct.ID,
		"activity_id", act.ID,
		"meters", meters,
	)
	if s.notifier != nil {
		s.notifier.LedgerChanged(ctx)
	}
	return act, nil
}
