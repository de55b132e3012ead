package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/store"
)

// ChangeNotifier is told when campaign totals may have changed
type ChangeNotifier interface {
	LedgerChanged(ctx context.Context)
}

// ParticipantService manages campaign sign-ups and pledges
type ParticipantService struct {
	accounts store.AccountStore
	notifier ChangeNotifier
	logger   *slog.Logger
}

// NewParticipantService creates a participant service
func NewParticipantService(accounts store.AccountStore, logger *slog.Logger) *ParticipantService {
	return &ParticipantService{accounts: accounts, logger: logger}
}

// SetNotifier registers a listener told when pledge totals change
func (s *ParticipantService) SetNotifier(n ChangeNotifier) {
	s.notifier = n
}

// Join creates the account for a chat identity, or refreshes its name
func (s *ParticipantService) Join(ctx context.Context, chatID, displayName string) (*domain.Account, error) {
	acct, err := s.accounts.UpsertByChatID(ctx, chatID, displayName)
	if err != nil {
		return nil, fmt.Errorf("joining campaign: %w", err)
	}
	return acct, nil
}

// Pledge records a pledge, joining the campaign first when needed
func (s *ParticipantService) Pledge(ctx context.Context, chatID, displayName string, meters int64) (*domain.Account, error) {
	if meters <= 0 {
		return nil, domain.NewValidationError("invalid pledge", map[string]string{"meters": "must be greater than 0"})
	}

	acct, err := s.Join(ctx, chatID, displayName)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.SetPledge(ctx, chatID, meters); err != nil {
		return nil, fmt.Errorf("setting pledge: %w", err)
	}
	acct.Pledge = meters

	s.logger.Info("pledge recorded", "account_id", acct.ID, "meters", meters)
	if s.notifier != nil {
		s.notifier.LedgerChanged(ctx)
	}
	return acct, nil
}
