// Package webhook turns pushed Concept2 result events into ledger writes.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/observability"
	"github.com/rowpledge/internal/store"
	"github.com/rowpledge/internal/validation"
)

// Outcome reports what Handle did with an event. Every outcome is a success
// from the sender's point of view.
type Outcome string

const (
	OutcomeStored         Outcome = "stored"
	OutcomeDeleted        Outcome = "deleted"
	OutcomeUnknownAccount Outcome = "unknown_account"
	OutcomeOutsideWindow  Outcome = "outside_window"
)

// LedgerNotifier is told after the ledger changed
type LedgerNotifier interface {
	LedgerChanged(ctx context.Context)
}

// Ingestor applies webhook events to the activity ledger
type Ingestor struct {
	accounts  store.AccountStore
	ledger    store.ActivityLedger
	window    domain.Window
	validator *validation.Validator
	notifier  LedgerNotifier
	logger    *slog.Logger
}

// NewIngestor creates an ingestor bound to the campaign window
func NewIngestor(accounts store.AccountStore, ledger store.ActivityLedger, window domain.Window, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		accounts:  accounts,
		ledger:    ledger,
		window:    window,
		validator: validation.New(),
		logger:    logger,
	}
}

// SetNotifier registers a listener for ledger changes
func (i *Ingestor) SetNotifier(n LedgerNotifier) {
	i.notifier = n
}

// Handle applies a decoded event. Validation failures return an error
// matching domain.ErrValidation; store failures are returned wrapped.
func (i *Ingestor) Handle(ctx context.Context, event Event) (Outcome, error) {
	var (
		outcome Outcome
		err     error
	)
	switch e := event.(type) {
	case ResultAdded:
		outcome, err = i.handleAdded(ctx, e)
	case *ResultAdded:
		outcome, err = i.handleAdded(ctx, *e)
	case ResultDeleted:
		outcome, err = i.handleDeleted(ctx, e)
	case *ResultDeleted:
		outcome, err = i.handleDeleted(ctx, *e)
	default:
		err = domain.NewValidationError(fmt.Sprintf("unsupported event %T", event), nil)
	}

	switch {
	case err == nil:
		observability.RecordWebhook(string(outcome))
	case errors.Is(err, domain.ErrValidation):
		observability.RecordWebhook("invalid")
	default:
		observability.RecordWebhook("error")
	}
	return outcome, err
}

func (i *Ingestor) handleAdded(ctx context.Context, e ResultAdded) (Outcome, error) {
	if err := i.validator.Validate(e.Result); err != nil {
		i.logger.Warn("rejected webhook result", "error", err)
		return "", err
	}

	userID := e.Result.UserID.String()
	owner, err := i.accounts.GetByExternalID(ctx, userID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		i.logger.Warn("webhook for unknown concept2 user", "user_id", userID, "result_id", e.Result.ID.String())
		return OutcomeUnknownAccount, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving owner: %w", err)
	}

	rec, err := e.Result.Record(owner.ID, i.window.Location())
	if err != nil {
		return "", domain.NewValidationError("invalid payload", map[string]string{"date": err.Error()})
	}
	if !i.window.Contains(rec.Date) {
		i.logger.Warn("webhook result outside campaign window",
			"result_id", rec.ExternalID,
			"date", e.Result.Date,
			"window", i.window.String(),
		)
		return OutcomeOutsideWindow, nil
	}

	if err := i.ledger.UpsertActivity(ctx, rec); err != nil {
		return "", err
	}
	i.logger.Info("stored webhook result",
		"account_id", owner.ID,
		"result_id", rec.ExternalID,
		"meters", rec.Meters,
		"verified", rec.Verified,
	)
	i.changed(ctx)
	return OutcomeStored, nil
}

func (i *Ingestor) handleDeleted(ctx context.Context, e ResultDeleted) (Outcome, error) {
	if err := i.validator.Validate(e); err != nil {
		i.logger.Warn("rejected webhook deletion", "error", err)
		return "", err
	}

	removed, err := i.ledger.DeleteActivity(ctx, e.ResultID.String())
	if err != nil {
		return "", err
	}
	i.logger.Info("processed webhook deletion", "result_id", e.ResultID.String(), "removed", removed)
	if removed {
		i.changed(ctx)
	}
	return OutcomeDeleted, nil
}

func (i *Ingestor) changed(ctx context.Context) {
	if i.notifier != nil {
		i.notifier.LedgerChanged(ctx)
	}
}
