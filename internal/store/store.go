// Package store defines the persistence contracts shared by the Postgres and
// SQLite backends.
package store

import (
	"context"

	"github.com/rowpledge/internal/domain"
)

// AccountStore persists campaign participants and their Concept2 credentials.
type AccountStore interface {
	// UpsertByChatID creates the account for a chat identity or refreshes its
	// display name.
	UpsertByChatID(ctx context.Context, chatID, displayName string) (*domain.Account, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetByChatID(ctx context.Context, chatID string) (*domain.Account, error)
	// GetByExternalID resolves an account by its Concept2 user id.
	GetByExternalID(ctx context.Context, externalID string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	// ListLinkedAccounts returns accounts holding a non-empty access token.
	ListLinkedAccounts(ctx context.Context) ([]domain.Account, error)
	SetPledge(ctx context.Context, chatID string, meters int64) error
	// UpdateTokens replaces both tokens in a single write.
	UpdateTokens(ctx context.Context, accountID int64, pair domain.TokenPair) error
	// BindExternalAccount installs the first token pair and the Concept2 user
	// id in a single write.
	BindExternalAccount(ctx context.Context, accountID int64, externalID string, pair domain.TokenPair) error
}

// ActivityLedger is the single idempotence boundary for both ingestion paths.
type ActivityLedger interface {
	// UpsertActivity inserts the activity or, when the external id already
	// exists, overwrites meters and verified in place.
	UpsertActivity(ctx context.Context, rec domain.ActivityRecord) error
	// DeleteActivity removes the activity if present and reports whether a
	// row was removed.
	DeleteActivity(ctx context.Context, externalID string) (bool, error)
	ListActivities(ctx context.Context, accountID int64, window domain.Window) ([]domain.Activity, error)
	ListVerifiedActivities(ctx context.Context, window domain.Window) ([]domain.Activity, error)
	VerifyActivity(ctx context.Context, activityID int64) error
	// FindUnverifiedByMeters returns the most recent unverified activity with
	// exactly the given meters.
	FindUnverifiedByMeters(ctx context.Context, accountID, meters int64) (*domain.Activity, error)
}

// Store is a full persistence backend with an explicit lifecycle.
type Store interface {
	AccountStore
	ActivityLedger
	Ping(ctx context.Context) error
	Close() error
}
