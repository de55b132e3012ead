package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rowpledge/internal/config"
	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/store"
)

var _ store.Store = (*Repository)(nil)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return NewRepositoryFromPool(pool, logger), nil
}

// NewRepositoryFromPool wraps an existing pool
func NewRepositoryFromPool(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			chat_id VARCHAR(64) NOT NULL UNIQUE,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			pledge BIGINT NOT NULL DEFAULT 0,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			external_id VARCHAR(64) UNIQUE,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS activities (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL REFERENCES accounts(id),
			external_id VARCHAR(64) NOT NULL UNIQUE,
			meters BIGINT NOT NULL,
			date TIMESTAMPTZ NOT NULL,
			type VARCHAR(32) NOT NULL DEFAULT '',
			verified BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_account_date ON activities(account_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_verified_date ON activities(date) WHERE verified`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

const accountColumns = `id, chat_id, display_name, pledge, access_token, refresh_token, external_id, joined_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		acct       domain.Account
		externalID *string
	)
	err := row.Scan(
		&acct.ID,
		&acct.ChatID,
		&acct.DisplayName,
		&acct.Pledge,
		&acct.AccessToken,
		&acct.RefreshToken,
		&externalID,
		&acct.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	if externalID != nil {
		acct.ExternalID = *externalID
	}
	return &acct, nil
}

func (r *Repository) queryAccount(ctx context.Context, where string, arg any) (*domain.Account, error) {
	acct, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return acct, nil
}

func (r *Repository) queryAccounts(ctx context.Context, query string) ([]domain.Account, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, *acct)
	}
	return accounts, rows.Err()
}

// UpsertByChatID creates the account or refreshes its display name
func (r *Repository) UpsertByChatID(ctx context.Context, chatID, displayName string) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (chat_id, display_name, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id)
		DO UPDATE SET display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), accounts.display_name)
		RETURNING ` + accountColumns
	acct, err := scanAccount(r.pool.QueryRow(ctx, query, chatID, displayName, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("upserting account: %w", err)
	}
	return acct, nil
}

// GetAccount retrieves an account by ID
func (r *Repository) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	return r.queryAccount(ctx, "id = $1", id)
}

// GetByChatID retrieves an account by chat identity
func (r *Repository) GetByChatID(ctx context.Context, chatID string) (*domain.Account, error) {
	return r.queryAccount(ctx, "chat_id = $1", chatID)
}

// GetByExternalID retrieves an account by Concept2 user ID
func (r *Repository) GetByExternalID(ctx context.Context, externalID string) (*domain.Account, error) {
	return r.queryAccount(ctx, "external_id = $1", externalID)
}

// ListAccounts retrieves all accounts
func (r *Repository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return r.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

// ListLinkedAccounts retrieves accounts holding an access token
func (r *Repository) ListLinkedAccounts(ctx context.Context) ([]domain.Account, error) {
	return r.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE access_token <> '' ORDER BY id`)
}

// SetPledge records a participant's pledge
func (r *Repository) SetPledge(ctx context.Context, chatID string, meters int64) error {
	result, err := r.pool.Exec(ctx, `UPDATE accounts SET pledge = $1 WHERE chat_id = $2`, meters, chatID)
	if err != nil {
		return fmt.Errorf("setting pledge: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// UpdateTokens replaces both tokens in one statement
func (r *Repository) UpdateTokens(ctx context.Context, accountID int64, pair domain.TokenPair) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE accounts SET access_token = $1, refresh_token = $2 WHERE id = $3`,
		pair.AccessToken, pair.RefreshToken, accountID,
	)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// BindExternalAccount installs credentials and the Concept2 user ID
func (r *Repository) BindExternalAccount(ctx context.Context, accountID int64, externalID string, pair domain.TokenPair) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning bind: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET external_id = NULL, access_token = '', refresh_token = '' WHERE external_id = $1 AND id <> $2`,
		externalID, accountID,
	); err != nil {
		return fmt.Errorf("releasing previous binding: %w", err)
	}

	result, err := tx.Exec(ctx,
		`UPDATE accounts SET external_id = $1, access_token = $2, refresh_token = $3 WHERE id = $4`,
		externalID, pair.AccessToken, pair.RefreshToken, accountID,
	)
	if err != nil {
		return fmt.Errorf("binding external account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing bind: %w", err)
	}
	return nil
}

const activityColumns = `id, external_id, account_id, meters, date, type, verified`

func scanActivity(row pgx.Row) (*domain.Activity, error) {
	var act domain.Activity
	err := row.Scan(&act.ID, &act.ExternalID, &act.AccountID, &act.Meters, &act.Date, &act.Type, &act.Verified)
	if err != nil {
		return nil, err
	}
	return &act, nil
}

func (r *Repository) queryActivities(ctx context.Context, query string, args ...any) ([]domain.Activity, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		act, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		activities = append(activities, *act)
	}
	return activities, rows.Err()
}

// UpsertActivity inserts or updates an activity keyed by its Concept2 result ID
func (r *Repository) UpsertActivity(ctx context.Context, rec domain.ActivityRecord) error {
	query := `
		INSERT INTO activities (account_id, external_id, meters, date, type, verified)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id)
		DO UPDATE SET meters = EXCLUDED.meters, verified = EXCLUDED.verified
	`
	_, err := r.pool.Exec(ctx, query,
		rec.AccountID,
		rec.ExternalID,
		rec.Meters,
		rec.Date,
		rec.Type,
		rec.Verified,
	)
	if err != nil {
		return fmt.Errorf("upserting activity: %w", err)
	}
	return nil
}

// DeleteActivity removes an activity by its Concept2 result ID
func (r *Repository) DeleteActivity(ctx context.Context, externalID string) (bool, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM activities WHERE external_id = $1`, externalID)
	if err != nil {
		return false, fmt.Errorf("deleting activity: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListActivities retrieves an account's activities within the window
func (r *Repository) ListActivities(ctx context.Context, accountID int64, window domain.Window) ([]domain.Activity, error) {
	return r.queryActivities(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE account_id = $1 AND date >= $2 AND date < $3 ORDER BY date, id`,
		accountID, window.Start, window.End,
	)
}

// ListVerifiedActivities retrieves all verified activities within the window
func (r *Repository) ListVerifiedActivities(ctx context.Context, window domain.Window) ([]domain.Activity, error) {
	return r.queryActivities(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE verified AND date >= $1 AND date < $2 ORDER BY date, id`,
		window.Start, window.End,
	)
}

// VerifyActivity marks an activity as verified
func (r *Repository) VerifyActivity(ctx context.Context, activityID int64) error {
	result, err := r.pool.Exec(ctx, `UPDATE activities SET verified = TRUE WHERE id = $1`, activityID)
	if err != nil {
		return fmt.Errorf("verifying activity: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// FindUnverifiedByMeters retrieves the latest unverified activity with the given distance
func (r *Repository) FindUnverifiedByMeters(ctx context.Context, accountID, meters int64) (*domain.Activity, error) {
	query := `
		SELECT ` + activityColumns + `
		FROM activities
		WHERE account_id = $1 AND meters = $2 AND NOT verified
		ORDER BY date DESC, id DESC
		LIMIT 1
	`
	act, err := scanActivity(r.pool.QueryRow(ctx, query, accountID, meters))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrActivityNotFound
		}
		return nil, fmt.Errorf("finding unverified activity: %w", err)
	}
	return act, nil
}
