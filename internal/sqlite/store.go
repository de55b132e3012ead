// Package sqlite implements the rowpledge store on an embedded SQLite
// database. It backs single-node deployments and package tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is fixed-width UTC so that text comparison orders instants.
const timeLayout = "2006-01-02T15:04:05.000Z"

var _ store.Store = (*Store)(nil)

// Store provides SQLite-backed persistence.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at path and runs the schema migration.
// Pragmas travel in the DSN so that every pooled connection gets them.
func Open(path string, logger *slog.Logger) (*Store, error) {
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(1)",
		"busy_timeout(5000)",
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=" + strings.Join(pragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const accountColumns = `id, chat_id, display_name, pledge, access_token, refresh_token, external_id, joined_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		acct       domain.Account
		externalID sql.NullString
		joinedAt   string
	)
	err := row.Scan(
		&acct.ID,
		&acct.ChatID,
		&acct.DisplayName,
		&acct.Pledge,
		&acct.AccessToken,
		&acct.RefreshToken,
		&externalID,
		&joinedAt,
	)
	if err != nil {
		return nil, err
	}
	acct.ExternalID = externalID.String
	acct.JoinedAt, err = parseTime(joinedAt)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *Store) queryAccount(ctx context.Context, where string, arg any) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where, arg)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return acct, nil
}

func (s *Store) queryAccounts(ctx context.Context, query string) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, query)
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

// UpsertByChatID creates the account or refreshes its display name.
func (s *Store) UpsertByChatID(ctx context.Context, chatID, displayName string) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (chat_id, display_name, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT (chat_id)
		DO UPDATE SET display_name = COALESCE(NULLIF(excluded.display_name, ''), accounts.display_name)
		RETURNING ` + accountColumns
	row := s.db.QueryRowContext(ctx, query, chatID, displayName, formatTime(time.Now()))
	acct, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("upserting account: %w", err)
	}
	return acct, nil
}

// GetAccount retrieves an account by id.
func (s *Store) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	return s.queryAccount(ctx, "id = ?", id)
}

// GetByChatID retrieves an account by chat identity.
func (s *Store) GetByChatID(ctx context.Context, chatID string) (*domain.Account, error) {
	return s.queryAccount(ctx, "chat_id = ?", chatID)
}

// GetByExternalID retrieves an account by Concept2 user id.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*domain.Account, error) {
	return s.queryAccount(ctx, "external_id = ?", externalID)
}

// ListAccounts returns every account.
func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

// ListLinkedAccounts returns accounts with an access token.
func (s *Store) ListLinkedAccounts(ctx context.Context) ([]domain.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE access_token <> '' ORDER BY id`)
}

// SetPledge records the pledge for a chat identity.
func (s *Store) SetPledge(ctx context.Context, chatID string, meters int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE accounts SET pledge = ? WHERE chat_id = ?`, meters, chatID)
	if err != nil {
		return fmt.Errorf("setting pledge: %w", err)
	}
	return requireRow(result, domain.ErrAccountNotFound)
}

// UpdateTokens replaces the token pair.
func (s *Store) UpdateTokens(ctx context.Context, accountID int64, pair domain.TokenPair) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET access_token = ?, refresh_token = ? WHERE id = ?`,
		pair.AccessToken, pair.RefreshToken, accountID,
	)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	return requireRow(result, domain.ErrAccountNotFound)
}

// BindExternalAccount installs credentials and the Concept2 user id. A
// Concept2 account previously bound to another chat identity moves over.
func (s *Store) BindExternalAccount(ctx context.Context, accountID int64, externalID string, pair domain.TokenPair) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning bind: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`UPDATE accounts SET external_id = NULL, access_token = '', refresh_token = '' WHERE external_id = ? AND id <> ?`,
		externalID, accountID,
	); err != nil {
		return fmt.Errorf("releasing previous binding: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE accounts SET external_id = ?, access_token = ?, refresh_token = ? WHERE id = ?`,
		externalID, pair.AccessToken, pair.RefreshToken, accountID,
	)
	if err != nil {
		return fmt.Errorf("binding external account: %w", err)
	}
	if err = requireRow(result, domain.ErrAccountNotFound); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing bind: %w", err)
	}
	return nil
}

const activityColumns = `id, external_id, account_id, meters, date, type, verified`

func scanActivity(row rowScanner) (*domain.Activity, error) {
	var (
		act  domain.Activity
		date string
	)
	if err := row.Scan(&act.ID, &act.ExternalID, &act.AccountID, &act.Meters, &date, &act.Type, &act.Verified); err != nil {
		return nil, err
	}
	var err error
	act.Date, err = parseTime(date)
	if err != nil {
		return nil, err
	}
	return &act, nil
}

func (s *Store) queryActivities(ctx context.Context, query string, args ...any) ([]domain.Activity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

// UpsertActivity inserts or updates an activity keyed by external id.
func (s *Store) UpsertActivity(ctx context.Context, rec domain.ActivityRecord) error {
	query := `
		INSERT INTO activities (account_id, external_id, meters, date, type, verified)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id)
		DO UPDATE SET meters = excluded.meters, verified = excluded.verified
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.AccountID,
		rec.ExternalID,
		rec.Meters,
		formatTime(rec.Date),
		rec.Type,
		rec.Verified,
	)
	if err != nil {
		return fmt.Errorf("upserting activity: %w", err)
	}
	return nil
}

// DeleteActivity removes an activity by external id.
func (s *Store) DeleteActivity(ctx context.Context, externalID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE external_id = ?`, externalID)
	if err != nil {
		return false, fmt.Errorf("deleting activity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting activity: %w", err)
	}
	return n > 0, nil
}

// ListActivities returns an account's activities within the window.
func (s *Store) ListActivities(ctx context.Context, accountID int64, window domain.Window) ([]domain.Activity, error) {
	return s.queryActivities(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE account_id = ? AND date >= ? AND date < ? ORDER BY date, id`,
		accountID, formatTime(window.Start), formatTime(window.End),
	)
}

// ListVerifiedActivities returns all verified activities within the window.
func (s *Store) ListVerifiedActivities(ctx context.Context, window domain.Window) ([]domain.Activity, error) {
	return s.queryActivities(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE verified = 1 AND date >= ? AND date < ? ORDER BY date, id`,
		formatTime(window.Start), formatTime(window.End),
	)
}

// VerifyActivity marks an activity as verified.
func (s *Store) VerifyActivity(ctx context.Context, activityID int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE activities SET verified = 1 WHERE id = ?`, activityID)
	if err != nil {
		return fmt.Errorf("verifying activity: %w", err)
	}
	return requireRow(result, domain.ErrActivityNotFound)
}

// FindUnverifiedByMeters returns the latest unverified activity with the
// given distance.
func (s *Store) FindUnverifiedByMeters(ctx context.Context, accountID, meters int64) (*domain.Activity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities
		WHERE account_id = ? AND meters = ? AND verified = 0
		ORDER BY date DESC, id DESC LIMIT 1`,
		accountID, meters,
	)
	act, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrActivityNotFound
		}
		return nil, fmt.Errorf("finding unverified activity: %w", err)
	}
	return act, nil
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}
