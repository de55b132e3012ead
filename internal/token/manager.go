// Package token owns the Concept2 OAuth credentials of each account: the
// authorisation link, the first code exchange and every later refresh.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/rowpledge/internal/concept2"
	"github.com/rowpledge/internal/config"
	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/observability"
	"github.com/rowpledge/internal/store"
)

const (
	authorizePath   = "/oauth/authorize"
	accessTokenPath = "/oauth/access_token"
)

// UserLookup resolves the logbook user behind an access token
type UserLookup interface {
	CurrentUser(ctx context.Context, accessToken string) (*concept2.User, error)
}

// StateCodec signs and verifies the OAuth state parameter
type StateCodec interface {
	IssueState(chatID string) (string, error)
	ParseState(state string) (string, error)
}

// Manager issues, installs and refreshes account credentials
type Manager struct {
	oauth    *oauth2.Config
	http     *http.Client
	accounts store.AccountStore
	users    UserLookup
	states   StateCodec
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewManager creates a token manager for the configured Concept2 client
func NewManager(
	cfg *config.Concept2Config,
	accounts store.AccountStore,
	users UserLookup,
	states StateCodec,
	logger *slog.Logger,
) *Manager {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{cfg.Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   baseURL + authorizePath,
				TokenURL:  baseURL + accessTokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:     &http.Client{Timeout: cfg.Timeout},
		accounts: accounts,
		users:    users,
		states:   states,
		logger:   logger,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// ValidToken returns the stored access token. Expiry is not tracked; a
// rejected token is handled by Refresh.
func (m *Manager) ValidToken(_ context.Context, account *domain.Account) (string, error) {
	if !account.Linked() {
		return "", domain.ErrAccountNotLinked
	}
	return account.AccessToken, nil
}

// Refresh exchanges the account's refresh token for a new pair and persists
// it. Refreshes of the same account are serialised; a caller that loses the
// race receives the token installed by the winner.
func (m *Manager) Refresh(ctx context.Context, account *domain.Account) (string, error) {
	lock := m.lockFor(account.ID)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.accounts.GetAccount(ctx, account.ID)
	if err != nil {
		return "", &domain.RefreshError{AccountID: account.ID, Err: err}
	}
	if current.RefreshToken != account.RefreshToken && current.Linked() {
		m.logger.Debug("token already refreshed", "account_id", account.ID)
		adopt(account, current)
		return current.AccessToken, nil
	}
	if current.RefreshToken == "" {
		return "", &domain.RefreshError{AccountID: account.ID, Err: domain.ErrAccountNotLinked}
	}

	tok, err := m.oauth.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		latest, lookupErr := m.accounts.GetAccount(ctx, account.ID)
		if lookupErr == nil && latest.RefreshToken != current.RefreshToken && latest.Linked() {
			m.logger.Info("token rotated during failed refresh", "account_id", account.ID)
			adopt(account, latest)
			return latest.AccessToken, nil
		}
		m.logger.Warn("token refresh failed", "account_id", account.ID, "error", err)
		observability.RecordTokenRefresh(false)
		return "", &domain.RefreshError{AccountID: account.ID, Err: err}
	}

	pair := pairFrom(tok, current.RefreshToken)
	if err := m.accounts.UpdateTokens(ctx, account.ID, pair); err != nil {
		return "", &domain.RefreshError{AccountID: account.ID, Err: fmt.Errorf("persisting tokens: %w", err)}
	}

	account.AccessToken = pair.AccessToken
	account.RefreshToken = pair.RefreshToken
	observability.RecordTokenRefresh(true)
	m.logger.Info("refreshed token", "account_id", account.ID)
	return pair.AccessToken, nil
}

// AuthURL builds the authorisation link for a chat identity
func (m *Manager) AuthURL(chatID string) (string, error) {
	state, err := m.states.IssueState(chatID)
	if err != nil {
		return "", fmt.Errorf("issuing state: %w", err)
	}
	return m.oauth.AuthCodeURL(state), nil
}

// Install completes the OAuth callback: it verifies state, exchanges the
// code, resolves the logbook user and stores credentials on the account
// (creating it when needed) in one write
func (m *Manager) Install(ctx context.Context, state, code string) (*domain.Account, error) {
	chatID, err := m.states.ParseState(state)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", domain.ErrInvalidRequest)
	}

	tok, err := m.oauth.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}
	pair := pairFrom(tok, "")

	user, err := m.users.CurrentUser(ctx, pair.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("resolving concept2 user: %w", err)
	}

	account, err := m.accounts.GetByChatID(ctx, chatID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		account, err = m.accounts.UpsertByChatID(ctx, chatID, "")
	}
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}

	if err := m.accounts.BindExternalAccount(ctx, account.ID, user.ID.String(), pair); err != nil {
		return nil, fmt.Errorf("storing credentials: %w", err)
	}

	account.ExternalID = user.ID.String()
	account.AccessToken = pair.AccessToken
	account.RefreshToken = pair.RefreshToken
	m.logger.Info("concept2 account connected",
		"account_id", account.ID,
		"external_id", account.ExternalID,
	)
	return account, nil
}

func (m *Manager) lockFor(accountID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[accountID] = lock
	}
	return lock
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.http)
}

// pairFrom keeps the previous refresh token when the provider does not rotate it
func pairFrom(tok *oauth2.Token, previousRefresh string) domain.TokenPair {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return domain.TokenPair{AccessToken: tok.AccessToken, RefreshToken: refresh}
}

func adopt(dst, src *domain.Account) {
	dst.AccessToken = src.AccessToken
	dst.RefreshToken = src.RefreshToken
}
