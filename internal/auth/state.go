package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/rowpledge/internal/domain"
)

const stateScope = "oauth-state"

// StateCodec signs the OAuth state parameter so a callback can only bind
// credentials to the chat identity that requested the link
type StateCodec struct {
	cfg Config
	ttl time.Duration
}

// NewStateCodec creates a codec whose states expire after ttl
func NewStateCodec(cfg Config, ttl time.Duration) *StateCodec {
	return &StateCodec{cfg: cfg, ttl: ttl}
}

// IssueState returns a signed state carrying chatID
func (s *StateCodec) IssueState(chatID string) (string, error) {
	if chatID == "" {
		return "", errors.New("chat id is required")
	}
	return Issue(s.cfg, chatID, []string{stateScope}, s.ttl)
}

// ParseState validates state and returns the chat identity it carries
func (s *StateCodec) ParseState(state string) (string, error) {
	claims, err := Parse(state, s.cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}
	if !claims.HasScope(stateScope) {
		return "", domain.ErrInvalidState
	}
	return claims.Subject, nil
}
