// Package chat implements the participant chat commands independent of any
// chat transport, plus the Telegram adapter that carries them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rowpledge/internal/domain"
)

// Participants records joins and pledges
type Participants interface {
	Join(ctx context.Context, chatID, displayName string) (*domain.Account, error)
	Pledge(ctx context.Context, chatID, displayName string, meters int64) (*domain.Account, error)
}

// Linker builds Concept2 authorisation links
type Linker interface {
	AuthURL(chatID string) (string, error)
}

// Syncer runs a batch sync
type Syncer interface {
	RunOnce(ctx context.Context) (int, error)
}

// Verifier verifies a claimed activity
type Verifier interface {
	VerifyClaim(ctx context.Context, chatID string, meters int64) (*domain.Activity, error)
}

// Standings reports a participant's progress
type Standings interface {
	Standing(ctx context.Context, chatID string) (*domain.LeaderboardEntry, error)
}

// Request is one inbound chat message
type Request struct {
	ChatID      string
	DisplayName string
	Text        string
	Admin       bool
}

// Reply is the bot's answer. Private replies go to the sender directly
// rather than to the conversation the command came from.
type Reply struct {
	Text    string
	Private bool
}

// Commands dispatches chat commands to the services
type Commands struct {
	participants Participants
	linker       Linker
	syncer       Syncer
	verifier     Verifier
	standings    Standings
	logger       *slog.Logger
}

// NewCommands creates a command dispatcher
func NewCommands(
	participants Participants,
	linker Linker,
	syncer Syncer,
	verifier Verifier,
	standings Standings,
	logger *slog.Logger,
) *Commands {
	return &Commands{
		participants: participants,
		linker:       linker,
		syncer:       syncer,
		verifier:     verifier,
		standings:    standings,
		logger:       logger,
	}
}

const helpText = `Commands:
/pledge <meters> - pledge meters for the campaign
/setup - connect your Concept2 logbook
/me - show your progress`

// parseCommand splits "/name@bot arg1 arg2" into a lower-case name and its
// arguments. ok is false for messages that are not commands.
func parseCommand(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

// Handle runs the command in req. An empty reply means nothing is sent.
func (c *Commands) Handle(ctx context.Context, req Request) Reply {
	name, args, ok := parseCommand(req.Text)
	if !ok {
		return Reply{}
	}

	switch name {
	case "start", "help":
		return Reply{Text: helpText}
	case "pledge":
		return c.pledge(ctx, req, args)
	case "setup":
		return c.setup(ctx, req)
	case "me":
		return c.me(ctx, req)
	case "sync":
		if !req.Admin {
			return Reply{}
		}
		return c.sync(ctx)
	case "verify":
		if !req.Admin {
			return Reply{}
		}
		return c.verify(ctx, args)
	default:
		return Reply{}
	}
}

func (c *Commands) pledge(ctx context.Context, req Request, args []string) Reply {
	if len(args) < 1 {
		return Reply{Text: "Usage: /pledge <meters>"}
	}
	meters, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return Reply{Text: "Please provide a valid number for meters."}
	}

	if _, err := c.participants.Pledge(ctx, req.ChatID, req.DisplayName, meters); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return Reply{Text: "A pledge must be a positive number of meters."}
		}
		c.logger.Error("failed to record pledge", "chat_id", req.ChatID, "error", err)
		return Reply{Text: "Could not record your pledge. Please try again later."}
	}
	return Reply{Text: fmt.Sprintf("Pledge of %d meters recorded!", meters)}
}

func (c *Commands) setup(ctx context.Context, req Request) Reply {
	if _, err := c.participants.Join(ctx, req.ChatID, req.DisplayName); err != nil {
		c.logger.Error("failed to register participant", "chat_id", req.ChatID, "error", err)
		return Reply{Text: "Could not start the Concept2 connection. Please try again later."}
	}
	link, err := c.linker.AuthURL(req.ChatID)
	if err != nil {
		c.logger.Error("failed to build authorisation link", "chat_id", req.ChatID, "error", err)
		return Reply{Text: "Could not start the Concept2 connection. Please try again later."}
	}
	return Reply{
		Text:    fmt.Sprintf("Click this link to authorize Concept2: %s\nPlease do not share this link with others.", link),
		Private: true,
	}
}

func (c *Commands) me(ctx context.Context, req Request) Reply {
	entry, err := c.standings.Standing(ctx, req.ChatID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return Reply{Text: "You haven't joined yet. Use /pledge <meters> to get started."}
	}
	if err != nil {
		c.logger.Error("failed to load standing", "chat_id", req.ChatID, "error", err)
		return Reply{Text: "Could not load your progress. Please try again later."}
	}

	if entry.Pledge <= 0 {
		return Reply{Text: fmt.Sprintf("You have rowed %d meters. Set a goal with /pledge <meters>.", entry.TotalMeters)}
	}
	percent := entry.TotalMeters * 100 / entry.Pledge
	return Reply{Text: fmt.Sprintf("You have rowed %d of your %d meter pledge (%d%%).", entry.TotalMeters, entry.Pledge, percent)}
}

func (c *Commands) sync(ctx context.Context) Reply {
	processed, err := c.syncer.RunOnce(ctx)
	if err != nil {
		c.logger.Error("chat-triggered sync failed", "error", err)
		return Reply{Text: "Sync failed. Check the server logs."}
	}
	return Reply{Text: fmt.Sprintf("Sync complete. Processed %d users.", processed)}
}

func (c *Commands) verify(ctx context.Context, args []string) Reply {
	if len(args) < 2 {
		return Reply{Text: "Usage: /verify <chat_id> <meters>"}
	}
	chatID := args[0]
	meters, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return Reply{Text: "Please provide a valid number for meters."}
	}

	_, err = c.verifier.VerifyClaim(ctx, chatID, meters)
	switch {
	case err == nil:
		return Reply{Text: fmt.Sprintf("Verified the %d meter activity for %s.", meters, chatID)}
	case errors.Is(err, domain.ErrAccountNotFound):
		return Reply{Text: fmt.Sprintf("No participant with chat id %s.", chatID)}
	case errors.Is(err, domain.ErrActivityNotFound):
		return Reply{Text: fmt.Sprintf("Could not find an unverified activity for %d meters. Make sure the activity is logged first.", meters)}
	case errors.Is(err, domain.ErrValidation):
		return Reply{Text: "Meters must be a positive number."}
	default:
		c.logger.Error("failed to verify claim", "chat_id", chatID, "error", err)
		return Reply{Text: "Verification failed. Please try again later."}
	}
}
