package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rowpledge/internal/config"
	"github.com/rowpledge/internal/domain"
)

// Bot is the subset of the Telegram Bot API used by the adapter
type Bot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram carries chat commands over a Telegram bot. The sender's Telegram
// user id is the participant's chat identity.
type Telegram struct {
	bot      Bot
	commands *Commands
	admins   map[int64]struct{}
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTelegram connects to the Bot API with the configured token
func NewTelegram(cfg *config.TelegramConfig, commands *Commands, logger *slog.Logger) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	logger.Info("telegram bot authorized", "username", api.Self.UserName)
	return NewTelegramWithBot(api, cfg.AdminIDs, commands, logger), nil
}

// NewTelegramWithBot wraps an existing bot client
func NewTelegramWithBot(bot Bot, adminIDs []int64, commands *Commands, logger *slog.Logger) *Telegram {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Telegram{
		bot:      bot,
		commands: commands,
		admins:   admins,
		logger:   logger,
	}
}

// Start begins long polling for updates
func (t *Telegram) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				t.handleMessage(ctx, update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	t.logger.Info("telegram polling started")
}

// Stop stops polling and waits for the in-flight message to finish
func (t *Telegram) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.bot.StopReceivingUpdates()
	t.wg.Wait()
	t.logger.Info("telegram polling stopped")
}

func (t *Telegram) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	_, admin := t.admins[msg.From.ID]
	reply := t.commands.Handle(ctx, Request{
		ChatID:      strconv.FormatInt(msg.From.ID, 10),
		DisplayName: displayName(msg.From),
		Text:        msg.Text,
		Admin:       admin,
	})
	if reply.Text == "" {
		return
	}

	if reply.Private && msg.Chat != nil && msg.Chat.ID != msg.From.ID {
		if err := t.send(msg.From.ID, reply.Text); err != nil {
			t.logger.Warn("failed to send private reply", "user_id", msg.From.ID, "error", err)
			t.replyTo(msg, "I couldn't message you directly. Please start a private chat with me first.")
			return
		}
		t.replyTo(msg, "Check your private messages!")
		return
	}
	t.replyTo(msg, reply.Text)
}

func (t *Telegram) replyTo(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := t.bot.Send(out); err != nil {
		t.logger.Warn("failed to send reply", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (t *Telegram) send(chatID int64, text string) error {
	_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// AccountConnected tells the participant their logbook is now linked
func (t *Telegram) AccountConnected(_ context.Context, account *domain.Account) {
	chatID, err := strconv.ParseInt(account.ChatID, 10, 64)
	if err != nil {
		t.logger.Warn("account chat id is not a telegram user", "account_id", account.ID, "chat_id", account.ChatID)
		return
	}
	text := "Your Concept2 account is connected! Workouts you log during the campaign will count toward your pledge."
	if err := t.send(chatID, text); err != nil {
		t.logger.Warn("failed to send connection notice", "account_id", account.ID, "error", err)
	}
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}
