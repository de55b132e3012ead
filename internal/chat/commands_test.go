package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowpledge/internal/config"
	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/service"
	"github.com/rowpledge/internal/sqlite"
)

type stubLinker struct{ chatIDs []string }

func (s *stubLinker) AuthURL(chatID string) (string, error) {
	s.chatIDs = append(s.chatIDs, chatID)
	return "https://log.example/oauth/authorize?state=" + chatID, nil
}

type stubSyncer struct{ calls int }

func (s *stubSyncer) RunOnce(context.Context) (int, error) {
	s.calls++
	return 4, nil
}

type stubVerifier struct {
	err    error
	chatID string
	meters int64
}

func (s *stubVerifier) VerifyClaim(_ context.Context, chatID string, meters int64) (*domain.Activity, error) {
	s.chatID, s.meters = chatID, meters
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Activity{Meters: meters, Verified: true}, nil
}

type commandsFixture struct {
	store    *sqlite.Store
	commands *Commands
	linker   *stubLinker
	syncer   *stubSyncer
	verifier *stubVerifier
}

func newCommandsFixture(t *testing.T) *commandsFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.sqlite"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	window, err := domain.NewWindow("2024-01-01", "2024-01-14", time.UTC)
	require.NoError(t, err)

	f := &commandsFixture{
		store:    st,
		linker:   &stubLinker{},
		syncer:   &stubSyncer{},
		verifier: &stubVerifier{},
	}
	f.commands = NewCommands(
		service.NewParticipantService(st, logger),
		f.linker,
		f.syncer,
		f.verifier,
		service.NewLeaderboardService(st, st, window, &config.LeaderboardConfig{}, logger),
		logger,
	)
	return f
}

func TestParseCommand(t *testing.T) {
	name, args, ok := parseCommand("/Pledge@RowBot 5000 extra")
	require.True(t, ok)
	assert.Equal(t, "pledge", name)
	assert.Equal(t, []string{"5000", "extra"}, args)

	_, _, ok = parseCommand("just chatting")
	assert.False(t, ok)

	_, _, ok = parseCommand("/")
	assert.False(t, ok)
}

func TestPledge(t *testing.T) {
	ctx := context.Background()
	f := newCommandsFixture(t)

	reply := f.commands.Handle(ctx, Request{ChatID: "42", DisplayName: "Ada", Text: "/pledge 10000"})
	assert.Equal(t, Reply{Text: "Pledge of 10000 meters recorded!"}, reply)

	acct, err := f.store.GetByChatID(ctx, "42")
	require.NoError(t, err)
	assert.EqualValues(t, 10000, acct.Pledge)
	assert.Equal(t, "Ada", acct.DisplayName)

	tests := []struct {
		text string
		want string
	}{
		{"/pledge", "Usage: /pledge <meters>"},
		{"/pledge lots", "Please provide a valid number for meters."},
		{"/pledge -5", "A pledge must be a positive number of meters."},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			reply := f.commands.Handle(ctx, Request{ChatID: "42", Text: tt.text})
			assert.Equal(t, tt.want, reply.Text)
		})
	}

	acct, err = f.store.GetByChatID(ctx, "42")
	require.NoError(t, err)
	assert.EqualValues(t, 10000, acct.Pledge)
}

func TestSetupSendsPrivateLink(t *testing.T) {
	ctx := context.Background()
	f := newCommandsFixture(t)

	reply := f.commands.Handle(ctx, Request{ChatID: "7", DisplayName: "Grace", Text: "/setup"})
	assert.True(t, reply.Private)
	assert.Contains(t, reply.Text, "https://log.example/oauth/authorize?state=7")
	assert.Equal(t, []string{"7"}, f.linker.chatIDs)

	_, err := f.store.GetByChatID(ctx, "7")
	require.NoError(t, err)
}

func TestMe(t *testing.T) {
	ctx := context.Background()
	f := newCommandsFixture(t)

	reply := f.commands.Handle(ctx, Request{ChatID: "42", Text: "/me"})
	assert.Equal(t, "You haven't joined yet. Use /pledge <meters> to get started.", reply.Text)

	f.commands.Handle(ctx, Request{ChatID: "42", DisplayName: "Ada", Text: "/pledge 10000"})
	acct, err := f.store.GetByChatID(ctx, "42")
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertActivity(ctx, domain.ActivityRecord{
		AccountID:  acct.ID,
		ExternalID: "r1",
		Meters:     2500,
		Date:       time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC),
		Type:       domain.ActivityTypeRower,
		Verified:   true,
	}))

	reply = f.commands.Handle(ctx, Request{ChatID: "42", Text: "/me"})
	assert.Equal(t, "You have rowed 2500 of your 10000 meter pledge (25%).", reply.Text)
}

func TestAdminCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("ignored for participants", func(t *testing.T) {
		f := newCommandsFixture(t)
		assert.Equal(t, Reply{}, f.commands.Handle(ctx, Request{ChatID: "1", Text: "/sync"}))
		assert.Equal(t, Reply{}, f.commands.Handle(ctx, Request{ChatID: "1", Text: "/verify 42 5000"}))
		assert.Zero(t, f.syncer.calls)
		assert.Empty(t, f.verifier.chatID)
	})

	t.Run("sync", func(t *testing.T) {
		f := newCommandsFixture(t)
		reply := f.commands.Handle(ctx, Request{ChatID: "1", Text: "/sync", Admin: true})
		assert.Equal(t, "Sync complete. Processed 4 users.", reply.Text)
		assert.Equal(t, 1, f.syncer.calls)
	})

	t.Run("verify", func(t *testing.T) {
		f := newCommandsFixture(t)
		reply := f.commands.Handle(ctx, Request{ChatID: "1", Text: "/verify 42 5000", Admin: true})
		assert.Equal(t, "Verified the 5000 meter activity for 42.", reply.Text)
		assert.Equal(t, "42", f.verifier.chatID)
		assert.EqualValues(t, 5000, f.verifier.meters)
	})

	t.Run("verify reports missing activity", func(t *testing.T) {
		f := newCommandsFixture(t)
		f.verifier.err = fmt.Errorf("finding claim: %w", domain.ErrActivityNotFound)
		reply := f.commands.Handle(ctx, Request{ChatID: "1", Text: "/verify 42 5000", Admin: true})
		assert.Contains(t, reply.Text, "Could not find an unverified activity for 5000 meters")
	})

	t.Run("verify usage", func(t *testing.T) {
		f := newCommandsFixture(t)
		reply := f.commands.Handle(ctx, Request{ChatID: "1", Text: "/verify 42", Admin: true})
		assert.Equal(t, "Usage: /verify <chat_id> <meters>", reply.Text)
	})
}

func TestNonCommandsAreIgnored(t *testing.T) {
	f := newCommandsFixture(t)
	assert.Equal(t, Reply{}, f.commands.Handle(context.Background(), Request{ChatID: "1", Text: "good row today"}))
	assert.Equal(t, Reply{}, f.commands.Handle(context.Background(), Request{ChatID: "1", Text: "/unknown"}))
}
