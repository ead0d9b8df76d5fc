package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifyEventHonorsFilter(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{domain.EventPositionLiquidated}, testLogger())

	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{
		Type:       domain.EventPositionOpened,
		PositionID: "pos-1",
	}))
	assert.Empty(t, sender.titles, "filtered event must not be delivered")

	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{
		Type:       domain.EventPositionLiquidated,
		PositionID: "pos-1",
	}))
	assert.Equal(t, []string{"Position liquidated"}, sender.titles)
}

func TestNotifyEventCompensationFailedBypassesFilter(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{domain.EventPositionLiquidated}, testLogger())

	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{
		Type:       domain.EventCompensationFailed,
		PositionID: "pos-1",
		Detail:     "close_position/burn_stablecoin: mint rejected",
	}))
	require.Len(t, sender.titles, 1)
	assert.Contains(t, sender.titles[0], "COMPENSATION FAILED")
}

func TestTelegramSenderPayload(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botsecret-token/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewTelegramSender("secret-token", "chat-42")
	sender.apiBase = srv.URL

	err := sender.Send(context.Background(), "Position liquidated", "position: pos-1")
	require.NoError(t, err)

	assert.Equal(t, "chat-42", got.ChatID)
	assert.Equal(t, "*Position liquidated*\nposition: pos-1", got.Text)
	assert.Equal(t, "Markdown", got.ParseMode)
	assert.True(t, got.DisableWebPagePreview, "ledger refs must not expand into link cards")
}

func TestTelegramSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := NewTelegramSender("tok", "chat")
	sender.apiBase = srv.URL

	err := sender.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "chat not found")
}

func TestDiscordSenderPayload(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	err := sender.Send(context.Background(), "Position opened", "position: pos-1")
	require.NoError(t, err)

	assert.Equal(t, "stablemint", got.Username)
	assert.Equal(t, "**Position opened**\nposition: pos-1", got.Content)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	broken := &recordingSender{name: "broken", err: assert.AnError}
	working := &recordingSender{name: "working"}
	n := NewNotifier([]Sender{broken, working}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, []string{"title"}, working.titles, "one failed channel must not block the rest")
}
