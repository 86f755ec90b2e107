package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

type fakeEvents struct {
	events []schemas.ShoppingEvent
	err    error
	asked  string
}

func (f *fakeEvents) EventsBySession(_ context.Context, sessionID string) ([]schemas.ShoppingEvent, error) {
	f.asked = sessionID
	return f.events, f.err
}

type fakeHistoryProvider struct {
	source    *fakeEvents
	err       error
	cleanedUp bool
}

func (p *fakeHistoryProvider) Create(context.Context, *config.Config) (eventSource, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.source, func() { p.cleanedUp = true }, nil
}

func TestHistoryCmd(t *testing.T) {
	provider := &fakeHistoryProvider{source: &fakeEvents{events: []schemas.ShoppingEvent{{
		ID:        "e1",
		SessionID: "abc",
		Kind:      schemas.EventChosen,
		Payload:   map[string]any{"status": "added"},
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}}}}
	root := newRootCommand(capturingFactory(new(*config.Config)), provider)

	out, err := executeCommand(t, root, "--config", createTempConfig(t, ""), "history", "--session-id", "abc")

	require.NoError(t, err)
	assert.Equal(t, "abc", provider.source.asked)
	assert.True(t, provider.cleanedUp)
	assert.JSONEq(t, `[{
		"id":"e1","session_id":"abc","kind":"chosen",
		"payload":{"status":"added"},"created_at":"2025-01-02T03:04:05Z"
	}]`, out)
}

func TestHistoryCmd_RequiresSessionID(t *testing.T) {
	root := newRootCommand(capturingFactory(new(*config.Config)), &fakeHistoryProvider{})

	_, err := executeCommand(t, root, "--config", createTempConfig(t, ""), "history")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "session-id")
}

func TestRunHistory_Errors(t *testing.T) {
	cfg := config.NewDefaultConfig()
	logger := zaptest.NewLogger(t)

	err := runHistory(context.Background(), new(bytes.Buffer), logger, cfg, "abc", &fakeHistoryProvider{err: errors.New("refused")})
	assert.ErrorContains(t, err, "failed to initialize history store: refused")

	provider := &fakeHistoryProvider{source: &fakeEvents{err: errors.New("query failed")}}
	err = runHistory(context.Background(), new(bytes.Buffer), logger, cfg, "abc", provider)
	assert.ErrorContains(t, err, "failed to read history")
	assert.True(t, provider.cleanedUp)
}

func TestRunHistory_EmptyIsArray(t *testing.T) {
	var out bytes.Buffer
	provider := &fakeHistoryProvider{source: &fakeEvents{}}

	require.NoError(t, runHistory(context.Background(), &out, zaptest.NewLogger(t), config.NewDefaultConfig(), "abc", provider))
	assert.JSONEq(t, `[]`, out.String())
}

func TestDefaultHistoryProvider_RequiresDatabase(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Database.URL = ""

	_, _, err := NewHistoryProvider().Create(context.Background(), cfg)

	assert.ErrorContains(t, err, "CARTPILOT_DATABASE_URL")
}
