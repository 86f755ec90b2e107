package cmd

import (
	"context"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/observability"
	"github.com/xkilldash9x/cartpilot/internal/store"
)

// eventSource reads the history log of a session.
type eventSource interface {
	EventsBySession(ctx context.Context, sessionID string) ([]schemas.ShoppingEvent, error)
}

// historyProvider creates the event source. Tests inject a fake instead of
// a live database connection.
type historyProvider interface {
	Create(ctx context.Context, cfg *config.Config) (eventSource, func(), error)
}

type defaultHistoryProvider struct{}

// NewHistoryProvider returns the provider backed by PostgreSQL.
func NewHistoryProvider() historyProvider {
	return defaultHistoryProvider{}
}

// Create connects to the configured database.
func (defaultHistoryProvider) Create(ctx context.Context, cfg *config.Config) (eventSource, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (%s_DATABASE_URL)", envPrefix)
	}
	s, closeFn, err := store.Connect(ctx, cfg.Database.URL, observability.GetLogger())
	if err != nil {
		return nil, nil, err
	}
	return s, closeFn, nil
}

// newHistoryCmd creates the `history` command.
func newHistoryCmd(provider historyProvider) *cobra.Command {
	var sessionID string

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Print the recorded workflow events of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runHistory(ctx, cmd.OutOrStdout(), observability.GetLogger(), cfg, sessionID, provider)
		},
	}

	historyCmd.Flags().StringVar(&sessionID, "session-id", "", "The session to print events for (required)")
	_ = historyCmd.MarkFlagRequired("session-id")
	return historyCmd
}

// runHistory contains the testable core of the history command.
func runHistory(ctx context.Context, out io.Writer, logger *zap.Logger, cfg *config.Config, sessionID string, provider historyProvider) error {
	source, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	events, err := source.EventsBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	logger.Debug("History loaded.", zap.String("session_id", sessionID), zap.Int("events", len(events)))
	if events == nil {
		events = []schemas.ShoppingEvent{}
	}

	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("failed to serialize history: %w", err)
	}
	return nil
}
