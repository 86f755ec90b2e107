package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/cartpilot/internal/config"
)

// ErrMissingAPIKey is returned when a model client is requested without a key.
var ErrMissingAPIKey = errors.New("gemini API key is required")

// GeminiGenerator is a Generator backed by the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	cfg    config.LLMModelConfig
	logger *zap.Logger
}

var _ Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator creates a client for the configured model.
func NewGeminiGenerator(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{
		client: client,
		cfg:    cfg,
		logger: logger.Named("llm_client.gemini"),
	}, nil
}

// GenerateText sends one JSON-mode request. It does not retry.
func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	if g.cfg.APITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.APITimeout)
		defer cancel()
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.cfg.Temperature),
		ResponseMIMEType: "application/json",
	}
	if g.cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(g.cfg.MaxTokens)
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(prompt), genCfg)
	if err != nil {
		g.logger.Warn("Gemini request failed.", zap.String("model", g.cfg.Model), zap.Error(err))
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	g.logger.Info("LLM generation complete (Gemini)",
		zap.String("model", g.cfg.Model),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}

// FromConfig builds the Planner for cfg. Without an API key the planner is
// heuristic-only.
func FromConfig(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*Planner, error) {
	if cfg.APIKey == "" {
		logger.Info("No LLM API key configured, planning offline with the heuristic.")
		return New(nil, logger), nil
	}
	gen, err := NewGeminiGenerator(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(gen, logger), nil
}
