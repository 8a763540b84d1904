package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"spacecast/internal/core/domain"

	"go.uber.org/zap"
)

// Completer calls the chat completions endpoint.
type Completer struct {
	base
}

func NewCompleter(cfg Config, logger *zap.Logger) *Completer {
	return &Completer{base: newBase("llm", cfg, logger)}
}

type completionRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

// Complete returns the assistant reply for messages.
func (c *Completer) Complete(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	payload, err := json.Marshal(completionRequest{Model: model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}

	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
