package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIConfig holds connection parameters for an OpenAI-compatible chat
// completions endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Prompt      string // system prompt; item context is appended
}

// OpenAI implements Engine against an OpenAI-compatible API.
type OpenAI struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI-backed reply engine.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Prompt == "" {
		cfg.Prompt = "You are a seller's assistant on a second-hand marketplace. Answer buyers concisely and honestly about the item below."
	}
	return &OpenAI{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// ComputeReply sends the conversation to the chat completions endpoint and
// returns the model's answer.
func (o *OpenAI) ComputeReply(ctx context.Context, history []Turn, itemContext string) (string, error) {
	messages := make([]chatMessage, 0, len(history)+1)
	messages = append(messages, chatMessage{
		Role:    "system",
		Content: o.cfg.Prompt + "\n\nItem: " + itemContext,
	})
	for _, turn := range history {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}

	reqBody := chatRequest{
		Model:    o.cfg.Model,
		Messages: messages,
	}
	if o.cfg.MaxTokens > 0 {
		reqBody.MaxTokens = o.cfg.MaxTokens
	}
	if o.cfg.Temperature != 0 {
		temp := o.cfg.Temperature
		reqBody.Temperature = &temp
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("reply: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("reply: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reply: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reply: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reply: completions returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("reply: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("reply: completions returned no content")
	}
	return parsed.Choices[0].Message.Content, nil
}
