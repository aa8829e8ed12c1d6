// Package notify delivers business notifications to a Feishu-style
// interactive-card webhook. A missing webhook URL turns every call into a
// logged no-op so the session layer never depends on it being configured.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// card templates
const (
	templateGreen  = "green"
	templateOrange = "orange"
)

// Webhook posts interactive cards to a configured endpoint.
type Webhook struct {
	url        string
	httpClient *http.Client
}

// NewWebhook creates a notifier. url may be empty, in which case sends are
// skipped.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type card struct {
	MsgType string      `json:"msg_type"`
	Card    cardContent `json:"card"`
}

type cardContent struct {
	Header   cardHeader `json:"header"`
	Elements []any      `json:"elements"`
}

type cardHeader struct {
	Title    cardText `json:"title"`
	Template string   `json:"template"`
}

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

func markdown(content string) map[string]any {
	return map[string]any{
		"tag":  "div",
		"text": map[string]string{"tag": "lark_md", "content": content},
	}
}

// OrderPaid sends the order-completion card: buyer, amount and item.
func (w *Webhook) OrderPaid(ctx context.Context, buyerID, buyerURL, itemTitle, price string) error {
	c := card{
		MsgType: "interactive",
		Card: cardContent{
			Header: cardHeader{
				Title:    cardText{Tag: "plain_text", Content: "Order completed"},
				Template: templateGreen,
			},
			Elements: []any{
				map[string]any{
					"tag": "div",
					"fields": []any{
						map[string]any{
							"is_short": true,
							"text":     map[string]string{"tag": "lark_md", "content": fmt.Sprintf("**Buyer**\n[%s](%s)", buyerID, buyerURL)},
						},
						map[string]any{
							"is_short": true,
							"text":     map[string]string{"tag": "lark_md", "content": "**Amount**\n" + price},
						},
					},
				},
				markdown("**Item**\n" + itemTitle),
			},
		},
	}
	return w.send(ctx, c)
}

// Handover sends the human-takeover card with a follow-up note.
func (w *Webhook) Handover(ctx context.Context, message string) error {
	c := card{
		MsgType: "interactive",
		Card: cardContent{
			Header: cardHeader{
				Title:    cardText{Tag: "plain_text", Content: "Handover needed"},
				Template: templateOrange,
			},
			Elements: []any{
				markdown(message),
				map[string]any{
					"tag": "note",
					"elements": []any{
						map[string]string{"tag": "plain_text", "content": "Follow up soon; manual pricing or confirmation may be needed."},
					},
				},
			},
		},
	}
	return w.send(ctx, c)
}

func (w *Webhook) send(ctx context.Context, c card) error {
	if w.url == "" {
		slog.Debug("notification webhook not configured, skipping")
		return nil
	}

	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("notify: marshal card: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	slog.Info("notification sent", "title", c.Card.Header.Title.Content)
	return nil
}
