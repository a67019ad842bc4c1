// Package webhook implements the outbound half of the WhatsApp-style
// webhook channel: replies are POSTed to a configured URL; inbound
// deliveries arrive on the gateway's /webhook endpoint.
package webhook

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

// Client POSTs replies to the channel's reply URL.
type Client struct {
	url    string
	token  string
	http   *http.Client
	logger *slog.Logger
}

// New builds the outbound client. token, when set, is sent as a Bearer
// authorization header.
func New(url, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		token:  token,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "webhook"),
	}
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// SendMessage delivers text to the handle and returns the provider's
// message id (empty when the provider doesn't return one).
func (c *Client) SendMessage(ctx context.Context, to, text string) (string, error) {
	payload, err := json.Marshal(sendRequest{To: to, Text: text})
	if err != nil {
		return "", fmt.Errorf("failed to encode reply: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to deliver reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("reply rejected with %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// Some providers return an empty body; the send still succeeded.
		c.logger.Debug("reply response not decodable", slog.Any("error", err))
		return "", nil
	}
	return out.MessageID, nil
}
