package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront/backend/internal/apperr"
	"storefront/backend/internal/resilience"
)

const (
	telegramTimeout = 8 * time.Second
	telegramRetries = 1
)

// TelegramClient posts notifications through the bot API. One internal retry
// on transient failure; whatever survives that is final for the attempt.
type TelegramClient struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramClient(token, chatID string) *TelegramClient {
	return &TelegramClient{
		baseURL: "https://api.telegram.org",
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: telegramTimeout},
	}
}

func (c *TelegramClient) Send(ctx context.Context, text string) error {
	_, err := resilience.WithRetries(ctx,
		resilience.RetryOptions{MaxRetries: telegramRetries, BaseDelay: 250 * time.Millisecond},
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.send(ctx, text)
		})
	return err
}

func (c *TelegramClient) send(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", c.chatID)
	form.Set("text", text)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Wrap("TELEGRAM_UNAVAILABLE", "telegram request failed", err)
	}
	defer resp.Body.Close()

	var body struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !body.OK {
		appErr := apperr.New("TELEGRAM_SEND_FAILED", resp.StatusCode, body.Description)
		// 429 and 5xx clear on their own; 4xx means the request itself is bad.
		appErr.Retryable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return appErr
	}
	return nil
}
