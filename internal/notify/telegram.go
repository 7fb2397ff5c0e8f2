// Package notify delivers operator notifications. Delivery is best-effort:
// callers hand messages to Async, which never blocks the monitor loop.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, msg string) error
}

const telegramAPI = "https://api.telegram.org"

// Telegram sends messages through the Telegram Bot API.
type Telegram struct {
	Token   string
	ChatID  string
	HTTP    *http.Client
	BaseURL string
}

func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		Token:   token,
		ChatID:  chatID,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		BaseURL: telegramAPI,
	}
}

// Enabled reports whether both credentials are configured.
func (t *Telegram) Enabled() bool {
	return t.Token != "" && t.ChatID != ""
}

// Send posts msg to the configured chat. Without credentials it does nothing.
func (t *Telegram) Send(ctx context.Context, msg string) error {
	if !t.Enabled() {
		return nil
	}
	payload := map[string]any{"chat_id": t.ChatID, "text": msg, "disable_web_page_preview": true}
	b, _ := json.Marshal(payload)
	u := fmt.Sprintf("%s/bot%s/sendMessage", t.BaseURL, t.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := t.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	resp, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d: %s", res.StatusCode, string(resp))
	}
	return nil
}
