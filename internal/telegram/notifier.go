package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
	"unicode/utf8"
)

const defaultAPIBase = "https://api.telegram.org"

// maxMessageLen is Telegram's limit for one sendMessage text.
const maxMessageLen = 4096

// Notifier sends plain Markdown messages to one chat.
type Notifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

// NewNotifier returns a Notifier. With an empty token or chat ID it is
// disabled and Notify is a no-op.
func NewNotifier(token, chatID string) *Notifier {
	return &Notifier{
		token:   token,
		chatID:  chatID,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether credentials are configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.token != "" && n.chatID != ""
}

// Notify sends text to the configured chat, truncated to Telegram's limit.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if !n.Enabled() {
		log.Println("DEBUG: Telegram credentials missing, skipping notification")
		return nil
	}
	text = truncate(text, maxMessageLen)

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	payload := map[string]string{
		"chat_id":    n.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API error %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

// truncate cuts text to at most limit characters, ending with "...".
func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-3]) + "..."
}
