package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"FilingsMonitor/internal/dispatch"
	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/ports"
)

const defaultAPIURL = "https://api.telegram.org"

// Notifier sends alerts to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	client   *resty.Client
}

var _ ports.Dispatcher = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier. apiURL may be empty.
func NewNotifier(botToken, chatID, apiURL string) *Notifier {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		client: resty.New().
			SetBaseURL(strings.TrimRight(apiURL, "/")).
			SetTimeout(5 * time.Second),
	}
}

func (n *Notifier) Name() string { return "telegram" }

// Dispatch posts the rendered alert as a plain message.
func (n *Notifier) Dispatch(ctx context.Context, p domain.AlertPayload) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":                  n.chatID,
			"text":                     dispatch.Subject(p) + "\n\n" + dispatch.Body(p),
			"disable_web_page_preview": "true",
		}).
		Post("/bot" + n.botToken + "/sendMessage")
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram error: %s", resp.Status())
	}
	return nil
}
