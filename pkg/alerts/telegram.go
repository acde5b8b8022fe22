package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const telegramAPIBase = "https://api.telegram.org"

var (
	errTelegramStatus  = fmt.Errorf("telegram returned non-200 status")
	errNoChatIDs       = fmt.Errorf("no telegram chat ids configured")
	errTelegramNoToken = fmt.Errorf("telegram token not configured")
)

// TelegramNotifier posts grouped alerts to the Bot API. Sends are paced to
// one message per second per process, which stays inside the per-chat
// limits for the chat counts this service sees.
type TelegramNotifier struct {
	token   string
	chatIDs []string
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

func NewTelegramNotifier(token string, chatIDs []string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatIDs: chatIDs,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		baseURL: telegramAPIBase,
	}
}

func (*TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Notify(ctx context.Context, subject, body string) error {
	if t.token == "" {
		return errTelegramNoToken
	}

	if len(t.chatIDs) == 0 {
		return errNoChatIDs
	}

	text := subject + "\n\n" + body

	for _, chatID := range t.chatIDs {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		if err := t.sendMessage(ctx, chatID, text); err != nil {
			return fmt.Errorf("chat %s: %w", chatID, err)
		}
	}

	return nil
}

func (t *TelegramNotifier) sendMessage(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status=%d body=%s", errTelegramStatus, resp.StatusCode, msg)
	}

	return nil
}
