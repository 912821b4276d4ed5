package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxPayloadBytes = 4096

// TelegramNotifier posts signal summaries to a chat. When disabled it runs
// in dry-run mode: payloads are logged and tagged instead of sent.
type TelegramNotifier struct {
	Enabled  bool
	BotToken string
	ChatID   string
	Client   *http.Client
	Logger   *zap.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

func NewTelegramNotifier(enabled bool, botToken, chatID string, client *http.Client, logger *zap.Logger) *TelegramNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TelegramNotifier{
		Enabled:  enabled,
		BotToken: botToken,
		ChatID:   chatID,
		Client:   client,
		Logger:   logger,
		lastSent: map[string]time.Time{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Mode reports the transport tag recorded on emitted payloads.
func (n *TelegramNotifier) Mode() string {
	if !n.Enabled {
		return StatusDryRun
	}
	return "telegram"
}

func (n *TelegramNotifier) Send(ctx context.Context, message string, dedupeKey string, cooldown time.Duration) (string, error) {
	if len(message) > maxPayloadBytes {
		message = message[:maxPayloadBytes]
	}
	if dedupeKey != "" && cooldown > 0 {
		n.mu.Lock()
		last, seen := n.lastSent[dedupeKey]
		now := n.now()
		if seen && now.Sub(last) < cooldown {
			n.mu.Unlock()
			return StatusCooled, nil
		}
		n.lastSent[dedupeKey] = now
		n.mu.Unlock()
	}
	if !n.Enabled {
		if n.Logger != nil {
			n.Logger.Info("alert dry-run", zap.String("dedupe_key", dedupeKey), zap.Int("bytes", len(message)))
		}
		return StatusDryRun, nil
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":    n.ChatID,
		"text":       message,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("telegram send failed (%d): %s", resp.StatusCode, string(raw))
	}
	return StatusSent, nil
}
