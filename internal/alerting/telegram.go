package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-tracker/internal/logging"
)

// TelegramDeliverer 通过 Telegram Bot API 推送消息。
type TelegramDeliverer struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramDeliverer 构造 Telegram 投递器。
func NewTelegramDeliverer(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramDeliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramDeliverer{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "alert_telegram"),
	}
}

// Deliver 调用 sendMessage API；ok=true 即视为送达。
func (t *TelegramDeliverer) Deliver(ctx context.Context, ev Event, delivered func()) error {
	if t.botToken == "" || t.chatID == "" {
		return ErrChannelUnavailable
	}

	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     ev.Text(),
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send telegram request: %v", ErrChannelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: telegram 响应码异常: %d", ErrChannelUnavailable, resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("%w: telegram 返回 ok=false", ErrChannelUnavailable)
		}
	}

	t.logger.Info().Str("event_id", ev.ID.String()).
		Str("title", ev.Title).
		Msg("通知已发送 (Telegram)")
	if delivered != nil {
		delivered()
	}
	return nil
}

var _ Deliverer = (*TelegramDeliverer)(nil)
