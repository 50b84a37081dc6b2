package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"klinikcare/internal/config"
	"klinikcare/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// WebhookNotifier POSTs the task payload as JSON to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, task *models.NotifyTask) error {
	body := map[string]interface{}{
		"event_type": task.EventType,
		"entity_id":  task.EntityID,
		"payload":    json.RawMessage(task.Payload),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// TelegramSender is the subset of the bot API the notifier needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier pushes a short status-change message to the
// configured manager chats.
type TelegramNotifier struct {
	sender  TelegramSender
	chatIDs []int64
}

func NewTelegramNotifier(cfg config.TelegramNotifyConfig) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return &TelegramNotifier{sender: bot, chatIDs: cfg.ChatIDs}, nil
}

// NewTelegramNotifierWithSender is used in tests.
func NewTelegramNotifierWithSender(sender TelegramSender, chatIDs []int64) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, chatIDs: chatIDs}
}

func (n *TelegramNotifier) Name() string { return "telegram" }

func (n *TelegramNotifier) Notify(ctx context.Context, task *models.NotifyTask) error {
	var payload struct {
		Kind        string `json:"kind"`
		FromStatus  string `json:"from_status"`
		ToStatus    string `json:"to_status"`
		PatientName string `json:"patient_name"`
	}
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		return fmt.Errorf("decode task payload: %w", err)
	}

	text := fmt.Sprintf("%s #%d: %s → %s", payload.Kind, task.EntityID, payload.FromStatus, payload.ToStatus)
	if payload.PatientName != "" {
		text += fmt.Sprintf(" (%s)", payload.PatientName)
	}

	for _, chatID := range n.chatIDs {
		if _, err := n.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			return fmt.Errorf("send telegram message to %d: %w", chatID, err)
		}
	}
	return nil
}
