package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"klinikcare/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	assert.Equal(t, "webhook", n.Name())

	task := &models.NotifyTask{
		ID:        1,
		EventType: "entity_status_changed",
		EntityID:  7,
		Payload:   `{"to_status":"confirmed"}`,
	}
	require.NoError(t, n.Notify(context.Background(), task))

	assert.Equal(t, "application/json", gotContentType)

	var decoded struct {
		EventType string          `json:"event_type"`
		EntityID  int64           `json:"entity_id"`
		Payload   json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "entity_status_changed", decoded.EventType)
	assert.Equal(t, int64(7), decoded.EntityID)
	assert.JSONEq(t, `{"to_status":"confirmed"}`, string(decoded.Payload))
}

func TestWebhookNotifierServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	err := n.Notify(context.Background(), &models.NotifyTask{Payload: "{}"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookNotifierUnreachable(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1/hook")
	err := n.Notify(context.Background(), &models.NotifyTask{Payload: "{}"})
	assert.Error(t, err)
}

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.err != nil {
		return tgbotapi.Message{}, s.err
	}
	s.sent = append(s.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifierWithSender(sender, []int64{100, 200})
	assert.Equal(t, "telegram", n.Name())

	task := &models.NotifyTask{
		EntityID: 5,
		Payload:  `{"kind":"booking","from_status":"pending","to_status":"confirmed","patient_name":"Анна"}`,
	}
	require.NoError(t, n.Notify(context.Background(), task))
	require.Len(t, sender.sent, 2)

	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(100), msg.ChatID)
	assert.Contains(t, msg.Text, "booking #5")
	assert.Contains(t, msg.Text, "pending")
	assert.Contains(t, msg.Text, "confirmed")
	assert.Contains(t, msg.Text, "Анна")
}

func TestTelegramNotifierBadPayload(t *testing.T) {
	n := NewTelegramNotifierWithSender(&fakeSender{}, []int64{100})
	err := n.Notify(context.Background(), &models.NotifyTask{Payload: "not json"})
	assert.Error(t, err)
}

func TestTelegramNotifierSendError(t *testing.T) {
	n := NewTelegramNotifierWithSender(&fakeSender{err: assert.AnError}, []int64{100})
	err := n.Notify(context.Background(), &models.NotifyTask{Payload: `{"kind":"booking"}`})
	assert.ErrorIs(t, err, assert.AnError)
}
