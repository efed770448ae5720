package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
)

func paymentDelivery(t *testing.T, channel string) Delivery {
	t.Helper()
	tx := "0xfeed"
	memo := "tacos"
	payload, err := json.Marshal(PaymentReceived{
		PaymentID:    "pay_1",
		TxHash:       &tx,
		AmountUSD:    decimal.RequireFromString("12.5"),
		Stablecoin:   "AlphaUSD",
		Memo:         &memo,
		SenderHandle: "alice@example.com",
	})
	require.NoError(t, err)
	return Delivery{
		ID:          "ntf_1",
		Channel:     channel,
		Destination: "bob@example.com",
		Template:    models.TemplatePaymentReceived,
		Payload:     payload,
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.NotifyConfig{Provider: "log"})
	require.NoError(t, err)
	assert.Equal(t, "log", p.Name())

	_, err = NewProvider(config.NotifyConfig{Provider: "webhook"})
	assert.Error(t, err)

	p, err = NewProvider(config.NotifyConfig{Provider: "webhook", WebhookURL: "http://localhost/hook"})
	require.NoError(t, err)
	assert.Equal(t, "webhook", p.Name())

	p, err = NewProvider(config.NotifyConfig{Provider: "smtp"})
	require.NoError(t, err)
	assert.Equal(t, "smtp", p.Name())

	_, err = NewProvider(config.NotifyConfig{Provider: "pigeon"})
	assert.Error(t, err)
}

func TestLogProvider(t *testing.T) {
	id, err := LogProvider{}.Deliver(context.Background(), paymentDelivery(t, models.ChannelEmail))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "log-"))
}

func TestWebhookProvider(t *testing.T) {
	var got Delivery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("X-Message-Id", "hook-42")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	id, err := NewWebhookProvider(srv.URL, 5*time.Second).Deliver(context.Background(), paymentDelivery(t, models.ChannelSMS))
	require.NoError(t, err)
	assert.Equal(t, "hook-42", id)
	assert.Equal(t, models.ChannelSMS, got.Channel)
	assert.Equal(t, models.TemplatePaymentReceived, got.Template)
	assert.Contains(t, string(got.Payload), "pay_1")
}

func TestWebhookProvider_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := NewWebhookProvider(srv.URL, 5*time.Second).Deliver(context.Background(), paymentDelivery(t, models.ChannelEmail))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewWebhookProvider(srv.URL, 5*time.Second).Deliver(ctx, paymentDelivery(t, models.ChannelEmail))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSMTPProvider(t *testing.T) {
	p := NewSMTPProvider(config.SMTPConfig{Host: "mail.local", Port: "2525", Username: "u", Password: "p"})

	var addr, from string
	var to []string
	var msg []byte
	var auth smtp.Auth
	p.send = func(a string, au smtp.Auth, f string, t []string, m []byte) error {
		addr, auth, from, to, msg = a, au, f, t, m
		return nil
	}

	id, err := p.Deliver(context.Background(), paymentDelivery(t, models.ChannelEmail))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "<ntf_1."))
	assert.Equal(t, "mail.local:2525", addr)
	assert.NotNil(t, auth)
	assert.Equal(t, "no-reply@localhost", from)
	assert.Equal(t, []string{"bob@example.com"}, to)

	body := string(msg)
	assert.Contains(t, body, "Subject: You received a payment\r\n")
	assert.Contains(t, body, "alice@example.com sent you $12.50 in AlphaUSD.")
	assert.Contains(t, body, "Memo: tacos")
	assert.Contains(t, body, "Message-ID: "+id)
}

func TestSMTPProvider_Errors(t *testing.T) {
	p := NewSMTPProvider(config.SMTPConfig{Host: "mail.local", Port: "25", Sender: "pay@example.com"})

	_, err := p.Deliver(context.Background(), paymentDelivery(t, models.ChannelSMS))
	assert.ErrorIs(t, err, ErrChannelUnsupported)

	p.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }
	_, err = p.Deliver(context.Background(), paymentDelivery(t, models.ChannelEmail))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRender_UnknownTemplate(t *testing.T) {
	subject, body := render(Delivery{Template: "other", Payload: json.RawMessage(`{"x":1}`)})
	assert.Equal(t, "HandlePay notification", subject)
	assert.Equal(t, `{"x":1}`, body)
}
