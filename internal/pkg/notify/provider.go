package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
)

// Delivery is what a provider needs to send one notification.
type Delivery struct {
	ID          string          `json:"-"`
	Channel     string          `json:"channel"`
	Destination string          `json:"destination"`
	Template    string          `json:"template"`
	Payload     json.RawMessage `json:"payload"`
}

// Provider sends a delivery and returns an opaque message id. Providers can be
// invoked more than once for the same notification.
type Provider interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) (string, error)
}

// NewProvider builds the provider selected by NOTIFY_PROVIDER.
func NewProvider(cfg config.NotifyConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "log":
		return LogProvider{}, nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, errors.New("NOTIFY_WEBHOOK_URL is required for webhook provider")
		}
		return NewWebhookProvider(cfg.WebhookURL, 10*time.Second), nil
	case "smtp":
		return NewSMTPProvider(cfg.SMTP), nil
	}
	return nil, fmt.Errorf("unknown notification provider %q", cfg.Provider)
}

// LogProvider writes the notification to the application log.
type LogProvider struct{}

func (LogProvider) Name() string { return "log" }

func (LogProvider) Deliver(_ context.Context, d Delivery) (string, error) {
	log.Infof("[Notify:%s] to=%s template=%s payload=%s", d.Channel, d.Destination, d.Template, string(d.Payload))
	return fmt.Sprintf("log-%d", time.Now().UnixMilli()), nil
}

// WebhookProvider POSTs the delivery as JSON to a fixed URL.
type WebhookProvider struct {
	url     string
	timeout time.Duration
}

func NewWebhookProvider(url string, timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{url: url, timeout: timeout}
}

func (p *WebhookProvider) Name() string { return "webhook" }

func (p *WebhookProvider) Deliver(ctx context.Context, d Delivery) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	resp := fiber.AcquireResponse()
	defer fiber.ReleaseResponse(resp)

	agent := fiber.Post(p.url)
	agent.JSON(d)
	agent.Timeout(timeout)
	agent.SetResponse(resp)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return "", fmt.Errorf("webhook notify failed: %w", errors.Join(errs...))
	}
	if code < 200 || code > 299 {
		return "", fmt.Errorf("Webhook notify failed: %d %s", code, string(body))
	}
	return string(resp.Header.Peek("X-Message-Id")), nil
}
