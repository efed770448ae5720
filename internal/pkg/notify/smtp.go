package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
)

var ErrChannelUnsupported = errors.New("channel is not supported by this provider")

// SMTPProvider sends email notifications via SMTP
type SMTPProvider struct {
	cfg  config.SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPProvider(cfg config.SMTPConfig) *SMTPProvider {
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
	}
	return &SMTPProvider{cfg: cfg, send: smtp.SendMail}
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Deliver(_ context.Context, d Delivery) (string, error) {
	if d.Channel != models.ChannelEmail {
		return "", fmt.Errorf("smtp: %s: %w", d.Channel, ErrChannelUnsupported)
	}

	var auth smtp.Auth
	if p.cfg.Username != "" && p.cfg.Password != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}

	subject, body := render(d)
	messageID := fmt.Sprintf("<%s.%d@handlepay>", d.ID, time.Now().UnixNano())
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMessage-ID: %s\r\n", p.cfg.Sender, d.Destination, subject, messageID) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
			body,
	)

	addr := fmt.Sprintf("%s:%s", p.cfg.Host, p.cfg.Port)
	if err := p.send(addr, auth, p.cfg.Sender, []string{d.Destination}, msg); err != nil {
		return "", fmt.Errorf("smtp send to %s: %w", d.Destination, err)
	}
	return messageID, nil
}

func render(d Delivery) (string, string) {
	var p PaymentReceived
	if d.Template != models.TemplatePaymentReceived || json.Unmarshal(d.Payload, &p) != nil {
		return "HandlePay notification", string(d.Payload)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s sent you $%s in %s.\r\n", p.SenderHandle, p.AmountUSD.StringFixed(2), p.Stablecoin)
	if p.Memo != nil && *p.Memo != "" {
		fmt.Fprintf(&b, "Memo: %s\r\n", *p.Memo)
	}
	if p.TxHash != nil {
		fmt.Fprintf(&b, "Transaction: %s\r\n", *p.TxHash)
	}
	return "You received a payment", b.String()
}
