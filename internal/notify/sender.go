package notify

import (
	"context"
	"fmt"

	"github.com/bjo163/sokomarket/config"
	"github.com/bjo163/sokomarket/internal/domain"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Sender delivers queued messages over one external channel (email, ...).
type Sender interface {
	// Channel is the MerchantChannel kind this sender serves
	Channel() string

	// Send delivers a single message; an error marks it failed for retry
	Send(ctx context.Context, d *domain.NotificationDelivery) error

	Close() error
}

// EmailSender sends deliveries through an SMTP relay.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailSender(cfg config.SmtpConfig) *EmailSender {
	return &EmailSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *EmailSender) Channel() string { return domain.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, d *domain.NotificationDelivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", d.Recipient)
	m.SetHeader("Subject", d.Subject)
	m.SetBody("text/plain", d.Body)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", d.Recipient, err)
	}
	return nil
}

func (s *EmailSender) Close() error { return nil }

// Pusher hands an in-app notification to a realtime transport.
type Pusher interface {
	Push(ctx context.Context, n *domain.Notification) error
}

// LogPusher writes notifications to the log instead of a device.
type LogPusher struct{}

func (LogPusher) Push(_ context.Context, n *domain.Notification) error {
	payload, err := jsoniter.MarshalToString(n)
	if err != nil {
		return err
	}
	zap.L().Debug("push notification",
		zap.Int64("user_id", n.UserID),
		zap.String("type", n.Type),
		zap.String("payload", payload))
	return nil
}
