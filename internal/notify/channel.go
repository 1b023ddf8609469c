package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/turnosalud/clinic-agenda/pkg/logging"
)

// DeliveryChannel sends one rendered message to one address.
type DeliveryChannel interface {
	Kind() ChannelKind
	Send(ctx context.Context, to, subject, body string) error
}

// SendGridChannel delivers email through the SendGrid API.
type SendGridChannel struct {
	client   *sendgrid.Client
	from     string
	fromName string
	log      *logging.Logger
}

type SendGridConfig struct {
	APIKey   string
	From     string
	FromName string
}

func NewSendGridChannel(cfg SendGridConfig, logger *logging.Logger) *SendGridChannel {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridChannel{
		client:   sendgrid.NewSendClient(cfg.APIKey),
		from:     cfg.From,
		fromName: cfg.FromName,
		log:      logger,
	}
}

func (c *SendGridChannel) Kind() ChannelKind { return ChannelEmail }

func (c *SendGridChannel) Send(ctx context.Context, to, subject, body string) error {
	if c.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(c.fromName, c.from)
	message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), body, body)

	response, err := c.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	c.log.Info("email sent", "to", to, "subject", subject, "status", response.StatusCode)
	return nil
}

// LogChannel logs instead of sending. Used in dev and whenever no SendGrid
// key is configured.
type LogChannel struct {
	log *logging.Logger
}

func NewLogChannel(logger *logging.Logger) *LogChannel {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogChannel{log: logger}
}

func (c *LogChannel) Kind() ChannelKind { return ChannelEmail }

func (c *LogChannel) Send(ctx context.Context, to, subject, body string) error {
	c.log.Info("log channel: would send email", "to", to, "subject", subject)
	return nil
}
