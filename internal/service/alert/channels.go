package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/techmajster/time8-product-sub008/internal/email"
	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/pkg/messaging"
)

// BrokerChannel publishes alerts on a pub/sub channel for on-call tooling.
type BrokerChannel struct {
	publisher messaging.Publisher
	channel   string
}

func NewBrokerChannel(publisher messaging.Publisher, channel string) *BrokerChannel {
	return &BrokerChannel{publisher: publisher, channel: channel}
}

func (c *BrokerChannel) Name() string { return "broker:" + c.channel }

func (c *BrokerChannel) Deliver(ctx context.Context, alert *model.Alert) error {
	return c.publisher.Publish(ctx, c.channel, messaging.Message{
		Type:    "seat_alert." + alert.Type,
		Payload: alert,
	})
}

// EmailChannel pages the configured recipients.
type EmailChannel struct {
	mailer     email.Service
	recipients []string
}

func NewEmailChannel(mailer email.Service, recipients []string) *EmailChannel {
	return &EmailChannel{mailer: mailer, recipients: recipients}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, alert *model.Alert) error {
	if len(c.recipients) == 0 {
		return nil
	}
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)
	return c.mailer.SendCustom(ctx, c.recipients, subject, renderBody(alert))
}

func renderBody(alert *model.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", alert.Message)
	fmt.Fprintf(&b, "type: %s\n", alert.Type)
	if alert.JobName != "" {
		fmt.Fprintf(&b, "job: %s\n", alert.JobName)
	}
	if alert.SubscriptionID != nil {
		fmt.Fprintf(&b, "subscription: %s\n", alert.SubscriptionID)
	}
	if alert.OrganizationID != nil {
		fmt.Fprintf(&b, "organization: %s\n", alert.OrganizationID)
	}
	if alert.CorrelationID != "" {
		fmt.Fprintf(&b, "correlation id: %s\n", alert.CorrelationID)
	}

	keys := make([]string, 0, len(alert.Context))
	for k := range alert.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, alert.Context[k])
	}
	return b.String()
}
