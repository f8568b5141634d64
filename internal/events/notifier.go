package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-tiket/internal/common"
)

// EmailNotifier sends buyer emails for selected topics.
type EmailNotifier struct {
	Mail         common.EmailSender
	Enabled      bool
	TopicToggles map[string]bool
	Logger       zerolog.Logger
}

// Notify sends the email for a single event. Events without a recipient are skipped.
func (n EmailNotifier) Notify(_ context.Context, event Event) error {
	if !n.Enabled || n.Mail == nil {
		return nil
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[event.Topic]; ok && !enabled {
			return nil
		}
	}
	payload := map[string]any{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("email notify: decode payload: %w", err)
		}
	}
	to := extractRecipient(payload)
	if to == "" {
		n.Logger.Debug().Str("topic", event.Topic).Str("event_id", event.ID).Msg("notify_skipped_no_recipient")
		return nil
	}
	return n.Mail.Send(to, subjectFor(event.Topic), bodyFor(event, payload))
}

// ProcessTask implements asynq.Handler so the notifier can be mounted on a ServeMux.
func (n EmailNotifier) ProcessTask(ctx context.Context, task *asynq.Task) error {
	ev, err := Decode(task)
	if err != nil {
		// a malformed envelope never becomes valid on retry
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return n.Notify(ctx, ev)
}

func extractRecipient(payload map[string]any) string {
	for _, key := range []string{"buyerEmail", "email"} {
		if s, ok := payload[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func subjectFor(topic string) string {
	switch topic {
	case TopicOrderCreated:
		return "Your ticket order has been created"
	case TopicPaymentVerified, TopicPaymentCaptured, TopicOrderPaid:
		return "Payment received for your tickets"
	case TopicPaymentFailed:
		return "Payment failed for your ticket order"
	default:
		return fmt.Sprintf("Notification %s", topic)
	}
}

func bodyFor(event Event, payload map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event %s occurred at %s.", event.Topic, event.OccurredAt.Format(time.RFC3339))
	if name, ok := payload["buyerName"].(string); ok && name != "" {
		fmt.Fprintf(&b, "\nName: %s", name)
	}
	if orderID, ok := payload["orderId"].(string); ok && orderID != "" {
		fmt.Fprintf(&b, "\nOrder ID: %s", orderID)
	}
	if paymentID, ok := payload["paymentId"].(string); ok && paymentID != "" {
		fmt.Fprintf(&b, "\nPayment ID: %s", paymentID)
	}
	if total, ok := payload["total"].(float64); ok && total > 0 {
		fmt.Fprintf(&b, "\nTotal: %.0f", total)
	}
	return b.String()
}
