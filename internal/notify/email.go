package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/events"
	"github.com/noah-isme/backend-grocery/internal/obs"
)

// EmailHandler renders and sends customer emails for notification tasks.
type EmailHandler struct {
	Mail    common.EmailSender
	Enabled bool
	From    string
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h *EmailHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var msg EmailTask
	if err := json.Unmarshal(task.Payload(), &msg); err != nil {
		obs.ObserveNotification("unknown", "deliver", "invalid")
		return fmt.Errorf("email task: decode: %v: %w", err, asynq.SkipRetry)
	}
	if !h.Enabled || h.Mail == nil {
		obs.ObserveNotification(msg.Topic, "deliver", "disabled")
		return nil
	}
	email, ok, err := render(msg)
	if err != nil {
		obs.ObserveNotification(msg.Topic, "deliver", "invalid")
		return fmt.Errorf("email task %s: %v: %w", msg.EventID, err, asynq.SkipRetry)
	}
	if !ok {
		obs.ObserveNotification(msg.Topic, "deliver", "skipped")
		return nil
	}
	email.From = h.From
	if err := h.Mail.Send(ctx, email); err != nil {
		obs.ObserveNotification(msg.Topic, "deliver", "error")
		return fmt.Errorf("email task %s: send: %w", msg.EventID, err)
	}
	obs.ObserveNotification(msg.Topic, "deliver", "ok")
	h.Logger.Info().Str("event_id", msg.EventID).Str("topic", msg.Topic).Msg("notification email sent")
	return nil
}

// render builds the email for msg. ok is false when there is nothing to send.
func render(msg EmailTask) (common.Email, bool, error) {
	switch msg.Topic {
	case events.TopicInvoiceCreated:
		var p events.InvoiceCreated
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return common.Email{}, false, err
		}
		if strings.TrimSpace(p.UserEmail) == "" {
			return common.Email{}, false, nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Thank you for your order.\n\nInvoice: %s\n", p.InvoiceID)
		fmt.Fprintf(&b, "Items: %d\n", p.ItemCount)
		fmt.Fprintf(&b, "Subtotal: %s\n", formatMoney(p.Subtotal))
		if p.Discount > 0 {
			fmt.Fprintf(&b, "Discount: -%s\n", formatMoney(p.Discount))
		}
		fmt.Fprintf(&b, "Delivery fee: %s\n", formatMoney(p.DeliveryFee))
		fmt.Fprintf(&b, "Total: %s\n\n", formatMoney(p.Total))
		b.WriteString(placedAt(msg.OccurredAt))
		return common.Email{To: p.UserEmail, Subject: "Your order has been received", Body: b.String()}, true, nil

	case events.TopicInvoiceStatusChanged:
		var p events.InvoiceStatusChanged
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return common.Email{}, false, err
		}
		if strings.TrimSpace(p.UserEmail) == "" {
			return common.Email{}, false, nil
		}
		body := fmt.Sprintf("Invoice %s is now %s (was %s).\n\n%s", p.InvoiceID, statusLabel(p.To), statusLabel(p.From), placedAt(msg.OccurredAt))
		return common.Email{To: p.UserEmail, Subject: subjectForStatus(p.To), Body: body}, true, nil
	}
	return common.Email{}, false, nil
}

func subjectForStatus(status string) string {
	switch status {
	case "delivering":
		return "Your order is on its way"
	case "completed":
		return "Your order is complete"
	default:
		return "Your order status changed"
	}
}

func statusLabel(status string) string {
	return strings.ReplaceAll(status, "_", " ")
}

func placedAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return "Updated at " + t.UTC().Format(time.RFC1123) + "."
}

// formatMoney groups minor units in thousands, e.g. 150000 -> 150,000.
func formatMoney(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	digits := fmt.Sprintf("%d", v)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
