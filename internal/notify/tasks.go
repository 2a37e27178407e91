package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-grocery/internal/events"
	"github.com/noah-isme/backend-grocery/internal/obs"
	"github.com/noah-isme/backend-grocery/internal/store"
)

// TypeInvoiceEmail is the asynq task type for customer invoice emails.
const TypeInvoiceEmail = "notify:invoice_email"

// EmailTask is the payload of TypeInvoiceEmail tasks.
type EmailTask struct {
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// TaskClient enqueues asynq tasks. *asynq.Client satisfies it.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskEnqueuer is an events.Notifier that turns invoice events into email
// tasks for the worker.
type TaskEnqueuer struct {
	Client   TaskClient
	Queue    string
	MaxRetry int
	Topics   []string
	Logger   zerolog.Logger
}

// Notify implements events.Notifier.
func (e TaskEnqueuer) Notify(ctx context.Context, event store.DomainEvent) error {
	if e.Client == nil {
		return nil
	}
	topics := e.Topics
	if topics == nil {
		topics = events.DefaultTopics()
	}
	if !slices.Contains(topics, event.Topic) {
		return nil
	}

	eventID := store.UUIDString(event.ID)
	body, err := json.Marshal(EmailTask{
		EventID:    eventID,
		Topic:      event.Topic,
		OccurredAt: store.TimeValue(event.OccurredAt),
		Payload:    json.RawMessage(event.Payload),
	})
	if err != nil {
		return fmt.Errorf("notify: encode task: %w", err)
	}

	opts := []asynq.Option{asynq.MaxRetry(e.maxRetry())}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if eventID != "" {
		opts = append(opts, asynq.TaskID(eventID))
	}
	info, err := e.Client.EnqueueContext(ctx, asynq.NewTask(TypeInvoiceEmail, body), opts...)
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict):
		obs.ObserveNotification(event.Topic, "enqueue", "duplicate")
		return nil
	case err != nil:
		obs.ObserveNotification(event.Topic, "enqueue", "error")
		return fmt.Errorf("notify: enqueue %s: %w", event.Topic, err)
	}
	obs.ObserveNotification(event.Topic, "enqueue", "ok")
	e.Logger.Debug().Str("task_id", info.ID).Str("queue", info.Queue).Str("topic", event.Topic).Msg("notification enqueued")
	return nil
}

func (e TaskEnqueuer) maxRetry() int {
	if e.MaxRetry > 0 {
		return e.MaxRetry
	}
	return 5
}

// NewServeMux routes notification tasks to handler.
func NewServeMux(handler *EmailHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeInvoiceEmail, handler)
	return mux
}
