package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/order-engine/internal/jobs"
	"github.com/odyssey-erp/order-engine/internal/sales/orders"
)

// TaskReopenNotify tells sales managers about reopen request activity.
const TaskReopenNotify = "sales:reopen.notify"

// NewReopenNotifyTask builds the notification task for event.
func NewReopenNotifyTask(event orders.ReopenEvent) (*asynq.Task, error) {
	if event.OrderID <= 0 || event.Event == "" {
		return nil, errors.New("jobs: reopen event requires order and event")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReopenNotify, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// ReopenNotifier implements orders.Notifier by enqueueing TaskReopenNotify.
type ReopenNotifier struct {
	Queue Enqueuer
}

// NotifyReopen enqueues the event.
func (n ReopenNotifier) NotifyReopen(ctx context.Context, event orders.ReopenEvent) error {
	if n.Queue == nil {
		return errors.New("jobs: reopen notifier has no queue")
	}
	task, err := NewReopenNotifyTask(event)
	if err != nil {
		return err
	}
	_, err = n.Queue.EnqueueContext(ctx, task)
	return err
}

// ReopenNotifyJob turns reopen events into emails for the configured inbox.
type ReopenNotifyJob struct {
	Queue     Enqueuer
	Recipient string
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskReopenNotify tasks.
func (j *ReopenNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Queue == nil {
		return errors.New("reopen notify: handler not configured")
	}
	var event orders.ReopenEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return asynq.SkipRetry
	}
	logger := loggerFor(j.Logger, TaskReopenNotify).With(slog.Int64("order_id", event.OrderID), slog.String("event", event.Event))
	if strings.TrimSpace(j.Recipient) == "" {
		logger.Warn("reopen notification dropped, no recipient configured")
		return nil
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskReopenNotify)
	mail, err := NewSendEmailTask(RenderReopenEmail(j.Recipient, event))
	if err != nil {
		return tracker.End(err)
	}
	if _, err := j.Queue.EnqueueContext(ctx, mail); err != nil {
		logger.Error("enqueue reopen email", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("reopen email queued")
	return tracker.End(nil)
}

// RenderReopenEmail builds the message for a reopen event.
func RenderReopenEmail(to string, event orders.ReopenEvent) SendEmailPayload {
	var subject, lead string
	switch event.Event {
	case orders.ReopenEventRequested:
		subject = fmt.Sprintf("Reopen requested for %s", event.OrderNumber)
		lead = "Sales asked to send this order back to NEW. It stays at PR until a manager decides."
	case orders.ReopenEventApproved:
		subject = fmt.Sprintf("Reopen approved for %s", event.OrderNumber)
		lead = "The order is back at NEW and editable by sales."
	case orders.ReopenEventRejected:
		subject = fmt.Sprintf("Reopen rejected for %s", event.OrderNumber)
		lead = "The order stays at PR and purchasing may continue."
	case orders.ReopenEventReminder:
		subject = fmt.Sprintf("Reopen still pending for %s", event.OrderNumber)
		lead = "Purchasing is blocked until this request is approved or rejected."
	default:
		subject = fmt.Sprintf("Reopen update for %s", event.OrderNumber)
	}
	var body strings.Builder
	if lead != "" {
		body.WriteString(lead)
		body.WriteString("\n\n")
	}
	fmt.Fprintf(&body, "Order: %s (#%d)\n", event.OrderNumber, event.OrderID)
	if event.Reason != "" {
		fmt.Fprintf(&body, "Reason: %s\n", event.Reason)
	}
	if event.ActorID > 0 {
		fmt.Fprintf(&body, "By user: %d\n", event.ActorID)
	}
	return SendEmailPayload{To: to, Subject: subject, Body: body.String()}
}
