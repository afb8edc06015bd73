package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/order-engine/internal/jobs"
	"github.com/odyssey-erp/order-engine/internal/sales/orders"
)

// TaskReopenReminder nags managers about reopen requests left pending.
const TaskReopenReminder = "sales:reopen.reminder"

// ReopenReminderCron runs the reminder at the top of every hour.
const ReopenReminderCron = "0 * * * *"

// ReopenReminderPayload overrides the configured age threshold when set.
type ReopenReminderPayload struct {
	OlderThanMinutes int `json:"older_than_minutes,omitempty"`
}

// NewReopenReminderTask builds the reminder task.
func NewReopenReminderTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(ReopenReminderPayload{OlderThanMinutes: int(olderThan / time.Minute)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReopenReminder, body, asynq.Queue(QueueDefault)), nil
}

// PendingSource lists reopen requests still awaiting a decision.
type PendingSource interface {
	PendingReopenBefore(ctx context.Context, cutoff time.Time) ([]orders.PendingReopen, error)
}

// ReopenReminderJob enqueues one reminder notification per stale request.
type ReopenReminderJob struct {
	Source    PendingSource
	Queue     Enqueuer
	OlderThan time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewReopenReminderJob wires dependencies for the reminder handler.
func NewReopenReminderJob(source PendingSource, queue Enqueuer, olderThan time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReopenReminderJob {
	return &ReopenReminderJob{
		Source:    source,
		Queue:     queue,
		OlderThan: olderThan,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskReopenReminder tasks.
func (j *ReopenReminderJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil || j.Queue == nil {
		return errors.New("reopen reminder: handler not configured")
	}
	var payload ReopenReminderPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	olderThan := j.OlderThan
	if payload.OlderThanMinutes > 0 {
		olderThan = time.Duration(payload.OlderThanMinutes) * time.Minute
	}
	if olderThan <= 0 {
		olderThan = 24 * time.Hour
	}

	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskReopenReminder)
	logger := loggerFor(j.Logger, TaskReopenReminder)

	now := j.now()
	pending, err := j.Source.PendingReopenBefore(ctx, now.Add(-olderThan))
	if err != nil {
		logger.Error("list pending reopen requests", slog.Any("error", err))
		return tracker.End(err)
	}

	sent := 0
	for _, p := range pending {
		task, err := NewReopenNotifyTask(orders.ReopenEvent{
			OrderID:     p.OrderID,
			OrderNumber: p.OrderNumber,
			Event:       orders.ReopenEventReminder,
			Reason:      p.Request.Reason,
			ActorID:     p.Request.RequestedBy,
		})
		if err != nil {
			return tracker.End(err)
		}
		_, err = j.Queue.EnqueueContext(ctx, task, asynq.TaskID(reminderTaskID(p, now)))
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			continue
		}
		if err != nil {
			logger.Error("enqueue reopen reminder", slog.Int64("order_id", p.OrderID), slog.Any("error", err))
			return tracker.End(err)
		}
		sent++
	}
	metrics.AddReminders(sent)
	logger.Info("reopen reminders queued", slog.Int("pending", len(pending)), slog.Int("sent", sent))
	return tracker.End(nil)
}

// reminderTaskID is stable within an hour so retried runs do not duplicate
// reminders.
func reminderTaskID(p orders.PendingReopen, now time.Time) string {
	return fmt.Sprintf("reopen-reminder:%d:%d:%s", p.OrderID, p.Request.ID, now.UTC().Format("2006010215"))
}

func (j *ReopenReminderJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
