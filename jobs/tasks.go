package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/order-engine/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.To) == "" {
		return nil, errors.New("jobs: email recipient required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Mailer delivers a rendered email.
type Mailer interface {
	Send(ctx context.Context, from string, msg SendEmailPayload) error
}

// LogMailer writes emails to the log instead of delivering them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send logs the message.
func (m LogMailer) Send(_ context.Context, from string, msg SendEmailPayload) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email", slog.String("from", from), slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}

// SMTPMailer delivers through a plain SMTP relay such as Mailpit.
type SMTPMailer struct {
	Addr string
	Auth smtp.Auth
}

// Send delivers msg over SMTP.
func (m SMTPMailer) Send(_ context.Context, from string, msg SendEmailPayload) error {
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from, msg.To, msg.Subject, msg.Body)
	return smtp.SendMail(m.Addr, m.Auth, from, []string{msg.To}, []byte(body))
}

// SendEmailJob handles TaskTypeSendEmail tasks.
type SendEmailJob struct {
	Mailer  Mailer
	From    string
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskTypeSendEmail tasks.
func (j *SendEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.To == "" {
		return fmt.Errorf("mail: empty recipient: %w", asynq.SkipRetry)
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskTypeSendEmail)
	mailer := j.Mailer
	if mailer == nil {
		mailer = LogMailer{Logger: j.Logger}
	}
	return tracker.End(mailer.Send(ctx, j.From, payload))
}
