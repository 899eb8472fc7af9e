package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumina-edu/scheduler-api/pkg/jobs"
)

// NotificationSender delivers a single notification to the outside world
// (email, SMS, calendar). Implementations live at the transport edge.
type NotificationSender interface {
	Send(ctx context.Context, kind string, payload map[string]string) error
}

// NotifyService dispatches scheduling notifications through a background
// queue. Delivery is fire-and-log: a failed send never aborts the
// scheduling operation that triggered it.
type NotifyService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

type notifyPayload struct {
	Kind   string
	Fields map[string]string
}

// NewNotifyService builds the service and its worker queue.
func NewNotifyService(sender NotificationSender, workers, maxRetries int, retryDelay time.Duration, logger *zap.Logger) *NotifyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(notifyPayload)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", job.Payload)
		}
		return sender.Send(ctx, payload.Kind, payload.Fields)
	}
	queue := jobs.NewQueue("notifications", handler, jobs.QueueConfig{
		Workers:    workers,
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
		Logger:     logger,
	})
	return &NotifyService{queue: queue, logger: logger}
}

// Start launches the queue workers.
func (s *NotifyService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue.
func (s *NotifyService) Stop() {
	s.queue.Stop()
}

// NotifyAssignment announces a teacher assignment. Enqueue failures are
// logged and swallowed.
func (s *NotifyService) NotifyAssignment(teacherID, classID string) {
	s.enqueue("teacher_assigned", map[string]string{
		"teacher_id": teacherID,
		"class_id":   classID,
	})
}

// NotifyReschedule announces a class moving to a new slot.
func (s *NotifyService) NotifyReschedule(classID string, newStart time.Time) {
	s.enqueue("class_rescheduled", map[string]string{
		"class_id": classID,
		"start_at": newStart.Format(time.RFC3339),
	})
}

func (s *NotifyService) enqueue(kind string, fields map[string]string) {
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    kind,
		Payload: notifyPayload{Kind: kind, Fields: fields},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

// LogSender is the default NotificationSender: it records the payload and
// succeeds. Real channels plug in behind the same interface.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, kind string, payload map[string]string) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := make([]zap.Field, 0, len(payload)+1)
	fields = append(fields, zap.String("kind", kind))
	for k, v := range payload {
		fields = append(fields, zap.String(k, v))
	}
	logger.Info("notification", fields...)
	return nil
}
