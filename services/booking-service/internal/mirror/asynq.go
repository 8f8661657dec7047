package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeMirror   = "calendar:mirror"
	TypeUnmirror = "calendar:unmirror"

	QueueCalendar = "calendar"
)

type mirrorPayload struct {
	AppointmentID string `json:"appointment_id"`
}

type unmirrorPayload struct {
	EventID string `json:"event_id"`
}

// Enqueuer is the subset of *asynq.Client used here.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqDispatcher hands mirror work to an asynq worker through Redis, which
// retries with backoff.
type AsynqDispatcher struct {
	client   Enqueuer
	maxRetry int
	timeout  time.Duration
}

func NewAsynqDispatcher(client Enqueuer) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, maxRetry: 5, timeout: 30 * time.Second}
}

func (d *AsynqDispatcher) Mirror(ctx context.Context, appointmentID string) error {
	task, err := NewMirrorTask(appointmentID)
	if err != nil {
		return err
	}
	return d.enqueue(ctx, task, "mirror:"+appointmentID)
}

func (d *AsynqDispatcher) Unmirror(ctx context.Context, eventID string) error {
	task, err := NewUnmirrorTask(eventID)
	if err != nil {
		return err
	}
	return d.enqueue(ctx, task, "unmirror:"+eventID)
}

func (d *AsynqDispatcher) enqueue(ctx context.Context, task *asynq.Task, id string) error {
	_, err := d.client.EnqueueContext(ctx, task,
		asynq.TaskID(id),
		asynq.Queue(QueueCalendar),
		asynq.MaxRetry(d.maxRetry),
		asynq.Timeout(d.timeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Same work is already queued.
		return nil
	}
	return err
}

func NewMirrorTask(appointmentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(mirrorPayload{AppointmentID: appointmentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMirror, payload), nil
}

func NewUnmirrorTask(eventID string) (*asynq.Task, error) {
	payload, err := json.Marshal(unmirrorPayload{EventID: eventID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeUnmirror, payload), nil
}

// NewServeMux routes mirror tasks to m. Permanent failures skip retries.
func NewServeMux(m *Mirrorer, logger *slog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeMirror, func(ctx context.Context, t *asynq.Task) error {
		var p mirrorPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil || p.AppointmentID == "" {
			return fmt.Errorf("bad %s payload: %v: %w", TypeMirror, err, asynq.SkipRetry)
		}
		return skipIfPermanent(m.Mirror(ctx, p.AppointmentID), logger, "appointment_id", p.AppointmentID)
	})
	mux.HandleFunc(TypeUnmirror, func(ctx context.Context, t *asynq.Task) error {
		var p unmirrorPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil || p.EventID == "" {
			return fmt.Errorf("bad %s payload: %v: %w", TypeUnmirror, err, asynq.SkipRetry)
		}
		return skipIfPermanent(m.Unmirror(ctx, p.EventID), logger, "event_id", p.EventID)
	})
	return mux
}

func skipIfPermanent(err error, logger *slog.Logger, attrs ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermanent) {
		logger.Warn("dropping mirror task", append(attrs, "err", err)...)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
