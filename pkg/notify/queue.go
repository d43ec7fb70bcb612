package notify

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"

	"github.com/MrCodeEU/facelocker/pkg/config"
	"github.com/MrCodeEU/facelocker/pkg/logging"
)

// TypeUnauthorizedAlert is the asynq task type carrying an Alert.
const TypeUnauthorizedAlert = "alert:unauthorized"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Enqueuer is the part of asynq.Client used by QueueDispatcher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueDispatcher hands alerts to a background worker through asynq.
type QueueDispatcher struct {
	client Enqueuer
	cfg    config.NotifyConfig
}

// NewQueueDispatcher creates a dispatcher that enqueues alert tasks.
func NewQueueDispatcher(client Enqueuer, cfg config.NotifyConfig) *QueueDispatcher {
	return &QueueDispatcher{client: client, cfg: cfg}
}

// NewAlertTask encodes an alert as an asynq task.
func NewAlertTask(alert Alert) (*asynq.Task, error) {
	payload, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}
	return asynq.NewTask(TypeUnauthorizedAlert, payload), nil
}

// NotifyUnauthorized implements Dispatcher.
func (q *QueueDispatcher) NotifyUnauthorized(ctx context.Context, alert Alert) error {
	if err := alert.Validate(); err != nil {
		return err
	}

	task, err := NewAlertTask(alert)
	if err != nil {
		return err
	}

	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.cfg.Queue),
		asynq.MaxRetry(q.cfg.MaxRetry),
		asynq.Timeout(q.cfg.Timeout),
		asynq.TaskID(alert.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue alert: %w", err)
	}

	logging.WithFields(logging.Fields{
		"component": "notify",
		"alert_id":  alert.ID,
		"task_id":   info.ID,
		"queue":     info.Queue,
	}).Debug("Alert enqueued")
	return nil
}

// NewAlertHandler returns the asynq handler that delivers queued alerts
// through d. Malformed or undeliverable alerts are not retried.
func NewAlertHandler(d Dispatcher) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var alert Alert
		if err := json.Unmarshal(t.Payload(), &alert); err != nil {
			logging.WithError(err).Error("Failed to decode alert task payload")
			return fmt.Errorf("decode alert: %v: %w", err, asynq.SkipRetry)
		}
		if err := alert.Validate(); err != nil {
			logging.WithError(err).WithField("alert_id", alert.ID).Error("Dropping undeliverable alert")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return d.NotifyUnauthorized(ctx, alert)
	}
}

// NewWorker builds the asynq server and mux that process alert tasks.
func NewWorker(cfg *config.Config, d Dispatcher) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(RedisOpt(cfg.Redis), asynq.Config{
		Concurrency: 2,
		Queues: map[string]int{
			cfg.Notify.Queue: 1,
		},
		Logger: logging.Logger,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeUnauthorizedAlert, NewAlertHandler(d))
	return srv, mux
}
