package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/MrCodeEU/facelocker/pkg/config"
)

func TestNewAlertTask(t *testing.T) {
	alert := testAlert()

	task, err := NewAlertTask(alert)
	if err != nil {
		t.Fatalf("NewAlertTask failed: %v", err)
	}
	if task.Type() != TypeUnauthorizedAlert {
		t.Errorf("unexpected task type %s", task.Type())
	}

	var decoded Alert
	if err := json.Unmarshal(task.Payload(), &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.ID != alert.ID || decoded.Contact != alert.Contact || !bytes.Equal(decoded.Evidence, alert.Evidence) {
		t.Errorf("payload lost alert fields: %+v", decoded)
	}
}

func TestQueueDispatcher_NotifyUnauthorized(t *testing.T) {
	client := &MockEnqueuer{}
	q := NewQueueDispatcher(client, config.DefaultConfig().Notify)

	if err := q.NotifyUnauthorized(context.Background(), testAlert()); err != nil {
		t.Fatalf("NotifyUnauthorized failed: %v", err)
	}
	if len(client.tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(client.tasks))
	}
	if client.tasks[0].Type() != TypeUnauthorizedAlert {
		t.Errorf("unexpected task type %s", client.tasks[0].Type())
	}
	// Queue, MaxRetry, Timeout, TaskID.
	if len(client.opts[0]) != 4 {
		t.Errorf("expected 4 enqueue options, got %d", len(client.opts[0]))
	}
}

func TestQueueDispatcher_Errors(t *testing.T) {
	client := &MockEnqueuer{
		EnqueueFunc: func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			return nil, errors.New("redis down")
		},
	}
	q := NewQueueDispatcher(client, config.DefaultConfig().Notify)

	if err := q.NotifyUnauthorized(context.Background(), testAlert()); err == nil {
		t.Error("expected enqueue error")
	}

	bad := testAlert()
	bad.Evidence = nil
	if err := q.NotifyUnauthorized(context.Background(), bad); !errors.Is(err, ErrMissingEvidence) {
		t.Errorf("expected ErrMissingEvidence, got %v", err)
	}
	if len(client.tasks) != 1 {
		t.Errorf("invalid alerts must not be enqueued")
	}
}

func TestAlertHandler(t *testing.T) {
	boom := errors.New("smtp down")

	tests := []struct {
		name      string
		payload   func() []byte
		notifyErr error
		wantErr   bool
		skipRetry bool
		delivered int
	}{
		{
			name: "delivered",
			payload: func() []byte {
				task, _ := NewAlertTask(testAlert())
				return task.Payload()
			},
			delivered: 1,
		},
		{
			name: "delivery fails and is retried",
			payload: func() []byte {
				task, _ := NewAlertTask(testAlert())
				return task.Payload()
			},
			notifyErr: boom,
			wantErr:   true,
			delivered: 1,
		},
		{
			name:      "malformed payload",
			payload:   func() []byte { return []byte("{not json") },
			wantErr:   true,
			skipRetry: true,
		},
		{
			name: "missing contact",
			payload: func() []byte {
				a := testAlert()
				a.Contact = ""
				task, _ := NewAlertTask(a)
				return task.Payload()
			},
			wantErr:   true,
			skipRetry: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &MockDispatcher{NotifyFunc: func(ctx context.Context, alert Alert) error { return tt.notifyErr }}
			handler := NewAlertHandler(d)

			err := handler.ProcessTask(context.Background(), asynq.NewTask(TypeUnauthorizedAlert, tt.payload()))
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if errors.Is(err, asynq.SkipRetry) != tt.skipRetry {
				t.Errorf("expected SkipRetry=%v, got %v", tt.skipRetry, err)
			}
			if len(d.alerts) != tt.delivered {
				t.Errorf("expected %d deliveries, got %d", tt.delivered, len(d.alerts))
			}
		})
	}
}

func TestNewWorker(t *testing.T) {
	srv, mux := NewWorker(config.DefaultConfig(), &MockDispatcher{})
	if srv == nil || mux == nil {
		t.Fatal("NewWorker returned nil")
	}
}
