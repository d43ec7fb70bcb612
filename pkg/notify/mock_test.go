package notify

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/resend/resend-go/v2"
)

type MockEmailSender struct {
	SendFunc func(params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
	sent     []*resend.SendEmailRequest
}

func (m *MockEmailSender) Send(params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	m.sent = append(m.sent, params)
	if m.SendFunc != nil {
		return m.SendFunc(params)
	}
	return &resend.SendEmailResponse{Id: "email-1"}, nil
}

type MockEnqueuer struct {
	EnqueueFunc func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	tasks       []*asynq.Task
	opts        [][]asynq.Option
}

func (m *MockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.tasks = append(m.tasks, task)
	m.opts = append(m.opts, opts)
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, task, opts...)
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: "critical"}, nil
}

type MockDispatcher struct {
	NotifyFunc func(ctx context.Context, alert Alert) error
	alerts     []Alert
}

func (m *MockDispatcher) NotifyUnauthorized(ctx context.Context, alert Alert) error {
	m.alerts = append(m.alerts, alert)
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, alert)
	}
	return nil
}

func testAlert() Alert {
	return NewAlert("session-1", "alice", "alice@example.com", 0.75, []byte{0xFF, 0xD8, 0xFF, 0xD9})
}
