package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tasklist/domain"
)

// Task change event types.
const (
	EventTaskCreated = "task-created"
	EventTaskUpdated = "task-updated"
	EventTaskDeleted = "task-deleted"
)

// TaskEvent describes a committed change to a task.
type TaskEvent struct {
	ID     string       `json:"id"`
	Type   string       `json:"type"`
	TaskID int64        `json:"taskId"`
	Task   *domain.Task `json:"task,omitempty"`
	Time   int64        `json:"time"`
}

func newTaskEvent(typ string, id int64, task *domain.Task) TaskEvent {
	return TaskEvent{
		ID:     uuid.NewString(),
		Type:   typ,
		TaskID: id,
		Task:   task,
		Time:   time.Now().UnixMilli(),
	}
}

// EventPublisher delivers task change events.
type EventPublisher interface {
	Publish(ctx context.Context, ev TaskEvent) error
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueuePublisher sends task events to an Azure Storage queue as JSON messages.
type QueuePublisher struct {
	queue queueClient
}

// NewQueuePublisher creates a publisher for the named queue.
func NewQueuePublisher(connStr, queueName string) (*QueuePublisher, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &QueuePublisher{queue: q}, nil
}

func (p *QueuePublisher) Publish(ctx context.Context, ev TaskEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Publishing wraps a store and emits an event after every successful write.
// Publish failures are logged; the write itself has already been committed.
type Publishing struct {
	base      backend
	publisher EventPublisher
	logger    *log.Logger
}

// NewPublishing creates a Publishing wrapper around base.
func NewPublishing(base backend, publisher EventPublisher, logger *log.Logger) *Publishing {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Publishing{base: base, publisher: publisher, logger: logger}
}

func (p *Publishing) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return p.base.ListTasks(ctx)
}

func (p *Publishing) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return p.base.GetTask(ctx, id)
}

func (p *Publishing) CreateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	created, err := p.base.CreateTask(ctx, task)
	if err != nil {
		return domain.Task{}, err
	}
	p.publish(ctx, newTaskEvent(EventTaskCreated, created.ID, &created))
	return created, nil
}

func (p *Publishing) UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	updated, err := p.base.UpdateTask(ctx, id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	p.publish(ctx, newTaskEvent(EventTaskUpdated, id, &updated))
	return updated, nil
}

func (p *Publishing) DeleteTask(ctx context.Context, id int64) error {
	if err := p.base.DeleteTask(ctx, id); err != nil {
		return err
	}
	p.publish(ctx, newTaskEvent(EventTaskDeleted, id, nil))
	return nil
}

func (p *Publishing) Ping(ctx context.Context) error {
	return p.base.Ping(ctx)
}

func (p *Publishing) publish(ctx context.Context, ev TaskEvent) {
	if err := p.publisher.Publish(ctx, ev); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"event_type": ev.Type,
			"task_id":    ev.TaskID,
		}).Warn("publish task event failed")
	}
}
