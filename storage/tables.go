package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"tasklist/domain"
)

const (
	tasksPartition     = "tasks"
	usersPartition     = "users"
	usernamesPartition = "usernames"
	countersPartition  = "counters"
	maxWriteTries      = 5
)

// Tables stores tasks and users in one Azure Table, a partition each. Row
// keys are the zero padded id so the table's natural order is id order.
// Ids come from counter entities in the counters partition.
type Tables struct {
	table *aztables.Client
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, tasksTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(tasksTable)}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	OwnerID     int64  `json:"OwnerID"`
}

func rowKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func encodeTaskEntity(t domain.Task) ([]byte, error) {
	return json.Marshal(taskEntity{
		Entity:      aztables.Entity{PartitionKey: tasksPartition, RowKey: rowKey(t.ID)},
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		OwnerID:     t.OwnerID,
	})
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	id, err := strconv.ParseInt(ent.RowKey, 10, 64)
	if err != nil {
		return domain.Task{}, fmt.Errorf("invalid task row key %q: %w", ent.RowKey, err)
	}
	return domain.Task{
		ID:          id,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      ent.Status,
		OwnerID:     ent.OwnerID,
	}, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// ListTasks retrieves every task ordered by id.
func (s *Tables) ListTasks(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + tasksPartition + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	domain.SortByID(tasks)
	return tasks, nil
}

func (s *Tables) getEntity(ctx context.Context, id int64) (domain.Task, azcore.ETag, error) {
	resp, err := s.table.GetEntity(ctx, tasksPartition, rowKey(id), nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return domain.Task{}, "", ErrNotFound
		}
		return domain.Task{}, "", err
	}
	t, err := decodeTaskEntity(resp.Value)
	return t, resp.ETag, err
}

func (s *Tables) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	t, _, err := s.getEntity(ctx, id)
	return t, err
}

// maxID scans partition for the highest numeric row key. It only seeds a
// counter that does not exist yet.
func (s *Tables) maxID(ctx context.Context, partition string) (int64, error) {
	filter := "PartitionKey eq '" + partition + "'"
	sel := "RowKey"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel})
	var highest int64
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		for _, e := range resp.Entities {
			var ent aztables.Entity
			if err := json.Unmarshal(e, &ent); err != nil {
				return 0, err
			}
			id, err := strconv.ParseInt(ent.RowKey, 10, 64)
			if err != nil {
				continue
			}
			if id > highest {
				highest = id
			}
		}
	}
	return highest, nil
}

type counterEntity struct {
	aztables.Entity
	LastID int64 `json:"LastID"`
}

func encodeCounter(partition string, last int64) ([]byte, error) {
	return json.Marshal(counterEntity{
		Entity: aztables.Entity{PartitionKey: countersPartition, RowKey: partition},
		LastID: last,
	})
}

func decodeCounter(data []byte) (int64, error) {
	var ent counterEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return 0, err
	}
	return ent.LastID, nil
}

// nextID hands out the next id for partition from its counter entity. Ids
// are never reused, even after the highest row is deleted.
func (s *Tables) nextID(ctx context.Context, partition string) (int64, error) {
	for try := 0; try < maxWriteTries; try++ {
		resp, err := s.table.GetEntity(ctx, countersPartition, partition, nil)
		if statusCode(err) == http.StatusNotFound {
			highest, err := s.maxID(ctx, partition)
			if err != nil {
				return 0, err
			}
			payload, err := encodeCounter(partition, highest+1)
			if err != nil {
				return 0, err
			}
			if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
				if statusCode(err) == http.StatusConflict {
					continue
				}
				return 0, err
			}
			return highest + 1, nil
		}
		if err != nil {
			return 0, err
		}

		last, err := decodeCounter(resp.Value)
		if err != nil {
			return 0, err
		}
		payload, err := encodeCounter(partition, last+1)
		if err != nil {
			return 0, err
		}
		etag := resp.ETag
		_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if statusCode(err) == http.StatusPreconditionFailed {
			continue
		}
		if err != nil {
			return 0, err
		}
		return last + 1, nil
	}
	return 0, fmt.Errorf("allocate %s id: counter conflicted %d times", partition, maxWriteTries)
}

// CreateTask inserts the task under the next id from the tasks counter.
func (s *Tables) CreateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	for try := 0; try < maxWriteTries; try++ {
		id, err := s.nextID(ctx, tasksPartition)
		if err != nil {
			return domain.Task{}, err
		}
		task.ID = id
		payload, err := encodeTaskEntity(task)
		if err != nil {
			return domain.Task{}, err
		}
		if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
			if statusCode(err) == http.StatusConflict {
				continue
			}
			return domain.Task{}, err
		}
		return task, nil
	}
	return domain.Task{}, fmt.Errorf("create task: id allocation conflicted %d times", maxWriteTries)
}

// UpdateTask applies the patch with optimistic concurrency on the entity ETag.
func (s *Tables) UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	for try := 0; try < maxWriteTries; try++ {
		current, etag, err := s.getEntity(ctx, id)
		if err != nil {
			return domain.Task{}, err
		}
		updated := patch.Apply(current)
		updated.ID = id
		payload, err := encodeTaskEntity(updated)
		if err != nil {
			return domain.Task{}, err
		}
		_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		switch statusCode(err) {
		case 0:
			if err != nil {
				return domain.Task{}, err
			}
			return updated, nil
		case http.StatusPreconditionFailed:
			continue
		case http.StatusNotFound:
			return domain.Task{}, ErrNotFound
		default:
			return domain.Task{}, err
		}
	}
	return domain.Task{}, fmt.Errorf("update task %d: concurrent modification", id)
}

func (s *Tables) DeleteTask(ctx context.Context, id int64) error {
	if _, err := s.table.DeleteEntity(ctx, tasksPartition, rowKey(id), nil); err != nil {
		if statusCode(err) == http.StatusNotFound {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Ping reads at most one entity to check the table is reachable.
func (s *Tables) Ping(ctx context.Context) error {
	top := int32(1)
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top})
	_, err := pager.NextPage(ctx)
	return err
}
