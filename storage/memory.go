package storage

import (
	"context"
	"sync"

	"tasklist/domain"
)

// Memory keeps tasks in process memory. It is the default store when no
// table storage is configured.
type Memory struct {
	mu         sync.RWMutex
	tasks      map[int64]domain.Task
	nextID     int64
	users      map[int64]domain.User
	nextUserID int64
}

// NewMemory creates a store holding the given tasks. Seed tasks keep their ids;
// new tasks are numbered after the highest seeded id.
func NewMemory(seed ...domain.Task) *Memory {
	m := &Memory{
		tasks:      make(map[int64]domain.Task, len(seed)),
		nextID:     1,
		users:      make(map[int64]domain.User),
		nextUserID: 1,
	}
	for _, t := range seed {
		m.tasks[t.ID] = t
		if t.ID >= m.nextID {
			m.nextID = t.ID + 1
		}
	}
	return m
}

func (m *Memory) ListTasks(ctx context.Context) ([]domain.Task, error) {
	m.mu.RLock()
	tasks := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.RUnlock()
	domain.SortByID(tasks)
	return tasks, nil
}

func (m *Memory) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return t, nil
}

// CreateTask assigns the next id and stores the task.
func (m *Memory) CreateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.ID = m.nextID
	m.nextID++
	m.tasks[task.ID] = task
	return task, nil
}

func (m *Memory) UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	t = patch.Apply(t)
	m.tasks[id] = t
	return t, nil
}

func (m *Memory) DeleteTask(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) ListUsers(ctx context.Context) ([]domain.User, error) {
	m.mu.RLock()
	users := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	m.mu.RUnlock()
	domain.SortUsersByID(users)
	return users, nil
}

func (m *Memory) GetUser(ctx context.Context, id int64) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.findUsername(username); ok {
		return u, nil
	}
	return domain.User{}, ErrUserNotFound
}

// CreateUser assigns the next user id. Usernames are unique.
func (m *Memory) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.findUsername(user.Username); taken {
		return domain.User{}, ErrUsernameTaken
	}
	user.ID = m.nextUserID
	m.nextUserID++
	m.users[user.ID] = user
	return user, nil
}

func (m *Memory) UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	if patch.Username != nil {
		if other, taken := m.findUsername(*patch.Username); taken && other.ID != id {
			return domain.User{}, ErrUsernameTaken
		}
	}
	u = patch.Apply(u)
	m.users[id] = u
	return u, nil
}

func (m *Memory) DeleteUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

// findUsername expects m.mu to be held.
func (m *Memory) findUsername(username string) (domain.User, bool) {
	for _, u := range m.users {
		if u.Username == username {
			return u, true
		}
	}
	return domain.User{}, false
}
