package api

import (
	"context"

	"tasklist/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id int64) (domain.Task, error)
	CreateTask(ctx context.Context, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// UserStorage keeps the accounts that log in and own tasks.
type UserStorage interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (domain.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// Authenticator is implemented by types able to extract the caller's subject
// from an Authorization header and to issue tokens for a subject.
type Authenticator interface {
	SubjectFromAuthHeader(string) (string, error)
	Issue(subject string) (string, error)
}
