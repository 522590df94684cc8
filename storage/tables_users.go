package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"tasklist/domain"
)

type userEntity struct {
	aztables.Entity
	Username     string `json:"Username"`
	PasswordHash string `json:"PasswordHash"`
}

// usernameEntity reserves a username for one user id. Its row key is the
// encoded username, so inserting a second one for the same name conflicts.
type usernameEntity struct {
	aztables.Entity
	UserID int64 `json:"UserID"`
}

func usernameKey(username string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(username))
}

func encodeUserEntity(u domain.User) ([]byte, error) {
	return json.Marshal(userEntity{
		Entity:       aztables.Entity{PartitionKey: usersPartition, RowKey: rowKey(u.ID)},
		Username:     u.Username,
		PasswordHash: string(u.PasswordHash),
	})
}

func decodeUserEntity(data []byte) (domain.User, error) {
	var ent userEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.User{}, err
	}
	id, err := strconv.ParseInt(ent.RowKey, 10, 64)
	if err != nil {
		return domain.User{}, fmt.Errorf("invalid user row key %q: %w", ent.RowKey, err)
	}
	return domain.User{ID: id, Username: ent.Username, PasswordHash: []byte(ent.PasswordHash)}, nil
}

// ListUsers retrieves every user ordered by id.
func (s *Tables) ListUsers(ctx context.Context) ([]domain.User, error) {
	filter := "PartitionKey eq '" + usersPartition + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	users := []domain.User{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			u, err := decodeUserEntity(e)
			if err != nil {
				return nil, err
			}
			users = append(users, u)
		}
	}
	domain.SortUsersByID(users)
	return users, nil
}

func (s *Tables) getUserEntity(ctx context.Context, id int64) (domain.User, azcore.ETag, error) {
	resp, err := s.table.GetEntity(ctx, usersPartition, rowKey(id), nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return domain.User{}, "", ErrUserNotFound
		}
		return domain.User{}, "", err
	}
	u, err := decodeUserEntity(resp.Value)
	return u, resp.ETag, err
}

func (s *Tables) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u, _, err := s.getUserEntity(ctx, id)
	return u, err
}

func (s *Tables) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	resp, err := s.table.GetEntity(ctx, usernamesPartition, usernameKey(username), nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	var ent usernameEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.User{}, err
	}
	return s.GetUser(ctx, ent.UserID)
}

// claimUsername reserves username for id. A reservation already held by id
// counts as claimed.
func (s *Tables) claimUsername(ctx context.Context, username string, id int64) error {
	payload, err := json.Marshal(usernameEntity{
		Entity: aztables.Entity{PartitionKey: usernamesPartition, RowKey: usernameKey(username)},
		UserID: id,
	})
	if err != nil {
		return err
	}
	_, err = s.table.AddEntity(ctx, payload, nil)
	if statusCode(err) != http.StatusConflict {
		return err
	}
	resp, getErr := s.table.GetEntity(ctx, usernamesPartition, usernameKey(username), nil)
	if getErr != nil {
		return getErr
	}
	var ent usernameEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return err
	}
	if ent.UserID != id {
		return ErrUsernameTaken
	}
	return nil
}

// releaseUsername drops the reservation of username if id still holds it.
func (s *Tables) releaseUsername(ctx context.Context, username string, id int64) error {
	resp, err := s.table.GetEntity(ctx, usernamesPartition, usernameKey(username), nil)
	if statusCode(err) == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	var ent usernameEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return err
	}
	if ent.UserID != id {
		return nil
	}
	etag := resp.ETag
	_, err = s.table.DeleteEntity(ctx, usernamesPartition, usernameKey(username), &aztables.DeleteEntityOptions{IfMatch: &etag})
	if code := statusCode(err); code == http.StatusNotFound || code == http.StatusPreconditionFailed {
		return nil
	}
	return err
}

// CreateUser reserves the username, then inserts the user under the next id
// from the users counter.
func (s *Tables) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	id, err := s.nextID(ctx, usersPartition)
	if err != nil {
		return domain.User{}, err
	}
	user.ID = id
	if err := s.claimUsername(ctx, user.Username, id); err != nil {
		return domain.User{}, err
	}
	payload, err := encodeUserEntity(user)
	if err != nil {
		return domain.User{}, err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		_ = s.releaseUsername(ctx, user.Username, id)
		return domain.User{}, err
	}
	return user, nil
}

// UpdateUser applies the patch with optimistic concurrency on the user ETag.
// A new username is reserved before the write and the old one released after.
func (s *Tables) UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (domain.User, error) {
	for try := 0; try < maxWriteTries; try++ {
		current, etag, err := s.getUserEntity(ctx, id)
		if err != nil {
			return domain.User{}, err
		}
		updated := patch.Apply(current)
		updated.ID = id
		renamed := updated.Username != current.Username
		if renamed {
			if err := s.claimUsername(ctx, updated.Username, id); err != nil {
				return domain.User{}, err
			}
		}
		payload, err := encodeUserEntity(updated)
		if err != nil {
			return domain.User{}, err
		}
		_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if err != nil && renamed {
			_ = s.releaseUsername(ctx, updated.Username, id)
		}
		switch statusCode(err) {
		case 0:
			if err != nil {
				return domain.User{}, err
			}
			if renamed {
				if err := s.releaseUsername(ctx, current.Username, id); err != nil {
					return domain.User{}, err
				}
			}
			return updated, nil
		case http.StatusPreconditionFailed:
			continue
		case http.StatusNotFound:
			return domain.User{}, ErrUserNotFound
		default:
			return domain.User{}, err
		}
	}
	return domain.User{}, fmt.Errorf("update user %d: concurrent modification", id)
}

func (s *Tables) DeleteUser(ctx context.Context, id int64) error {
	current, _, err := s.getUserEntity(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.table.DeleteEntity(ctx, usersPartition, rowKey(id), nil); err != nil {
		if statusCode(err) == http.StatusNotFound {
			return ErrUserNotFound
		}
		return err
	}
	return s.releaseUsername(ctx, current.Username, id)
}
