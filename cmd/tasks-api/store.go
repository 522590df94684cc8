package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasklist/api"
	"tasklist/config"
	"tasklist/domain"
	"tasklist/storage"
)

// primaryStore keeps both tasks and users.
type primaryStore interface {
	api.Storage
	api.UserStorage
}

// buildStore selects the primary store and layers the optional event
// publisher and Redis cache on top of its tasks. Users are read from the
// primary store directly.
func buildStore(cfg config.Config, logger *log.Logger) (api.Storage, api.UserStorage, error) {
	var primary primaryStore
	if cfg.Storage.ConnectionString != "" {
		tables, err := storage.NewTables(cfg.Storage.ConnectionString, cfg.Storage.TasksTable)
		if err != nil {
			return nil, nil, fmt.Errorf("tables: %w", err)
		}
		primary = tables
		logger.WithField("table", cfg.Storage.TasksTable).Info("using table storage")
	} else {
		var seed []domain.Task
		if cfg.API.SeedFile != "" {
			tasks, err := storage.LoadSeed(cfg.API.SeedFile)
			if err != nil {
				return nil, nil, err
			}
			seed = tasks
		}
		primary = storage.NewMemory(seed...)
		logger.WithField("tasks", len(seed)).Info("using in-memory storage")
	}

	var store api.Storage = primary

	if cfg.Storage.ConnectionString != "" && cfg.Storage.EventsQueue != "" {
		pub, err := storage.NewQueuePublisher(cfg.Storage.ConnectionString, cfg.Storage.EventsQueue)
		if err != nil {
			return nil, nil, fmt.Errorf("events queue: %w", err)
		}
		store = storage.NewPublishing(store, pub, logger)
		logger.WithField("queue", cfg.Storage.EventsQueue).Info("publishing task events")
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis url: %w", err)
		}
		store = storage.NewCache(store, redis.NewClient(opts), cfg.Redis.CacheTTL)
		logger.WithField("ttl", cfg.Redis.CacheTTL).Info("caching task list in redis")
	}
	return store, primary, nil
}

// waitForStorage pings store until it answers, giving up after retries attempts.
func waitForStorage(ctx context.Context, store api.Storage, retries int, delay time.Duration, logger *log.Logger) error {
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = store.Ping(ctx); err == nil {
			logger.Info("storage connected")
			return nil
		}
		logger.WithError(err).Warnf("storage connection failed (attempt %d/%d)", attempt, retries)
		if attempt == retries {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("storage unavailable after %d attempts: %w", retries, err)
}
