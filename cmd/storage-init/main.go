package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"tasklist/config"
)

const queueAlreadyExists = "QueueAlreadyExists"

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	if cfg.Storage.ConnectionString == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := createTable(ctx, cfg.Storage.ConnectionString, cfg.Storage.TasksTable); err != nil {
		log.Fatalf("create table %s: %v", cfg.Storage.TasksTable, err)
	}
	if cfg.Storage.EventsQueue != "" {
		if err := createQueue(ctx, cfg.Storage.ConnectionString, cfg.Storage.EventsQueue); err != nil {
			log.Fatalf("create queue %s: %v", cfg.Storage.EventsQueue, err)
		}
	}

	log.Info("storage init complete")
}

func createTable(ctx context.Context, connStr, name string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	_, err = svc.NewClient(name).CreateTable(ctx, nil)
	if alreadyExists(err, string(aztables.TableAlreadyExists)) {
		log.WithField("table", name).Debug("table already exists")
		return nil
	}
	return err
}

func createQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	_, err = q.Create(ctx, nil)
	if alreadyExists(err, queueAlreadyExists) {
		log.WithField("queue", name).Debug("queue already exists")
		return nil
	}
	return err
}

// alreadyExists reports whether err is an Azure response error with the given code.
func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return err != nil && errors.As(err, &respErr) && respErr.ErrorCode == code
}
