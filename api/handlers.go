package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"tasklist/domain"
	"tasklist/storage"
)

// MetricsSubsystem prefixes the HTTP metrics exported by the API.
const MetricsSubsystem = "tasks_api"

// Register wires up all API routes on the provided Echo instance. Task owners
// must exist in users. Request metrics are recorded into reg and exposed on
// /metrics.
func Register(e *echo.Echo, store Storage, users UserStorage, auth Authenticator, reg *prometheus.Registry, logger *log.Logger) {
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  MetricsSubsystem,
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))

	e.GET("/api/tasks/public", observed("/api/tasks/public", logger, listTasks(store)))
	e.GET("/api/tasks", observed("/api/tasks", logger, authenticated(auth, listTasks(store))))
	e.POST("/api/tasks", observed("/api/tasks", logger, authenticated(auth, createTask(store, users))))
	e.GET("/api/tasks/:id", observed("/api/tasks/:id", logger, authenticated(auth, getTask(store))))
	e.PUT("/api/tasks/:id", observed("/api/tasks/:id", logger, authenticated(auth, updateTask(store, users))))
	e.DELETE("/api/tasks/:id", observed("/api/tasks/:id", logger, authenticated(auth, deleteTask(store))))
	e.GET("/api/health/full", healthFull(store))

	registerUsers(e, users, auth, logger)
}

type taskHandler func(c echo.Context, m *taskRequestMetrics) error

// subjectKey holds the verified token subject in the echo context.
const subjectKey = "subject"

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func observed(route string, logger *log.Logger, h taskHandler) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, spanCtx := newTaskRequestMetrics(c.Request().Context(), logger, route)
		c.SetRequest(c.Request().WithContext(spanCtx))
		defer func() {
			status := c.Response().Status
			var he *echo.HTTPError
			if !c.Response().Committed && errors.As(err, &he) {
				status = he.Code
			}
			metrics.Log(status, err)
		}()
		return h(c, metrics)
	}
}

func authenticated(auth Authenticator, next taskHandler) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		authStart := time.Now()
		sub, err := auth.SubjectFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		m.ObserveAuth(time.Since(authStart))
		if err != nil {
			m.Fail("auth", err)
			return c.JSON(http.StatusUnauthorized, errorBody(err.Error()))
		}
		c.Set(subjectKey, sub)
		return next(c, m)
	}
}

// taskID parses the :id path parameter. Non-numeric ids do not match any task route.
func taskID(c echo.Context, m *taskRequestMetrics) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		m.Fail("invalid_id", nil)
		return 0, echo.ErrNotFound
	}
	m.SetTaskID(id)
	return id, nil
}

func notFound(c echo.Context, m *taskRequestMetrics, id int64) error {
	m.Fail("not_found", nil)
	return c.JSON(http.StatusNotFound, errorBody(fmt.Sprintf("Task with id %d not found", id)))
}

func storageFailure(c echo.Context, m *taskRequestMetrics, err error) error {
	m.Fail("storage", err)
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
}

func badRequest(c echo.Context, m *taskRequestMetrics, err error) error {
	m.Fail("validation", nil)
	return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
}

// checkOwner answers 400 when patch names an owner that is not a user. It
// reports false once a response has been written.
func checkOwner(c echo.Context, m *taskRequestMetrics, users UserStorage, patch domain.TaskPatch) (bool, error) {
	if patch.OwnerID == nil {
		return true, nil
	}
	start := time.Now()
	_, err := users.GetUser(c.Request().Context(), *patch.OwnerID)
	m.ObserveStore(time.Since(start))
	if errors.Is(err, storage.ErrUserNotFound) {
		return false, badRequest(c, m, fmt.Errorf("User with id %d does not exist", *patch.OwnerID))
	}
	if err != nil {
		return false, storageFailure(c, m, err)
	}
	return true, nil
}

func writeJSON(c echo.Context, m *taskRequestMetrics, status int, v any) error {
	encodeStart := time.Now()
	err := c.JSON(status, v)
	m.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		m.Fail("encode_response", err)
	}
	return err
}

func listTasks(store Storage) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		start := time.Now()
		tasks, err := store.ListTasks(c.Request().Context())
		m.ObserveStore(time.Since(start))
		if err != nil {
			return storageFailure(c, m, err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		m.SetTasksReturned(len(tasks))
		return writeJSON(c, m, http.StatusOK, tasks)
	}
}

func createTask(store Storage, users UserStorage) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		body, err := readObjectBody(c.Request().Body)
		if err != nil {
			return badRequest(c, m, err)
		}
		patch, err := taskPatchFromBody(body, true)
		if err != nil {
			return badRequest(c, m, err)
		}
		if ok, err := checkOwner(c, m, users, patch); !ok {
			return err
		}

		task := patch.Apply(domain.Task{Status: domain.DefaultStatus})
		start := time.Now()
		created, err := store.CreateTask(c.Request().Context(), task)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return storageFailure(c, m, err)
		}
		m.SetTaskID(created.ID)
		return writeJSON(c, m, http.StatusCreated, created)
	}
}

func getTask(store Storage) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		id, err := taskID(c, m)
		if err != nil {
			return err
		}
		start := time.Now()
		task, err := store.GetTask(c.Request().Context(), id)
		m.ObserveStore(time.Since(start))
		if errors.Is(err, storage.ErrNotFound) {
			return notFound(c, m, id)
		}
		if err != nil {
			return storageFailure(c, m, err)
		}
		return writeJSON(c, m, http.StatusOK, task)
	}
}

func updateTask(store Storage, users UserStorage) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		id, err := taskID(c, m)
		if err != nil {
			return err
		}
		body, bodyErr := readObjectBody(c.Request().Body)

		ctx := c.Request().Context()
		start := time.Now()
		_, err = store.GetTask(ctx, id)
		m.ObserveStore(time.Since(start))
		if errors.Is(err, storage.ErrNotFound) {
			return notFound(c, m, id)
		}
		if err != nil {
			return storageFailure(c, m, err)
		}

		if bodyErr != nil {
			return badRequest(c, m, bodyErr)
		}
		patch, err := taskPatchFromBody(body, false)
		if err != nil {
			return badRequest(c, m, err)
		}
		if ok, err := checkOwner(c, m, users, patch); !ok {
			return err
		}

		start = time.Now()
		updated, err := store.UpdateTask(ctx, id, patch)
		m.ObserveStore(time.Since(start))
		if errors.Is(err, storage.ErrNotFound) {
			return notFound(c, m, id)
		}
		if err != nil {
			return storageFailure(c, m, err)
		}
		return writeJSON(c, m, http.StatusOK, updated)
	}
}

func deleteTask(store Storage) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		id, err := taskID(c, m)
		if err != nil {
			return err
		}
		start := time.Now()
		err = store.DeleteTask(c.Request().Context(), id)
		m.ObserveStore(time.Since(start))
		if errors.Is(err, storage.ErrNotFound) {
			return notFound(c, m, id)
		}
		if err != nil {
			return storageFailure(c, m, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db"`
}

func healthFull(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := store.Ping(c.Request().Context()); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, healthResponse{Status: "error", DB: err.Error()})
		}
		return c.JSON(http.StatusOK, healthResponse{Status: "ok", DB: "connected"})
	}
}
