package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"tasklist/domain"
	"tasklist/storage"
)

const (
	msgCredentialsRequired = "Username and password are required"
	msgInvalidCredentials  = "Invalid credentials"
)

func registerUsers(e *echo.Echo, users UserStorage, auth Authenticator, logger *log.Logger) {
	e.POST("/api/users/register", observed("/api/users/register", logger, registerUser(users)))
	e.POST("/api/users/login", observed("/api/users/login", logger, login(users, auth)))
	e.GET("/api/users/me", observed("/api/users/me", logger, authenticated(auth, currentUser(users))))
	e.GET("/api/users", observed("/api/users", logger, authenticated(auth, listUsers(users))))
	e.GET("/api/users/:id", observed("/api/users/:id", logger, authenticated(auth, getUser(users))))
	e.PUT("/api/users/:id", observed("/api/users/:id", logger, authenticated(auth, updateUser(users))))
	e.DELETE("/api/users/:id", observed("/api/users/:id", logger, authenticated(auth, deleteUser(users))))
}

type registerResponse struct {
	Message string      `json:"message"`
	User    domain.User `json:"user"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func userID(c echo.Context, m *taskRequestMetrics) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		m.Fail("invalid_id", nil)
		return 0, echo.ErrNotFound
	}
	return id, nil
}

func userNotFound(c echo.Context, m *taskRequestMetrics, id int64) error {
	m.Fail("not_found", nil)
	return c.JSON(http.StatusNotFound, errorBody(fmt.Sprintf("User with id %d not found", id)))
}

func usernameTaken(c echo.Context, m *taskRequestMetrics, username string) error {
	return badRequest(c, m, fmt.Errorf("Username '%s' already exists", username))
}

// hashPassword answers 400 for passwords bcrypt cannot hash. It reports a nil
// hash once a response has been written.
func hashPassword(c echo.Context, m *taskRequestMetrics, password string) ([]byte, error) {
	hash, err := domain.HashPassword(password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, badRequest(c, m, errors.New("password must be at most 72 bytes"))
	}
	if err != nil {
		m.Fail("hash", err)
		return nil, c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	return hash, nil
}

func registerUser(users UserStorage) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		body, err := readObjectBody(c.Request().Body)
		if err != nil {
			return badRequest(c, m, err)
		}
		creds, err := userCredentialsFromBody(body)
		if err != nil {
			return badRequest(c, m, err)
		}
		hash, err := hashPassword(c, m, creds.Password)
		if hash == nil {
			return err
		}

		start := time.Now()
		created, err := users.CreateUser(c.Request().Context(), domain.User{Username: creds.Username, PasswordHash: hash})
		m.ObserveStore(time.Since(start))
		if errors.Is(err, storage.ErrUsernameTaken) {
			return usernameTaken(c, m, creds.Username)
		}
		if err != nil {
			return storageFailure(c, m, err)
		}
		return writeJSON(c, m, http.StatusCreated, registerResponse{Message: "User registered successfully", User: created})
	}
}

func login(users UserStorage, auth Authenticator) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		body, err := readObjectBody(c.Request().Body)
		if err != nil {
			return badRequest(c, m, errors.New(msgCredentialsRequired))
		}
		creds, err := userCredentialsFromBody(body)
		if err != nil {
			return badRequest(c, m, errors.New(msgCredentialsRequired))
		}

		start := time.Now()
		user, err := users.GetUserByUsername(c.Request().Context(), creds.Username)
		m.ObserveStore(time.Since(start))
		if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
			return storageFailure(c, m, err)
		}
		authStart := time.Now()
		ok := err == nil && user.CheckPassword(creds.Password)
		m.ObserveAuth(time.Since(authStart))
		if !ok {
			m.Fail("auth", nil)
			return c.JSON(http.StatusUnauthorized, errorBody(msgInvalidCredentials))
		}

		token, err := auth.Issue(strconv.FormatInt(user.ID, 10))
		if errors.Is(err, ErrIssueUnsupported) {
			m.Fail("issue_token", err)
			return c.JSON(http.StatusNotImplemented, errorBody(err.Error()))
		}
		if err != nil {
			m.Fail("issue_token", err)
			return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		}
		return writeJSON(c, m, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
	}
}

// currentUser resolves the token subject, which login sets to the user id.
func currentUser(users UserStorage) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		sub, _ := c.Get(subjectKey).(string)
		id, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			m.Fail("auth", nil)
			return c.JSON(http.StatusUnauthorized, errorBody("token subject is not a user id"))
		}
		start := time.Now()
		user, err := users.GetUser(c.Request().Context(), id)
		m.ObserveStore(time.Since(start))
		if errors.Is(err, storage.ErrUserNotFound) {
			return userNotFound(c, m, id)
		}
		if err != nil {
			return storageFailure(c, m, err)
		}
		return writeJSON(c, m, http.StatusOK, user)
	}
}

func listUsers(users UserStorage) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		start := time.Now()
		list, err := users.ListUsers(c.Request().Context())
		m.ObserveStore(time.Since(start))
		if err != nil {
			return storageFailure(c, m, err)
		}
		if list == nil {
			list = []domain.User{}
		}
		return writeJSON(c, m, http.StatusOK, list)
	}
}

func getUser(users UserStorage) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		id, err := userID(c, m)
		if err != nil {
			return err
		}
		start := time.Now()
		user, err := users.GetUser(c.Request().Context(), id)
		m.ObserveStore(time.Since(start))
		if errors.Is(err, storage.ErrUserNotFound) {
			return userNotFound(c, m, id)
		}
		if err != nil {
			return storageFailure(c, m, err)
		}
		return writeJSON(c, m, http.StatusOK, user)
	}
}

// updateUser replaces both username and password.
func updateUser(users UserStorage) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		id, err := userID(c, m)
		if err != nil {
			return err
		}
		body, bodyErr := readObjectBody(c.Request().Body)

		ctx := c.Request().Context()
		start := time.Now()
		_, err = users.GetUser(ctx, id)
		m.ObserveStore(time.Since(start))
		if errors.Is(err, storage.ErrUserNotFound) {
			return userNotFound(c, m, id)
		}
		if err != nil {
			return storageFailure(c, m, err)
		}

		if bodyErr != nil {
			return badRequest(c, m, bodyErr)
		}
		creds, err := userCredentialsFromBody(body)
		if err != nil {
			return badRequest(c, m, err)
		}
		hash, err := hashPassword(c, m, creds.Password)
		if hash == nil {
			return err
		}

		start = time.Now()
		updated, err := users.UpdateUser(ctx, id, domain.UserPatch{Username: &creds.Username, PasswordHash: hash})
		m.ObserveStore(time.Since(start))
		switch {
		case errors.Is(err, storage.ErrUsernameTaken):
			return usernameTaken(c, m, creds.Username)
		case errors.Is(err, storage.ErrUserNotFound):
			return userNotFound(c, m, id)
		case err != nil:
			return storageFailure(c, m, err)
		}
		return writeJSON(c, m, http.StatusOK, updated)
	}
}

func deleteUser(users UserStorage) taskHandler {
	return func(c echo.Context, m *taskRequestMetrics) error {
		id, err := userID(c, m)
		if err != nil {
			return err
		}
		start := time.Now()
		err = users.DeleteUser(c.Request().Context(), id)
		m.ObserveStore(time.Since(start))
		if errors.Is(err, storage.ErrUserNotFound) {
			return userNotFound(c, m, id)
		}
		if err != nil {
			return storageFailure(c, m, err)
		}
		return writeJSON(c, m, http.StatusOK, messageResponse{Message: fmt.Sprintf("User with id %d deleted", id)})
	}
}
