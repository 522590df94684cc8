package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"tasklist/domain"
	"tasklist/storage"
)

type failingStore struct {
	*storage.Memory
	err error
}

func (f failingStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return nil, f.err
}

func (f failingStore) Ping(ctx context.Context) error {
	return f.err
}

type testServer struct {
	e     *echo.Echo
	token string
}

// newTestServer keeps users in store when it holds them, so seeded owners
// exist for task validation.
func newTestServer(t *testing.T, store Storage) *testServer {
	t.Helper()
	users, ok := store.(UserStorage)
	if !ok {
		users = storage.NewMemory()
	}
	logger, _ := test.NewNullLogger()
	e := echo.New()
	Register(e, store, users, newTestAuth(t, "", ""), prometheus.NewRegistry(), logger)
	return &testServer{e: e, token: signTestToken(t, testSecret, validClaims("1"))}
}

func (s *testServer) do(method, target, body string, authorized bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if authorized {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

const testPassword = "secret"

// seededStore holds two tasks owned by user 1 ("admin") and a second user
// "guest" with id 2. Both log in with testPassword.
func seededStore(t *testing.T) *storage.Memory {
	t.Helper()
	store := storage.NewMemory(
		domain.Task{ID: 2, Title: "Друга задача", Status: "виконана", OwnerID: 1},
		domain.Task{ID: 1, Title: "Перша задача", Status: "невиконана", OwnerID: 1},
	)
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	for _, name := range []string{"admin", "guest"} {
		if _, err := store.CreateUser(context.Background(), domain.User{Username: name, PasswordHash: hash}); err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
	}
	return store
}

func decodeTasks(t *testing.T, rec *httptest.ResponseRecorder) []domain.Task {
	t.Helper()
	var tasks []domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode tasks %q: %v", rec.Body.String(), err)
	}
	return tasks
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := sonic.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

func TestPublicTasksOrderedByID(t *testing.T) {
	s := newTestServer(t, seededStore(t))

	rec := s.do(http.MethodGet, "/api/tasks/public", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	tasks := decodeTasks(t, rec)
	if len(tasks) != 2 || tasks[0].ID != 1 || tasks[1].ID != 2 {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if tasks[0].Title != "Перша задача" || tasks[0].Status != "невиконана" {
		t.Fatalf("unexpected first task: %#v", tasks[0])
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestPublicTasksEmptyIsArray(t *testing.T) {
	s := newTestServer(t, storage.NewMemory())

	rec := s.do(http.MethodGet, "/api/tasks/public", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("expected empty array, got %s", got)
	}
}

func TestTasksRequireAuth(t *testing.T) {
	s := newTestServer(t, seededStore(t))

	routes := []struct{ method, target, body string }{
		{http.MethodGet, "/api/tasks", ""},
		{http.MethodPost, "/api/tasks", `{"title":"a","owner_id":1}`},
		{http.MethodGet, "/api/tasks/1", ""},
		{http.MethodPut, "/api/tasks/1", `{"title":"b"}`},
		{http.MethodDelete, "/api/tasks/1", ""},
	}
	for _, r := range routes {
		rec := s.do(r.method, r.target, r.body, false)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", r.method, r.target, rec.Code)
		}
		if msg := decodeError(t, rec); msg != errMissingAuthorization.Error() {
			t.Fatalf("%s %s: unexpected error %q", r.method, r.target, msg)
		}
	}
}

func TestListTasksAuthorized(t *testing.T) {
	s := newTestServer(t, seededStore(t))

	rec := s.do(http.MethodGet, "/api/tasks", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	if tasks := decodeTasks(t, rec); len(tasks) != 2 {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
}

func TestCreateTask(t *testing.T) {
	store := seededStore(t)
	s := newTestServer(t, store)

	rec := s.do(http.MethodPost, "/api/tasks", `{"title":"Третя задача","owner_id":2,"description":"d"}`, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var created domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	want := domain.Task{ID: 3, Title: "Третя задача", Description: "d", Status: domain.DefaultStatus, OwnerID: 2}
	if created != want {
		t.Fatalf("expected %#v, got %#v", want, created)
	}
	if stored, err := store.GetTask(context.Background(), 3); err != nil || stored != want {
		t.Fatalf("task not stored: %#v, %v", stored, err)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	s := newTestServer(t, seededStore(t))

	tests := map[string]struct {
		body string
		want string
	}{
		"not json":      {body: "nope", want: msgInvalidBody},
		"missing owner": {body: `{"title":"a"}`, want: "Missing required fields: owner_id"},
		"empty title":   {body: `{"title":"","owner_id":1}`, want: "Fields cannot be empty: title"},
		"bad owner":     {body: `{"title":"a","owner_id":"x"}`, want: "owner_id must be a valid integer"},
		"unknown owner": {body: `{"title":"a","owner_id":9}`, want: "User with id 9 does not exist"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/tasks", tc.body, true)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("unexpected status: %d", rec.Code)
			}
			if msg := decodeError(t, rec); msg != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, msg)
			}
		})
	}
}

func TestGetTask(t *testing.T) {
	s := newTestServer(t, seededStore(t))

	rec := s.do(http.MethodGet, "/api/tasks/2", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var task domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.ID != 2 || task.Title != "Друга задача" {
		t.Fatalf("unexpected task: %#v", task)
	}

	rec = s.do(http.MethodGet, "/api/tasks/99", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "Task with id 99 not found" {
		t.Fatalf("unexpected error: %q", msg)
	}

	rec = s.do(http.MethodGet, "/api/tasks/abc", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-numeric id, got %d", rec.Code)
	}
}

func TestUpdateTask(t *testing.T) {
	store := seededStore(t)
	s := newTestServer(t, store)

	rec := s.do(http.MethodPut, "/api/tasks/1", `{"status":"виконана"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	task, err := store.GetTask(context.Background(), 1)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != "виконана" || task.Title != "Перша задача" {
		t.Fatalf("unexpected task after update: %#v", task)
	}
}

func TestUpdateTaskMissingBeforeValidation(t *testing.T) {
	s := newTestServer(t, seededStore(t))

	rec := s.do(http.MethodPut, "/api/tasks/42", "nope", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "Task with id 42 not found" {
		t.Fatalf("unexpected error: %q", msg)
	}

	rec = s.do(http.MethodPut, "/api/tasks/1", "{}", true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty object, got %d", rec.Code)
	}
	rec = s.do(http.MethodPut, "/api/tasks/1", `{"owner_id":"x"}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad owner id, got %d", rec.Code)
	}
}

func TestUpdateTaskUnknownOwner(t *testing.T) {
	store := seededStore(t)
	s := newTestServer(t, store)

	rec := s.do(http.MethodPut, "/api/tasks/1", `{"owner_id":42}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "User with id 42 does not exist" {
		t.Fatalf("unexpected error: %q", msg)
	}
	if task, _ := store.GetTask(context.Background(), 1); task.OwnerID != 1 {
		t.Fatalf("owner changed despite validation error: %#v", task)
	}

	rec = s.do(http.MethodPut, "/api/tasks/1", `{"owner_id":2}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected reassignment to an existing user, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteTask(t *testing.T) {
	store := seededStore(t)
	s := newTestServer(t, store)

	rec := s.do(http.MethodDelete, "/api/tasks/1", "", true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if _, err := store.GetTask(context.Background(), 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected task to be deleted, got %v", err)
	}

	rec = s.do(http.MethodDelete, "/api/tasks/1", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestStorageFailureIs500(t *testing.T) {
	s := newTestServer(t, failingStore{Memory: storage.NewMemory(), err: errors.New("table unavailable")})

	rec := s.do(http.MethodGet, "/api/tasks/public", "", false)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "table unavailable" {
		t.Fatalf("unexpected error: %q", msg)
	}
}

func TestHealthFull(t *testing.T) {
	s := newTestServer(t, storage.NewMemory())
	rec := s.do(http.MethodGet, "/api/health/full", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"ok","db":"connected"}` {
		t.Fatalf("unexpected body: %s", got)
	}

	s = newTestServer(t, failingStore{Memory: storage.NewMemory(), err: errors.New("connection refused")})
	rec = s.do(http.MethodGet, "/api/health/full", "", false)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"error","db":"connection refused"}` {
		t.Fatalf("unexpected body: %s", got)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	s := newTestServer(t, seededStore(t))
	s.do(http.MethodGet, "/api/tasks/public", "", false)

	rec := s.do(http.MethodGet, "/metrics", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), MetricsSubsystem+"_requests_total") {
		t.Fatalf("expected request counter in metrics output:\n%s", rec.Body.String())
	}
}

func decodeUser(t *testing.T, data []byte) domain.User {
	t.Helper()
	var u domain.User
	if err := sonic.Unmarshal(data, &u); err != nil {
		t.Fatalf("decode user %q: %v", data, err)
	}
	return u
}

func TestRegisterUser(t *testing.T) {
	store := seededStore(t)
	s := newTestServer(t, store)

	rec := s.do(http.MethodPost, "/api/users/register", `{"username":"carol","password":"pw"}`, false)
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Message string         `json:"message"`
		User    map[string]any `json:"user"`
	}
	if err := sonic.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Message != "User registered successfully" || body.User["username"] != "carol" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if _, leaked := body.User["password"]; leaked {
		t.Fatalf("password leaked in response: %s", rec.Body.String())
	}
	stored, err := store.GetUserByUsername(context.Background(), "carol")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if string(stored.PasswordHash) == "pw" || !stored.CheckPassword("pw") {
		t.Fatalf("password not stored as a bcrypt hash")
	}
}

func TestRegisterUserValidation(t *testing.T) {
	s := newTestServer(t, seededStore(t))

	tests := map[string]struct {
		body string
		want string
	}{
		"not json":       {body: "[]", want: msgInvalidBody},
		"missing":        {body: `{"username":"x"}`, want: "Missing required fields: password"},
		"empty":          {body: `{"username":"","password":"pw"}`, want: "Fields cannot be empty: username"},
		"duplicate name": {body: `{"username":"admin","password":"pw"}`, want: "Username 'admin' already exists"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/users/register", tc.body, false)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("unexpected status: %d", rec.Code)
			}
			if msg := decodeError(t, rec); msg != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, msg)
			}
		})
	}
}

func TestLoginIssuesTokenForUserID(t *testing.T) {
	s := newTestServer(t, seededStore(t))

	rec := s.do(http.MethodPost, "/api/users/login", `{"username":"guest","password":"`+testPassword+`"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := sonic.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	token := body["access_token"]
	if token == "" || body["token_type"] != "bearer" {
		t.Fatalf("unexpected login body: %s", rec.Body.String())
	}
	sub, err := newTestAuth(t, "", "").SubjectFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if sub != "2" {
		t.Fatalf("expected subject to be the user id 2, got %q", sub)
	}

	s.token = token
	rec = s.do(http.MethodGet, "/api/users/me", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	if me := decodeUser(t, rec.Body.Bytes()); me.ID != 2 || me.Username != "guest" {
		t.Fatalf("me: unexpected user: %#v", me)
	}
}

func TestLoginRejects(t *testing.T) {
	s := newTestServer(t, seededStore(t))

	tests := map[string]struct {
		body   string
		status int
		want   string
	}{
		"wrong password":   {body: `{"username":"admin","password":"nope"}`, status: http.StatusUnauthorized, want: msgInvalidCredentials},
		"unknown user":     {body: `{"username":"nobody","password":"pw"}`, status: http.StatusUnauthorized, want: msgInvalidCredentials},
		"missing password": {body: `{"username":"admin"}`, status: http.StatusBadRequest, want: msgCredentialsRequired},
		"not json":         {body: "nope", status: http.StatusBadRequest, want: msgCredentialsRequired},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/users/login", tc.body, false)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if msg := decodeError(t, rec); msg != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, msg)
			}
		})
	}
}

func TestMeRejectsNonUserSubject(t *testing.T) {
	s := newTestServer(t, seededStore(t))

	s.token = signTestToken(t, testSecret, validClaims("service-account"))
	if rec := s.do(http.MethodGet, "/api/users/me", "", true); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non numeric subject, got %d", rec.Code)
	}

	s.token = signTestToken(t, testSecret, validClaims("77"))
	rec := s.do(http.MethodGet, "/api/users/me", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted user, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "User with id 77 not found" {
		t.Fatalf("unexpected error: %q", msg)
	}
}

func TestUsersCRUD(t *testing.T) {
	store := seededStore(t)
	s := newTestServer(t, store)

	if rec := s.do(http.MethodGet, "/api/users", "", false); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected listing users to require auth, got %d", rec.Code)
	}

	rec := s.do(http.MethodGet, "/api/users", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: unexpected status: %d", rec.Code)
	}
	var list []domain.User
	if err := sonic.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(list) != 2 || list[0].Username != "admin" || list[1].Username != "guest" {
		t.Fatalf("unexpected users: %#v", list)
	}

	rec = s.do(http.MethodGet, "/api/users/2", "", true)
	if rec.Code != http.StatusOK || decodeUser(t, rec.Body.Bytes()).Username != "guest" {
		t.Fatalf("get: unexpected response: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodPut, "/api/users/2", `{"username":"admin","password":"x"}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected rename onto a taken username to fail, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "Username 'admin' already exists" {
		t.Fatalf("unexpected error: %q", msg)
	}

	rec = s.do(http.MethodPut, "/api/users/2", `{"username":"visitor","password":"new-pw"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	updated, err := store.GetUser(context.Background(), 2)
	if err != nil {
		t.Fatalf("get updated user: %v", err)
	}
	if updated.Username != "visitor" || !updated.CheckPassword("new-pw") {
		t.Fatalf("update not applied: %#v", updated)
	}

	rec = s.do(http.MethodPut, "/api/users/50", "nope", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before body validation, got %d", rec.Code)
	}

	rec = s.do(http.MethodDelete, "/api/users/2", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: unexpected status: %d", rec.Code)
	}
	var msg map[string]string
	if err := sonic.Unmarshal(rec.Body.Bytes(), &msg); err != nil || msg["message"] != "User with id 2 deleted" {
		t.Fatalf("unexpected delete body: %s", rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/api/users/2", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "User with id 2 not found" {
		t.Fatalf("unexpected error: %q", msg)
	}
}
