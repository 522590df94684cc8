package taskview

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
)

const sampleJSON = `[{"id":1,"title":"Перша задача","status":"невиконана"},{"id":2,"title":"Друга задача","status":"виконана"}]`

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PublicTasksPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleJSON))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFrontend(t *testing.T, backendURL string) *echo.Echo {
	t.Helper()
	u, err := url.Parse(backendURL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}
	logger, _ := test.NewNullLogger()
	e := echo.New()
	Register(e, NewClient(backendURL, time.Second), u, logger)
	return e
}

func TestPageRendersTasks(t *testing.T) {
	e := newFrontend(t, newBackend(t).URL)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, echo.MIMETextHTML) {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{Heading, "Перша задача - невиконана", "Друга задача - виконана"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in page %q", want, body)
		}
	}
}

func TestBrowserNavigationUnderAPIRendersPage(t *testing.T) {
	e := newFrontend(t, newBackend(t).URL)

	req := httptest.NewRequest(http.MethodGet, PublicTasksPath, nil)
	req.Header.Set(echo.HeaderAccept, "text/html,application/xhtml+xml;q=0.9")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<h1>"+Heading+"</h1>") {
		t.Fatalf("expected rendered page, got %q", rec.Body.String())
	}
}

func TestAPIRequestsAreProxied(t *testing.T) {
	e := newFrontend(t, newBackend(t).URL)

	req := httptest.NewRequest(http.MethodGet, PublicTasksPath, nil)
	req.Header.Set(echo.HeaderAccept, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != sampleJSON {
		t.Fatalf("expected proxied json, got %q", rec.Body.String())
	}
}

func TestPageWithUnreachableBackendShowsHeadingOnly(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	backendURL := backend.URL
	backend.Close()
	e := newFrontend(t, backendURL)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, Heading) || strings.Contains(body, "<li") {
		t.Fatalf("expected heading only, got %q", body)
	}
}
