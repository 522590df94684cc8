package taskview

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
)

// Register wires the view routes on the provided Echo instance. Browser
// navigations on any path get the rendered page; other requests under /api/
// are proxied to apiBase.
func Register(e *echo.Echo, fetcher Fetcher, apiBase *url.URL, logger *log.Logger) {
	e.Use(middleware.ProxyWithConfig(middleware.ProxyConfig{
		Skipper:  skipProxy,
		Balancer: middleware.NewRoundRobinBalancer([]*middleware.ProxyTarget{{URL: apiBase}}),
	}))
	e.GET("/*", page(fetcher, logger))
}

func skipProxy(c echo.Context) bool {
	if !strings.HasPrefix(c.Request().URL.Path, "/api/") {
		return true
	}
	return acceptsHTML(c.Request())
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get(echo.HeaderAccept), echo.MIMETextHTML)
}

func page(fetcher Fetcher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		view := New(fetcher, logger)
		view.Mount(ctx)
		defer view.Unmount()

		select {
		case <-view.Done():
		case <-ctx.Done():
		}

		var buf bytes.Buffer
		if err := view.RenderPage(&buf); err != nil {
			c.Logger().Error(err)
			return err
		}
		return c.HTMLBlob(http.StatusOK, buf.Bytes())
	}
}
