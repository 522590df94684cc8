package metrics

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// LivenessMessage is the body served on the reporter's root route.
const LivenessMessage = "Frontend metrics service is up"

// Register wires the reporter routes on the provided Echo instance.
func Register(e *echo.Echo, g prometheus.Gatherer) {
	e.GET("/metrics", metricsHandler(g))
	e.GET("/", liveness)
}

func metricsHandler(g prometheus.Gatherer) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Encoded in full before anything is written to the response.
		var buf bytes.Buffer
		if err := Write(&buf, g); err != nil {
			c.Logger().Error(err)
			return err
		}
		return c.Blob(http.StatusOK, ContentType, buf.Bytes())
	}
}

func liveness(c echo.Context) error {
	return c.String(http.StatusOK, LivenessMessage)
}
