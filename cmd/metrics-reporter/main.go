package main

import (
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"tasklist/config"
	"tasklist/metrics"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	metrics.Register(e, metrics.Init())

	log.Infof("Frontend metrics server running on %s", cfg.Metrics.Addr)
	e.Logger.Fatal(e.Start(cfg.Metrics.Addr))
}
