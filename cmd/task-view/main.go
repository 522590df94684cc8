package main

import (
	"net/url"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"tasklist/config"
	"tasklist/taskview"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	apiBase, err := url.Parse(cfg.View.APIBaseURL)
	if err != nil {
		log.Fatalf("invalid VIEW_API_BASE_URL: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	taskview.Register(e, taskview.NewClient(cfg.View.APIBaseURL, cfg.View.FetchTimeout), apiBase, logger)

	log.WithField("api", cfg.View.APIBaseURL).Infof("task view running on %s", cfg.View.Addr)
	e.Logger.Fatal(e.Start(cfg.View.Addr))
}
