package main

import (
	"context"
	"os"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"tasklist/api"
	"tasklist/config"
	"tasklist/metrics"
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

	store, users, err := buildStore(cfg, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if err := waitForStorage(context.Background(), store, cfg.API.StartupRetries, cfg.API.StartupRetryDelay, logger); err != nil {
		log.Fatalf("storage: %v", err)
	}

	auth, err := buildAuth(cfg.Auth)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.API.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, store, users, auth, metrics.NewRegistry(), logger)

	e.Logger.Fatal(e.Start(cfg.API.Addr))
}

func buildAuth(cfg config.AuthConfig) (*api.Auth, error) {
	var jwks *keyfunc.JWKS
	secret := cfg.JWTSecret
	if cfg.JWKSURL != "" {
		var err error
		if jwks, err = api.NewJWKS(cfg.JWKSURL); err != nil {
			return nil, err
		}
		secret = ""
	}
	auth, err := api.NewAuth(jwks, secret, cfg.Audience, cfg.Issuer)
	if err != nil {
		return nil, err
	}
	if cfg.TokenTTL > 0 {
		auth.TokenTTL = cfg.TokenTTL
	}
	return auth, nil
}
