package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"uk.co.dudmesh.quill/internal/boot"
	"uk.co.dudmesh.quill/internal/handlers"
	"uk.co.dudmesh.quill/internal/mailer"
	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/relay"
	"uk.co.dudmesh.quill/internal/service/auth"
	"uk.co.dudmesh.quill/internal/service/content"
	"uk.co.dudmesh.quill/internal/service/media"
	"uk.co.dudmesh.quill/internal/service/verification"
	"uk.co.dudmesh.quill/internal/store"
)

type app struct {
	boot.Config
	store    *store.Store
	hub      *relay.Hub
	bridge   *relay.Bridge
	redis    *redis.Client
	services *handlers.Services
}

func newApp(ctx context.Context, bootConfig *boot.Config) (*app, error) {
	a := &app{Config: *bootConfig}

	var err error
	a.store, err = store.Open(a.Database.Driver, a.DatabaseURL())
	if err != nil {
		return nil, err
	}
	if err := a.store.Migrate(ctx); err != nil {
		return nil, err
	}

	verifications := verification.New(verification.Config{
		CodeLength:     a.Verification.CodeLength,
		TTL:            a.Verification.TTL,
		MaxAttempts:    a.Verification.MaxAttempts,
		ResendCooldown: a.Verification.ResendCooldown,
		MaxResends:     a.Verification.MaxResends,
	}, a.store, mailer.New(mailer.Config{
		Host:     a.Mail.Host,
		Port:     a.Mail.Port,
		Username: a.Mail.Username,
		Password: a.Mail.Password,
		From:     a.Mail.From,
	}))

	signer, err := auth.LoadSigningKey(ctx, a.store, a.Auth.SigningKeyFile, a.Auth.SigningKeyPassword)
	if err != nil {
		return nil, err
	}
	a.hub = relay.NewHub(relay.Config{Shards: a.Relay.Shards, BufferSize: a.Relay.BufferSize})
	authConfig := auth.DefaultConfig
	authConfig.Issuer = a.Auth.Issuer
	authConfig.TokenTTL = a.Auth.TokenTTL
	authConfig.RegistrationStatus = model.AccountStatus(a.Auth.RegistrationStatus)
	accounts, err := auth.New(authConfig, a.store, verifications, signer, auth.WithStatusListener(a.hub))
	if err != nil {
		return nil, err
	}
	a.hub.UseStatusChecker(accounts)

	storage, err := a.mediaStorage(ctx)
	if err != nil {
		return nil, err
	}

	if a.Redis.URL != "" {
		opts, err := redis.ParseURL(a.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.redis = redis.NewClient(opts)
		a.bridge = relay.NewBridge(a.redis, a.hub)
	}

	a.services = &handlers.Services{
		Verifications: verifications,
		Accounts:      accounts,
		Content:       content.New(a.store, a.hub),
		Media:         media.New(a.store, storage),
		Signer:        signer,
		Hub:           a.hub,
		Upgrader:      handlers.NewUpgrader(a.AllowedOrigins()),
	}
	return a, nil
}

func (a *app) mediaStorage(ctx context.Context) (media.Storage, error) {
	switch a.Media.Backend {
	case "s3":
		return media.NewS3Storage(ctx, media.S3Config{
			Bucket:    a.Media.S3.Bucket,
			Region:    a.Media.S3.Region,
			Endpoint:  a.Media.S3.Endpoint,
			AccessKey: a.Media.S3.AccessKey,
			SecretKey: a.Media.S3.SecretKey,
		})
	case "local", "":
		return media.NewLocalStorage(a.MediaDirectory())
	}
	return nil, errors.New("unknown media backend " + a.Media.Backend)
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.store.Close()
}

func (a *app) server() *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.HTTPErrorHandler = handlers.ErrorHandler
	server.Use(middleware.BodyLimit(a.Server.BodyLimit))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("quill"))
	server.Use(middleware.Recover())

	server.Logger.SetLevel(log.INFO)
	if a.IsDevelopment() {
		server.Logger.SetLevel(log.DEBUG)
	}

	headers := []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization}
	server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     a.AllowedOrigins(),
		AllowHeaders:     headers,
		AllowCredentials: true,
	}))

	handlers.Routes(server, a.services, handlers.AuthOptions{FailOpen: a.Auth.FailOpen})
	if a.Media.Backend != "s3" {
		server.Static(a.Media.URLPrefix, a.MediaDirectory())
	}
	return server
}

func main() {
	bootConfig, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, bootConfig)
	if err != nil {
		log.Fatalf("starting: %+v", err)
	}
	defer a.Close()

	server := a.server()
	metrics := echo.New()
	metrics.HideBanner = true
	metrics.GET("/metrics", echoprometheus.NewHandler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.hub.Run(gctx)
	})
	if a.bridge != nil {
		g.Go(func() error {
			return a.bridge.Run(gctx)
		})
	}
	g.Go(func() error {
		if err := metrics.Start(":" + a.Server.MetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := server.Start(":" + a.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return errors.Join(server.Shutdown(shutdownCtx), metrics.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		log.Errorf("server: %+v", err)
	}
}
