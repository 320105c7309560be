package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"net/http"
	"os"
	"os/signal"
	"stream-recorder/config"
	"stream-recorder/constant"
	recHandler "stream-recorder/handler"
	"stream-recorder/pkg/rabbitmq"
	"stream-recorder/registry"
	"stream-recorder/repository"
	"stream-recorder/service"
	"syscall"
	"time"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	repo := repository.NewRepo(cfg.DB)
	reg := registry.New()
	uploader := service.NewUploader(cfg.Storage, cfg.MinIOBucket)

	var events service.EventPublisher
	if cfg.Queue.Host != "" {
		conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
		} else {
			publisher, err := rabbitmq.NewPublisher(ctx, conn, cfg.Queue)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("NewPublisher")
			} else {
				events = publisher
			}
		}
	}

	recorder := service.NewRecorder(repo, reg, uploader, nil, events, cfg.Recorder)
	dispatcher := service.NewDispatcher(repo, recorder, cfg.Dispatcher)
	go dispatcher.Run(ctx)

	r := gin.Default()
	logger := zerolog.Ctx(ctx)
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
	})
	addHealth(r)

	h := recHandler.New(repo, recorder, dispatcher, uploader, cfg.Recorder.PresignedTTL)
	h.Register(r)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	if err := handler.Shutdown(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
