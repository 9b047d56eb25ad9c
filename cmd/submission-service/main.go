package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gradehub/internal/common/cache"
	"gradehub/internal/common/db"
	commonmw "gradehub/internal/common/http/middleware"
	"gradehub/internal/common/mq"
	"gradehub/internal/common/storage"
	"gradehub/internal/submission/controller"
	"gradehub/internal/submission/repository"
	"gradehub/internal/submission/service"
	"gradehub/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/submission_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, err := db.NewMySQL(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = database.Close()
	}()

	queue, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = queue.Close()
	}()

	// Redis and MinIO are optional collaborators: without redis the service
	// runs with rate limiting and idempotency keys disabled, without MinIO
	// with source archival disabled.
	var cacheClient cache.Cache
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(&appCfg.Redis)
		if err != nil {
			logger.Error(context.Background(), "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
		cacheClient = redisCache
	}

	var archive storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		archive = minioStorage
	}

	store := repository.NewSubmissionStore(database)
	lifecycle, err := service.NewLifecycleService(service.Config{
		Store:            store,
		Queue:            queue,
		Cache:            cacheClient,
		Archive:          archive,
		JobTopic:         appCfg.Submission.JobTopic,
		ResultToken:      appCfg.Submission.ResultToken,
		DefaultLanguage:  appCfg.Submission.DefaultLanguage,
		DefaultUserID:    appCfg.Submission.DefaultUserID,
		ArchiveBucket:    appCfg.Submission.ArchiveBucket,
		ArchiveKeyPrefix: appCfg.Submission.ArchiveKeyPrefix,
		MaxCodeBytes:     appCfg.Submission.MaxCodeBytes,
		IdempotencyTTL:   appCfg.Submission.IdempotencyTTL,
		RateLimit:        appCfg.Submission.RateLimit,
		Timeouts:         appCfg.Submission.Timeouts,
	})
	if err != nil {
		logger.Error(context.Background(), "init lifecycle service failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, lifecycle)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "submission http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg ServerConfig, lifecycle *service.LifecycleService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	submissionController := controller.NewSubmissionController(lifecycle)
	router.POST("/submissions", submissionController.Create)
	router.GET("/submissions/:id", submissionController.Get)
	router.POST("/submissions/:id/finalize", submissionController.Finalize)

	internal := router.Group("/internal")
	internal.POST("/submissions/:id/result", submissionController.Result)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
