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

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/common/http/middleware"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/common/storage"
	"judgeflow/internal/judge/dispatcher"
	"judgeflow/internal/judge/grader"
	"judgeflow/internal/judge/sandbox"
	problemrepo "judgeflow/internal/problem/repository"
	"judgeflow/internal/submission/artifact"
	"judgeflow/internal/submission/controller"
	"judgeflow/internal/submission/repository"
	"judgeflow/internal/submission/service"
	"judgeflow/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_server.yaml"

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

	mysqlDB, err := db.NewMySQLWithConfig(appCfg.Database.toDBConfig())
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(appCfg.Redis.toCacheConfig())
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}
	if err := objStorage.EnsureBucket(context.Background(), appCfg.MinIO.Bucket); err != nil {
		logger.Error(context.Background(), "ensure bucket failed", zap.Error(err))
		return
	}

	queue, err := buildQueue(appCfg.Queue)
	if err != nil {
		logger.Error(context.Background(), "init queue failed", zap.Error(err))
		return
	}
	defer func() {
		_ = queue.Close()
	}()

	artifacts, err := artifact.NewStore(objStorage, appCfg.MinIO.Bucket)
	if err != nil {
		logger.Error(context.Background(), "init artifact store failed", zap.Error(err))
		return
	}

	runner, err := sandbox.NewExecRunner(sandbox.Config{
		WorkRoot:         appCfg.Judge.WorkRoot,
		OutputMaxBytes:   appCfg.Judge.OutputMaxBytes,
		CompileTimeoutMs: int(appCfg.Judge.CompileTimeout / time.Millisecond),
	})
	if err != nil {
		logger.Error(context.Background(), "init sandbox runner failed", zap.Error(err))
		return
	}

	engine, err := grader.NewEngine(grader.Config{
		Runner:        runner,
		Sink:          artifacts,
		RunAllSamples: appCfg.Judge.RunAllSamples,
	})
	if err != nil {
		logger.Error(context.Background(), "init grading engine failed", zap.Error(err))
		return
	}

	languages := sandbox.DefaultRegistry()
	submissionRepo := repository.NewSubmissionRepository(mysqlDB)
	problemRepo := problemrepo.NewProblemRepository(mysqlDB)
	statusCache := repository.NewStatusCache(redisCache)

	judgeDispatcher, err := dispatcher.New(dispatcher.Config{
		Queue:        queue,
		Topic:        appCfg.Queue.Topic,
		PoolSize:     appCfg.Judge.PoolSize,
		Submissions:  submissionRepo,
		Problems:     problemRepo,
		StatusCache:  statusCache,
		Grader:       engine,
		Code:         artifacts,
		Languages:    languages,
		JudgeTimeout: appCfg.Judge.Timeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init dispatcher failed", zap.Error(err))
		return
	}

	submitSvc, err := service.NewSubmitService(service.Config{
		Submissions:    submissionRepo,
		Problems:       problemRepo,
		StatusCache:    statusCache,
		Artifacts:      artifacts,
		Queue:          queue,
		Topic:          appCfg.Queue.Topic,
		Languages:      languages,
		RateCache:      redisCache,
		SubmitCooldown: appCfg.Submit.Cooldown,
		MaxCodeBytes:   appCfg.Submit.MaxCodeBytes,
	})
	if err != nil {
		logger.Error(context.Background(), "init submit service failed", zap.Error(err))
		return
	}

	// Re-enqueue whatever was PENDING when the last process died, then
	// start consuming. The in-process queue has no durability of its own;
	// the record store is the source of truth.
	if recovered, err := judgeDispatcher.RecoverPending(context.Background()); err != nil {
		logger.Error(context.Background(), "recover pending failed", zap.Error(err))
		return
	} else if recovered > 0 {
		logger.Info(context.Background(), "startup recovery complete", zap.Int("recovered", recovered))
	}
	if err := judgeDispatcher.Start(context.Background()); err != nil {
		logger.Error(context.Background(), "start dispatcher failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg, submitSvc)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge server started", zap.String("addr", appCfg.Server.Addr))
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

	// Stop intake before the workers so no submission is accepted after
	// its only chance of being graded is gone.
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	if err := judgeDispatcher.Stop(); err != nil {
		logger.Error(context.Background(), "dispatcher shutdown failed", zap.Error(err))
	}
}

func buildQueue(cfg QueueConfig) (mq.MessageQueue, error) {
	switch cfg.Mode {
	case queueModeKafka:
		return mq.NewKafkaQueue(cfg.Kafka.toMQConfig())
	default:
		return mq.NewChannelQueue(cfg.Capacity), nil
	}
}

func buildHTTPServer(cfg *AppConfig, submitSvc *service.SubmitService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())
	router.Use(requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	controller.NewSubmissionController(submitSvc).RegisterRoutes(api)

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
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
