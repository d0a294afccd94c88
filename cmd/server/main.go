package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tle_zone_contest/internal/api"
	"tle_zone_contest/internal/app/service"
	"tle_zone_contest/internal/app/worker"
	"tle_zone_contest/internal/common/security"
	"tle_zone_contest/internal/domain/repository"
	"tle_zone_contest/internal/platform/cache"
	"tle_zone_contest/internal/platform/config"
	"tle_zone_contest/internal/platform/database"
	"tle_zone_contest/internal/platform/logger"
	"tle_zone_contest/internal/platform/messaging"
	"tle_zone_contest/internal/platform/notify"
	"tle_zone_contest/internal/platform/queue"
	"tle_zone_contest/internal/platform/sandbox"

	"go.uber.org/zap"
)

func main() {
	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. JWT
	security.InitJWT(cfg.JWT.Key, cfg.JWT.Exp)

	// 3. Database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal(ctx, "database connection failed", zap.Error(err))
	}
	defer database.Close(db)
	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatal(ctx, "database migration failed", zap.Error(err))
	}

	// 4. Redis
	rdb, err := queue.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal(ctx, "redis connection failed", zap.Error(err))
	}
	defer queue.CloseRedis(rdb)

	// 5. Optional verdict events
	var publisher service.VerdictPublisher
	if cfg.RabbitMQ.URL != "" {
		p, err := messaging.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.VerdictQueue)
		if err != nil {
			logger.Fatal(ctx, "rabbitmq connection failed", zap.Error(err))
		}
		defer p.Close()
		publisher = p
	}

	// 6. Repositories and platform adapters
	problemRepo := repository.NewPgProblemRepository(db)
	submissionRepo := repository.NewPgSubmissionRepository(db)
	contestRepo := repository.NewPgContestRepository(db)
	participationRepo := repository.NewPgParticipationRepository(db)
	txRunner := repository.NewTxRunner(db)

	submissionQueue := queue.NewSubmissionQueue(rdb, cfg.Judge.QueueName)
	leaderboardCache := cache.NewLeaderboardCache(rdb, cfg.Judge.LeaderboardCacheTTL)
	sandboxClient := sandbox.NewClient(cfg.Sandbox.URL, cfg.Sandbox.CallbackURL, cfg.Sandbox.Timeout,
		sandbox.WithAuthToken(cfg.Sandbox.AuthToken),
		sandbox.WithCallbackSecret(cfg.Sandbox.CallbackSecret),
	)
	hub := notify.NewHub(cfg.Server.CORSAllowedOrigins...)
	notifier := notify.NewRedisNotifier(rdb, cfg.Notify.Channel, hub)

	// 7. Services
	leaderboardService := service.NewLeaderboardService(contestRepo, submissionRepo, participationRepo, leaderboardCache)
	reconciler := service.NewReconciler(submissionRepo, problemRepo, contestRepo, leaderboardService, notifier, publisher)
	dispatcher := service.NewDispatcher(submissionRepo, problemRepo, sandboxClient, reconciler, cfg.Sandbox, cfg.Judge.DispatchConcurrency)
	submissionService := service.NewSubmissionService(submissionRepo, problemRepo, contestRepo, txRunner,
		submissionQueue, sandboxClient, notifier, cfg.Sandbox)
	contestService := service.NewContestService(contestRepo, participationRepo)
	problemService := service.NewProblemService(problemRepo, contestRepo, txRunner)

	// 8. Background workers
	var background sync.WaitGroup
	runBackground := func(name string, fn func(context.Context)) {
		background.Add(1)
		go func() {
			defer background.Done()
			fn(ctx)
			logger.Info(context.Background(), "background task finished", zap.String("task", name))
		}()
	}
	runBackground("notifier", func(ctx context.Context) {
		if err := notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "notification fan-out stopped", zap.Error(err))
		}
	})
	runBackground("execution worker",
		worker.NewExecutionWorker(submissionQueue, dispatcher, cfg.Judge.WorkerCount).Start)
	runBackground("stale reclaimer",
		worker.NewStaleReclaimer(submissionRepo, reconciler, submissionQueue,
			queue.NewLock(rdb, cfg.Judge.WatchdogLockKey, cfg.Judge.WatchdogInterval), cfg.Judge).Start)

	// 9. HTTP server
	router := api.NewRouter(api.Services{
		Submissions:    submissionService,
		Problems:       problemService,
		Contests:       contestService,
		Leaderboard:    leaderboardService,
		Callbacks:      reconciler,
		Notifications:  hub,
		CallbackSecret: cfg.Sandbox.CallbackSecret,
	}, cfg.Server.CORSAllowedOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 70 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info(ctx, "server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server failed", zap.Error(err))
			stop()
		}
	}()

	// 10. Graceful shutdown
	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "server shutdown failed", zap.Error(err))
	}
	hub.Close()
	background.Wait()
	submissionService.Wait()

	logger.Info(context.Background(), "server and workers stopped")
}
