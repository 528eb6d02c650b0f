// Command gamestatsd runs the progression subsystem: background queue,
// scheduled batch jobs and the admin gRPC server.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/gamestats/internal/config"
	"github.com/and161185/gamestats/internal/jobs"
	"github.com/and161185/gamestats/internal/migrate"
	"github.com/and161185/gamestats/internal/repository/postgres"
	grpcserver "github.com/and161185/gamestats/internal/server/grpc"
	"github.com/and161185/gamestats/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func newLogger(cfg *config.Config) *zap.Logger {
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.AppLogLevel); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

// main loads configuration, runs migrations and serves until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("config", zap.Error(err))
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.GRPCAddr),
		zap.String("env", cfg.AppEnv),
		zap.String("tz", cfg.Location().String()),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	db, err := postgres.New(ctx, cfg.DatabaseDSN, postgres.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	userRepo := postgres.NewUserRepo(db)
	statsRepo := postgres.NewStatsRepo(db)
	achievementRepo := postgres.NewAchievementRepo(db)
	sourceRepo := postgres.NewSourceRepo(db)
	rankingRepo := postgres.NewRankingRepo(db)
	seasonRepo := postgres.NewSeasonRepo(db)
	auditRepo := postgres.NewAuditRepo(db)

	// Services
	queue := service.NewTaskQueue(cfg.QueueSize, cfg.QueueWorkers, cfg.QueueMaxAttempts, logger)
	auditSvc := service.NewAuditLogger(auditRepo, logger)
	streakSvc := service.NewStreakService(statsRepo, sourceRepo, auditSvc, cfg.Location(), cfg.MonitorBatchSize, logger)
	aggSvc := service.NewStatsAggregator(statsRepo, streakSvc, logger)
	userLocks := service.NewUserLocks()
	engineSvc := service.NewAchievementEngine(achievementRepo, statsRepo, sourceRepo, streakSvc, auditSvc,
		userLocks, logger)
	validatorSvc := service.NewStatsValidator(userRepo, statsRepo, achievementRepo, sourceRepo, streakSvc, auditSvc,
		userLocks, cfg.MonitorBatchSize, logger)
	rankingSvc := service.NewRankingAggregator(rankingRepo, seasonRepo, sourceRepo, auditSvc,
		streakSvc.Calculator(), cfg.ExcludedRoles(), cfg.Weights(), logger)
	seasonSvc := service.NewSeasonService(seasonRepo, rankingRepo, rankingSvc, auditSvc, logger)
	pipeline := service.NewPipeline(aggSvc, engineSvc, queue, logger)
	guard := service.NewIntegrityGuard(aggSvc, engineSvc, validatorSvc, sourceRepo, queue, auditSvc,
		cfg.GuardCheckTimeout, logger)

	hs := health.NewServer()
	monitorSvc := service.NewStatsMonitor(userRepo, statsRepo, achievementRepo, validatorSvc, service.MonitorOptions{
		Timeout:   cfg.MonitorTimeout,
		BatchSize: cfg.MonitorBatchSize,
		AutoFix:   cfg.MonitorAutoFix,
		OnReport:  grpcserver.ReportHealth(hs),
	}, logger)

	// Scheduled jobs
	sched := jobs.NewScheduler(cfg.Location(), cfg.JobTimeout, logger)
	for _, j := range []jobs.Job{
		{Name: "monitor", Spec: cfg.MonitorSchedule, Run: func(ctx context.Context) error {
			_, err := monitorSvc.RunMonitoringCycle(ctx)
			return err
		}},
		{Name: "streak_reset", Spec: cfg.StreakResetSchedule, Run: func(ctx context.Context) error {
			_, err := streakSvc.ResetBrokenStreaks(ctx)
			return err
		}},
		{Name: "rankings", Spec: cfg.RankingSchedule, Run: rankingSvc.RecomputeAll},
	} {
		if err := sched.Add(j); err != nil {
			logger.Fatal("schedule", zap.Error(err))
		}
	}
	sched.Start()

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
		),
	}
	if !cfg.GRPCInsecure {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	}
	s := grpc.NewServer(opts...)

	app := grpcserver.New(grpcserver.Services{
		Monitor:   monitorSvc,
		Validator: validatorSvc,
		Streaks:   streakSvc,
		Rankings:  rankingSvc,
		Seasons:   seasonSvc,
		Engine:    engineSvc,
		Audit:     auditSvc,
		Events:    pipeline,
		Guard:     guard,
	}, []byte(cfg.JWTKey), logger)
	grpcserver.Register(s, app)

	// Health & reflection (dev)
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Dev {
		reflection.Register(s)
	}

	// Listen
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", !cfg.GRPCInsecure))
		errCh <- s.Serve(lis)
	}()

	// Wait for stop
	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exitCode = 1
	}

	// graceful shutdown: stop intake, then drain background work
	hs.Shutdown()
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop", zap.Error(err))
	}
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Warn("queue close", zap.Error(err))
	}

	logger.Info("shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
