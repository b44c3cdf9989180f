package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sendloop/wa-gateway/internal/assignment"
	"github.com/sendloop/wa-gateway/internal/config"
	"github.com/sendloop/wa-gateway/internal/dispatch"
	"github.com/sendloop/wa-gateway/internal/handlers"
	"github.com/sendloop/wa-gateway/internal/health"
	"github.com/sendloop/wa-gateway/internal/identity"
	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/internal/queue"
	"github.com/sendloop/wa-gateway/internal/repository"
	"github.com/sendloop/wa-gateway/internal/scheduler"
	"github.com/sendloop/wa-gateway/internal/services"
	"github.com/sendloop/wa-gateway/internal/transport"
	xhttp "github.com/sendloop/wa-gateway/pkg/http"
	"github.com/sendloop/wa-gateway/pkg/logger"
	"github.com/sendloop/wa-gateway/pkg/pg"
	"github.com/sendloop/wa-gateway/pkg/prom"
	"github.com/sendloop/wa-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// statusReporter joins the two halves of the /health payload: identity
// comes from the assignment service, load from the dispatcher.
type statusReporter struct {
	assign     *assignment.Service
	dispatcher *dispatch.Service
}

func (r *statusReporter) ServerID() string { return r.assign.ServerID() }
func (r *statusReporter) InFlight() int64  { return r.dispatcher.InFlight() }

func (r *statusReporter) ConnectedDevices(ctx context.Context) (int64, error) {
	return r.assign.ConnectedDevices(ctx)
}

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	serverID := identity.NewProvider(config.Get().ServerID, config.Get().DeployURL).Resolve()

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	serverRepo := repository.NewServerInstanceRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	healthRepo := repository.NewHealthRepository(db)
	broadcastRepo := repository.NewBroadcastRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	jobRepo := repository.NewDeliveryJobRepository(db)
	logRepo := repository.NewAttemptLogRepository(db)

	q, err := queue.New(redisAdap, queue.Config{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      serverID,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
		IdempotencyTTL:    config.Get().QueueIdempotencyTTL,
	})
	if err != nil {
		logger.Error("failed creating queue", "error", err)
		return
	}

	client := transport.NewHTTPClient(transport.Config{
		BaseURL: config.Get().ConnectorURL,
		Timeout: config.Get().SendTimeout,
	})

	assignSvc := assignment.NewService(assignment.Config{
		ServerID:          serverID,
		Priority:          config.Get().ServerPriority,
		HeartbeatInterval: config.Get().HeartbeatInterval,
		ClaimInterval:     config.Get().ClaimInterval,
	}, serverRepo, deviceRepo, nil)

	monitor := health.NewMonitor(health.Config{
		ServerID:          serverID,
		HeartbeatInterval: config.Get().HeartbeatInterval,
		MissThreshold:     config.Get().HeartbeatMissThreshold,
		SweepInterval:     config.Get().HealthSweepInterval,
	}, serverRepo, deviceRepo, healthRepo, nil)

	sched := scheduler.New(scheduler.Config{
		ServerID:     serverID,
		TickInterval: config.Get().SchedulerTickInterval,
		DedupTTL:     config.Get().SchedulerDedupTTL,
		BatchLimit:   config.Get().SchedulerBatchLimit,
		DefaultBatch: model.BatchPolicy{Size: 50, PauseBetween: 2 * time.Second},
		DefaultDelay: model.DelayPolicy{Mode: model.DelayModeJitter, Base: 1500 * time.Millisecond},
	}, broadcastRepo, scheduleRepo, jobRepo, q, nil)

	dispatcher := dispatch.NewService(dispatch.Config{
		WorkerCount:  config.Get().WorkerCount,
		WorkerBuffer: config.Get().WorkerBuffer,
		Executor: dispatch.ExecutorConfig{
			SendTimeout:     config.Get().SendTimeout,
			SendMaxAttempts: config.Get().SendMaxAttempts,
			RatePerSecond:   config.Get().SendRatePerSecond,
			MarkerTTL:       config.Get().MarkerTTL,
		},
	}, q, redisAdap, jobRepo, logRepo, scheduleRepo, client)
	assignSvc.SetLoadFunc(func() int { return int(dispatcher.InFlight()) })

	// services
	broadcastService := services.NewBroadcastService(broadcastRepo, deviceRepo)
	scheduleService := services.NewScheduleService(scheduleRepo, deviceRepo)
	jobService := services.NewJobService(jobRepo, logRepo)
	deviceService := services.NewDeviceService(deviceRepo, assignSvc, monitor, healthRepo)

	// v1 handlers
	broadcastHandler := handlers.NewBroadcastHandler(broadcastService)
	scheduleHandler := handlers.NewScheduleHandler(scheduleService)
	jobHandler := handlers.NewJobHandler(jobService)
	deviceHandler := handlers.NewDeviceHandler(deviceService)
	healthHandler := handlers.NewHealthHandler(&statusReporter{assign: assignSvc, dispatcher: dispatcher})

	g := s.Router.Group("/api/v1")
	handlers.RegisterBroadcastRoutes(g, broadcastHandler)
	handlers.RegisterScheduleRoutes(g, scheduleHandler)
	handlers.RegisterJobRoutes(g, jobHandler)
	handlers.RegisterDeviceRoutes(g, deviceHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	ctx, cancel := context.WithCancel(context.Background())

	if err := assignSvc.Register(ctx); err != nil {
		logger.Error("failed to register server instance", "error", err)
		return
	}
	go assignSvc.RunHeartbeat(ctx)
	go assignSvc.RunClaimLoop(ctx)
	go monitor.Run(ctx)
	go sched.Run(ctx)

	if err := dispatcher.Start(); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	logger.Info("orchestrator started",
		"server_id", serverID,
		"version", version,
		"commit", commit,
		"built", date)

	select {
	case <-c:
		// Stop taking requests first, then drain the workers, then give up
		// the server row so failover can start.
		s.Shutdown()
		cancel()
		dispatcher.Stop(30 * time.Second)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		assignSvc.Shutdown(shutdownCtx)
		shutdownCancel()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
