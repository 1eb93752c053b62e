package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"dirsubmit/internal/config"
	"dirsubmit/internal/core/agent"
	"dirsubmit/internal/core/heuristics"
	"dirsubmit/internal/core/job"
	"dirsubmit/internal/core/submission"
	"dirsubmit/internal/core/sweep"
	"dirsubmit/internal/core/verify"
	"dirsubmit/internal/health"
	"dirsubmit/internal/logger"
	"dirsubmit/internal/platform/automation"
	"dirsubmit/internal/platform/browser"
	"dirsubmit/internal/platform/evidence"
	"dirsubmit/internal/platform/httpform"
	rds "dirsubmit/internal/platform/redis"
	"dirsubmit/internal/platform/store"
	"dirsubmit/internal/platform/tasks"
	"dirsubmit/internal/server"
	"dirsubmit/internal/worker"
)

func main() {
	cfg := config.Load()
	logr := logger.New("main")
	if err := cfg.Validate(); err != nil {
		logr.LogFatal("invalid configuration", err)
	}
	logr.Info().Str("addr", cfg.HTTPAddr).Str("env", cfg.AppEnv).Str("driver", cfg.AutomationDriver).Msg("starting")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logr.LogFatal("create data dir", err)
	}

	redisSvc, err := rds.New(rds.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		logr.LogFatal("connect redis", err)
	}
	defer redisSvc.Close()

	st, err := store.Open(context.Background(), cfg.DatabasePath)
	if err != nil {
		logr.LogFatal("open store", err)
	}
	defer st.Close()

	tables, err := heuristics.Load(cfg.HeuristicsFile)
	if err != nil {
		logr.LogFatal("load heuristics", err)
	}

	evidenceStore, err := evidence.New(evidence.Config{
		AppEnv:         cfg.AppEnv,
		DataDir:        cfg.DataDir,
		SupabaseURL:    cfg.SupabaseURL,
		SupabaseKey:    cfg.SupabaseServiceKey,
		SupabaseBucket: cfg.SupabaseBucket,
	})
	if err != nil {
		logr.LogFatal("init evidence storage", err)
	}

	var client automation.Client
	switch cfg.AutomationDriver {
	case "http":
		client = httpform.New(httpform.Options{RequestTimeout: cfg.AttemptTimeout})
	default:
		b, err := browser.New(browser.Options{Strategy: browser.StrategyDesktop, BlockResources: true}, evidenceStore)
		if err != nil {
			logr.LogFatal("start browser", err)
		}
		defer b.Shutdown()
		client = b
	}
	if cfg.CaptchaAPIKey != "" {
		logr.LogWarn("CAPTCHA_API_KEY is set but no captcha solver is built in; challenges will be left unsolved")
	}

	submitter := agent.New(client, tables)
	orch := submission.NewOrchestrator(st, submitter, submission.Options{
		Concurrency:    cfg.SubmissionConcurrency,
		AttemptTimeout: cfg.AttemptTimeout,
		ShutdownGrace:  cfg.ShutdownGrace,
	}, nil)

	// Attempts left InProgress by a previous process can never complete.
	if reaped, err := orch.ReapStale(context.Background(), cfg.StaleGrace); err != nil {
		logr.LogError("reap stale attempts", err)
	} else if len(reaped) > 0 {
		logr.LogWarnf("reaped %d stale attempts", len(reaped))
	}

	taskClient := tasks.New(redisSvc)
	defer taskClient.Close()
	jobSvc := job.NewJobService(redisSvc)
	submissionSvc := submission.NewService(orch, jobSvc, taskClient, cfg.TaskMaxRetries)

	scheduler := sweep.New(st, verify.New(client, tables, nil), sweep.Options{
		Interval:    cfg.SweepInterval,
		Concurrency: cfg.VerifyConcurrency,
		StopGrace:   cfg.ShutdownGrace,
		StaleGrace:  cfg.StaleGrace,
	}, sweep.WithLocker(redisSvc), sweep.WithStaleReporter(orch))
	if err := scheduler.Start(); err != nil {
		logr.LogFatal("start sweep scheduler", err)
	}

	asynqServer := asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{tasks.QueueSubmissions: 1},
		ShutdownTimeout: cfg.ShutdownGrace + 10*time.Second,
	})
	mux := worker.NewMux()
	mux.RegisterSubmissions(submissionSvc)
	if err := asynqServer.Start(mux.Mux()); err != nil {
		logr.LogFatal("start worker", err)
	}

	app := fiber.New(fiber.Config{
		AppName: "Directory Submission Engine",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})
	// Serve locally stored evidence from DATA_DIR under /files
	app.Static("/files", cfg.DataDir)

	healthHandler := health.NewHealthHandler(map[string]health.Pinger{
		"redis":  redisSvc.HealthCheck,
		"sqlite": st.Ping,
	}, st)
	server.RegisterRoutes(app, server.Dependencies{
		Store:      st,
		Job:        jobSvc,
		Submission: submissionSvc,
		Sweep:      scheduler,
		Health:     healthHandler,
		StaleGrace: cfg.StaleGrace,
	})
	healthHandler.SetReady()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-shutdown
		logr.LogInfo("shutting down...")
		_ = app.ShutdownWithTimeout(5 * time.Second)
		asynqServer.Stop()
		scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
		defer cancel()
		if err := orch.Close(ctx); err != nil {
			logr.LogError("orchestrator close", err)
		}
		asynqServer.Shutdown()
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		logr.LogError("server listen", err)
		shutdown <- syscall.SIGTERM
	}
	<-stopped
}
