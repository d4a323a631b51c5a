// Package supervisor wires every worker subsystem together and drives
// the ordered startup and graceful-drain sequence.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"transcode-worker/internal/bus"
	"transcode-worker/internal/config"
	"transcode-worker/internal/dedup"
	"transcode-worker/internal/dlq"
	"transcode-worker/internal/handlers"
	"transcode-worker/internal/health"
	"transcode-worker/internal/heartbeat"
	"transcode-worker/internal/logging"
	"transcode-worker/internal/metrics"
	"transcode-worker/internal/monitor"
	"transcode-worker/internal/pipeline"
)

// App holds every constructed subsystem for the lifetime of one worker
// process.
type App struct {
	cfg     *config.Config
	log     *logging.Logger
	metrics *metrics.Registry
	health  *health.Server
	pipe    *pipeline.Pipeline
	hb      *heartbeat.Service
	sql     *handlers.SQLHandler

	hbCancel context.CancelFunc
	pipeDone chan error
}

// BuildVersion is stamped into the /_build endpoint; overridden at link
// time via -ldflags.
var BuildVersion = "dev"

// New constructs every subsystem without starting the health server or
// connecting to the bus; the only goroutines it starts are the script
// pool's workers. Call Run to start the process.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("supervisor: config: %w", err)
	}

	log := logging.New(cfg.WorkerID)
	metricsReg := metrics.New()

	registry := handlers.NewRegistry(cfg.WorkerID)
	sqlHandler := handlers.NewSQLHandler()
	fsHandler := handlers.NewFSHandler(cfg.FSBaseDir)
	scriptPool := handlers.NewScriptPool(4)
	httpHandlers := handlers.NewHTTPHandlers()

	registry.Register("echo", handlers.Echo)
	registry.Register("sleep", handlers.Sleep)
	registry.Register("human_approval", handlers.HumanApproval)
	registry.Register("http_request", httpHandlers.HTTPRequest)
	registry.Register("graphql_request", httpHandlers.GraphQLRequest)
	registry.Register("query_eval", handlers.QueryEval)
	registry.Register("script_eval", scriptPool.ScriptEval)
	registry.Register("sql_query", sqlHandler.SQLQuery)
	registry.Register("fs_blob_get", fsHandler.FSBlobGet)
	registry.Register("fs_blob_put", fsHandler.FSBlobPut)

	dedupWindow := dedup.New(4096)
	dlqSink := &dlq.Sink{
		Path:          cfg.DLQPath,
		MaxBytes:      cfg.DLQMaxBytes,
		MaxRotations:  cfg.DLQMaxRotations,
		TotalMaxBytes: cfg.DLQTotalMaxBytes,
		MaxAgeDays:    cfg.DLQMaxAgeDays,
	}

	pipe := pipeline.New(cfg, nil, registry, dedupWindow, dlqSink, metricsReg, log)
	healthSrv := health.New(BuildVersion, metricsReg, pipe)

	hbInterval := time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond
	hb := heartbeat.New(nil, cfg.HeartbeatSubject, cfg.WorkerID, hbInterval, pipe, monitor.NewSystemMonitor(), log)

	return &App{
		cfg:     cfg,
		log:     log,
		metrics: metricsReg,
		health:  healthSrv,
		pipe:    pipe,
		hb:      hb,
		sql:     sqlHandler,
	}, nil
}

// Run executes the boot sequence, blocks serving the pipeline, and
// performs the graceful shutdown sequence when ctx is cancelled (the
// caller cancels ctx on SIGINT). It returns nil on clean shutdown.
func (a *App) Run(ctx context.Context) error {
	a.pipeDone = make(chan error, 1)

	healthErrCh := make(chan error, 1)
	go func() {
		err := a.health.ListenAndServe(a.cfg.HealthBind)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			healthErrCh <- err
		}
	}()

	connectCtx, connectCancel := context.WithCancel(ctx)
	defer connectCancel()
	conn, err := bus.Connect(connectCtx, a.cfg.NATSURL, func() { a.metrics.NATSConnectAttempts.Inc() })
	if err != nil {
		return fmt.Errorf("supervisor: connect: %w", err)
	}
	a.metrics.NATSConnected.Set(1)
	a.pipe.SetConn(conn)
	a.hb.SetConn(conn)
	defer conn.Close()

	runCtx, runCancel := context.WithCancel(ctx)
	go func() { a.pipeDone <- a.pipe.Run(runCtx, a.cfg.AssignSubject) }()

	a.health.SetReady(true)

	hbCtx, hbCancel := context.WithCancel(ctx)
	a.hbCancel = hbCancel
	go a.hb.Run(hbCtx)

	select {
	case <-ctx.Done():
		a.shutdown(runCancel, false)
		return nil
	case err := <-healthErrCh:
		a.log.Error("supervisor: health server crashed", logging.Err(err))
		a.shutdown(runCancel, false)
		return fmt.Errorf("supervisor: health server: %w", err)
	case err := <-a.pipeDone:
		if err != nil {
			a.log.Error("supervisor: pipeline exited unexpectedly", logging.Err(err))
		}
		a.shutdown(runCancel, true)
		return err
	}
}

// shutdown runs the six-step SIGINT sequence: flip readiness/draining,
// stop accepting new messages, publish draining, wait for in-flight
// tasks to drain, publish stopped. pipelineAlreadyExited is true when
// the caller observed a.pipeDone fire already (the pipeline exited on
// its own); a.pipeDone is a once-fired channel, so waiting on it again
// here would block forever.
func (a *App) shutdown(runCancel context.CancelFunc, pipelineAlreadyExited bool) {
	a.health.SetReady(false)
	a.health.SetDraining(true)

	a.pipe.Stop()
	runCancel()
	if !pipelineAlreadyExited {
		<-a.pipeDone
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.hb.PublishDraining(shutdownCtx)

	a.pipe.Drain()

	a.hb.PublishStopped(shutdownCtx)

	if a.hbCancel != nil {
		a.hbCancel()
	}
	a.sql.Close()
}
