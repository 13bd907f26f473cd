package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"courier/internal/awsutil"
	"courier/internal/bus"
	"courier/internal/config"
	"courier/internal/httpserver"
	"courier/internal/logging"
	"courier/internal/observability"
	"courier/internal/plugins"
	sqsqueue "courier/internal/queue/sqs"
	"courier/internal/service"
	"courier/internal/store/pg"
	"courier/internal/worker"
)

func main() {
	cfg := config.LoadWorker()
	logging.Init("worker", cfg.Observability.LogFormat, cfg.Observability.LogLevel)

	// Use a root ctx we can cancel
	ctx, cancel := context.WithCancel(context.Background())

	shutdownTracing, err := observability.InitTracing(ctx, "courier-worker", cfg.Observability.OTLPEndpoint, cfg.Observability.OTLPInsecure)
	if err != nil {
		slog.Error("worker tracing init failed", "err", err)
		os.Exit(1)
	}

	pool, err := pg.NewPool(ctx, cfg.DB.DSN, cfg.DB.PoolOptions())
	if err != nil {
		slog.Error("worker db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	db := pg.New(pool, cfg.DB.AcquireTimeout)

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWS)
	if err != nil {
		slog.Error("worker sqs client init failed", "err", err)
		os.Exit(1)
	}
	queueReachable := func(c context.Context) error {
		_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
			QueueUrl:       &cfg.SQSQueueURL,
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		})
		return err
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := queueReachable(startupCtx); err != nil {
		slog.Error("sqs not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	registry := plugins.Registry(cfg.Providers)
	commands := bus.NewCommandBus(db, registry)
	queries := bus.NewQueryBus(db, registry)
	service.Register(commands, queries)

	processor := &worker.Processor{
		Commands:        commands,
		Queries:         queries,
		Plugins:         registry,
		DispatchTimeout: cfg.DispatchTimeout,
	}
	consumer := &sqsqueue.Consumer{
		SQS: sqsClient, QueueURL: cfg.SQSQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}

	// health server (liveness + readiness)
	health := httpserver.New(0,
		func(c context.Context) error { return pool.Ping(c) },
		queueReachable,
	)
	healthSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpserver.Logging(health.Mux),
	}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker starting poll", "queue_url", cfg.SQSQueueURL)
		pollErrCh <- consumer.Poll(ctx, func(ctx context.Context, messageID uuid.UUID) (err error) {
			start := time.Now()
			defer func() {
				status := "ok"
				if err != nil {
					status = "error"
				}
				logging.From(ctx).Info("worker job finish",
					"message_id", messageID.String(),
					"status", status,
					"duration", time.Since(start),
				)
			}()
			return processor.Process(ctx, messageID)
		})
	}()

	// shutdown wiring
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("worker poll failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("worker health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("worker shutdown timeout waiting for poll loop")
	}
	_ = shutdownTracing(shutdownCtx)
}
