package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"courier/internal/awsutil"
	"courier/internal/config"
	"courier/internal/httpserver"
	"courier/internal/logging"
	"courier/internal/observability"
	"courier/internal/outbox"
	"courier/internal/queue"
	kafkaqueue "courier/internal/queue/kafka"
	snsqueue "courier/internal/queue/sns"
	sqsqueue "courier/internal/queue/sqs"
	"courier/internal/store/pg"
)

func main() {
	cfg := config.LoadOutbox()
	logging.Init("outbox-poller", cfg.Observability.LogFormat, cfg.Observability.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())

	shutdownTracing, err := observability.InitTracing(ctx, "courier-outbox-poller", cfg.Observability.OTLPEndpoint, cfg.Observability.OTLPInsecure)
	if err != nil {
		slog.Error("outbox tracing init failed", "err", err)
		os.Exit(1)
	}

	pool, err := pg.NewPool(ctx, cfg.DB.DSN, cfg.DB.PoolOptions())
	if err != nil {
		slog.Error("outbox db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	publisher, closePublisher, err := newPublisher(ctx, cfg)
	if err != nil {
		slog.Error("outbox publisher init failed", "err", err, "publisher", cfg.Publisher)
		os.Exit(1)
	}
	defer closePublisher()

	observability.Register(prometheus.DefaultRegisterer)

	poller := &outbox.Poller{
		DB:          pg.New(pool, cfg.DB.AcquireTimeout),
		Publisher:   publisher,
		Publishable: outbox.ParseEventTypes(cfg.Publishable),
		Interval:    cfg.Interval,
		MaxEvents:   cfg.MaxEvents,
	}

	health := httpserver.New(0, func(c context.Context) error { return pool.Ping(c) })
	healthSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpserver.Logging(health.Mux),
	}
	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("outbox health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	runErrCh := make(chan error, 1)
	go func() {
		slog.Info("outbox poller starting",
			"publisher", cfg.Publisher,
			"publishable", cfg.Publishable,
			"interval", cfg.Interval,
			"max_events", cfg.MaxEvents,
		)
		runErrCh <- poller.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("outbox poller failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("outbox health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("outbox shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-runErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("outbox shutdown timeout waiting for poll loop")
	}
	_ = shutdownTracing(shutdownCtx)
}

func newPublisher(ctx context.Context, cfg config.OutboxConfig) (queue.Publisher, func(), error) {
	noop := func() {}
	switch cfg.Publisher {
	case config.PublisherSQS:
		client, err := awsutil.NewSQSClient(ctx, cfg.AWS)
		if err != nil {
			return nil, noop, err
		}
		return &sqsqueue.Producer{SQS: client, QueueURL: cfg.SQSQueueURL}, noop, nil
	case config.PublisherSNS:
		client, err := awsutil.NewSNSClient(ctx, cfg.AWS)
		if err != nil {
			return nil, noop, err
		}
		return &snsqueue.Publisher{SNS: client, TopicARN: cfg.SNSTopicARN}, noop, nil
	case config.PublisherKafka:
		prod, err := kafkaqueue.NewSyncProducer(cfg.KafkaBrokers, cfg.KafkaClientID)
		if err != nil {
			return nil, noop, err
		}
		p := &kafkaqueue.Publisher{Producer: prod, Topic: cfg.KafkaTopic}
		return p, func() { _ = p.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown publisher %q", cfg.Publisher)
}
