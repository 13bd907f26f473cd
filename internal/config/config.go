// Package config loads process settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"courier/internal/providers"
	"courier/internal/store/pg"
)

type DBConfig struct {
	DSN               string        `envconfig:"DB_DSN" required:"true"`
	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"20"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	MaxConnIdleTime   time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"5m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"30s"`
	AcquireTimeout    time.Duration `envconfig:"DB_POOL_ACQUIRE_TIMEOUT" default:"5s"`
	PingTimeout       time.Duration `envconfig:"DB_PING_TIMEOUT" default:"5s"`
}

func (c DBConfig) PoolOptions() pg.PoolOptions {
	return pg.PoolOptions{
		MaxConns:          c.MaxConns,
		MinConns:          c.MinConns,
		MaxConnLifetime:   c.MaxConnLifetime,
		MaxConnIdleTime:   c.MaxConnIdleTime,
		HealthCheckPeriod: c.HealthCheckPeriod,
		PingTimeout:       c.PingTimeout,
	}
}

type AWSConfig struct {
	Region             string `envconfig:"AWS_REGION" default:"eu-central-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

// ObservabilityConfig is shared by every binary.
type ObservabilityConfig struct {
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsPort  string `envconfig:"METRICS_PORT" default:"9090"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
}

type APIConfig struct {
	DB            DBConfig
	Observability ObservabilityConfig

	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	MaxBodyBytes    int64         `envconfig:"HTTP_MAX_BODY_BYTES" default:"1048576"`
}

type WorkerConfig struct {
	DB            DBConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	Port string `envconfig:"PORT" default:"8080"`

	SQSQueueURL   string `envconfig:"SQS_QUEUE_URL" required:"true"`
	SQSWaitTime   int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs    int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	DispatchTimeout time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"10s"`

	Providers ProviderConfig
}

// ProviderConfig tunes the guards in front of the HTTP delivery plugins.
// Limits are per pod.
type ProviderConfig struct {
	HTTPTimeout time.Duration `envconfig:"PROVIDER_HTTP_TIMEOUT" default:"8s"`

	TwilioRPS   float64 `envconfig:"TWILIO_RPS_PER_POD" default:"5"`
	TwilioBurst int     `envconfig:"TWILIO_BURST" default:"10"`

	SendgridRPS   float64 `envconfig:"SENDGRID_RPS_PER_POD" default:"10"`
	SendgridBurst int     `envconfig:"SENDGRID_BURST" default:"20"`

	WebhookRPS   float64 `envconfig:"WEBHOOK_RPS_PER_POD" default:"0"`
	WebhookBurst int     `envconfig:"WEBHOOK_BURST" default:"1"`

	BreakerFailures    uint32        `envconfig:"CB_CONSECUTIVE_FAILURES" default:"10"`
	BreakerOpenTimeout time.Duration `envconfig:"CB_OPEN_TIMEOUT" default:"20s"`
	LimiterWait        time.Duration `envconfig:"RATE_LIMIT_WAIT" default:"2s"`
}

func (c ProviderConfig) guard(rps float64, burst int) providers.GuardConfig {
	return providers.GuardConfig{
		RPS:              rps,
		Burst:            burst,
		FailureThreshold: c.BreakerFailures,
		OpenTimeout:      c.BreakerOpenTimeout,
		LimiterWait:      c.LimiterWait,
	}
}

func (c ProviderConfig) Twilio() providers.GuardConfig   { return c.guard(c.TwilioRPS, c.TwilioBurst) }
func (c ProviderConfig) Sendgrid() providers.GuardConfig { return c.guard(c.SendgridRPS, c.SendgridBurst) }
func (c ProviderConfig) Webhook() providers.GuardConfig  { return c.guard(c.WebhookRPS, c.WebhookBurst) }

const (
	PublisherSQS   = "sqs"
	PublisherSNS   = "sns"
	PublisherKafka = "kafka"
)

type OutboxConfig struct {
	DB            DBConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	Port string `envconfig:"PORT" default:"8080"`

	Interval    time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	MaxEvents   int           `envconfig:"OUTBOX_MAX_EVENTS" default:"100"`
	Publishable []string      `envconfig:"OUTBOX_PUBLISHABLE_EVENTS" default:"message_created"`
	Publisher   string        `envconfig:"OUTBOX_PUBLISHER" default:"sqs"`

	SQSQueueURL   string   `envconfig:"SQS_QUEUE_URL"`
	SNSTopicARN   string   `envconfig:"SNS_TOPIC_ARN"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic    string   `envconfig:"KAFKA_TOPIC" default:"courier.events"`
	KafkaClientID string   `envconfig:"KAFKA_CLIENT_ID" default:"courier-outbox"`
}

// Validate checks that the selected publisher has its destination.
func (c OutboxConfig) Validate() error {
	switch c.Publisher {
	case PublisherSQS:
		if c.SQSQueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required for the sqs publisher")
		}
	case PublisherSNS:
		if c.SNSTopicARN == "" {
			return fmt.Errorf("SNS_TOPIC_ARN is required for the sns publisher")
		}
	case PublisherKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for the kafka publisher")
		}
	default:
		return fmt.Errorf("unknown OUTBOX_PUBLISHER %q", c.Publisher)
	}
	return nil
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	mustProcess(&cfg)
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	mustProcess(&cfg)
	return cfg
}

func LoadOutbox() OutboxConfig {
	var cfg OutboxConfig
	mustProcess(&cfg)
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func mustProcess(cfg any) {
	if err := envconfig.Process("", cfg); err != nil {
		panic(err)
	}
}
