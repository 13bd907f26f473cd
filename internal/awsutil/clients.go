// Package awsutil builds AWS clients that also work against LocalStack.
package awsutil

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	configv2 "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"courier/internal/config"
)

// LoadConfig loads the default AWS config. With a LocalStack endpoint set it
// uses static dummy creds, which LocalStack accepts.
func LoadConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	opts := []func(*configv2.LoadOptions) error{
		configv2.WithRegion(c.Region),
	}
	if c.LocalstackEndpoint != "" {
		opts = append(opts, configv2.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}
	return configv2.LoadDefaultConfig(ctx, opts...)
}

func NewSQSClient(ctx context.Context, c config.AWSConfig) (*sqs.Client, error) {
	cfg, err := LoadConfig(ctx, c)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if c.LocalstackEndpoint != "" {
			o.BaseEndpoint = aws.String(c.LocalstackEndpoint)
		}
	}), nil
}

func NewSNSClient(ctx context.Context, c config.AWSConfig) (*sns.Client, error) {
	cfg, err := LoadConfig(ctx, c)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(cfg, func(o *sns.Options) {
		if c.LocalstackEndpoint != "" {
			o.BaseEndpoint = aws.String(c.LocalstackEndpoint)
		}
	}), nil
}
