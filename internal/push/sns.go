// Package push delivers best-effort mobile push notifications through AWS
// SNS platform endpoints. The streaming fan-out path never blocks on it.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// Gateway sends a push message to a device endpoint.
type Gateway interface {
	Notify(ctx context.Context, endpointARN, title, body string) error
}

// SNSConfig holds SNS settings.
type SNSConfig struct {
	Region string
}

// SNSGateway publishes push notifications to SNS platform endpoints.
type SNSGateway struct {
	client *sns.Client
	logger *zap.Logger
}

// NewSNSGateway creates an SNS push gateway.
func NewSNSGateway(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSGateway, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SNS: %w", err)
	}

	return &SNSGateway{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

type pushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notify publishes one push message to the device endpoint.
func (g *SNSGateway) Notify(ctx context.Context, endpointARN, title, body string) error {
	if endpointARN == "" {
		return fmt.Errorf("empty endpoint ARN")
	}

	msg, err := json.Marshal(pushMessage{Title: title, Body: body})
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}

	input := &sns.PublishInput{
		TargetArn: aws.String(endpointARN),
		Message:   aws.String(string(msg)),
	}

	result, err := g.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	g.logger.Info("push notification sent",
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}
