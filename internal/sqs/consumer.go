package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/jeontongju-dev/notification-service/internal/db"
	"github.com/jeontongju-dev/notification-service/internal/notify"
)

// Notifier is the slice of the delivery core the listener drives.
type Notifier interface {
	Send(ctx context.Context, recipientID int64, role db.RecipientRole, typ db.NotificationType) error
	SendError(ctx context.Context, failure notify.OrderFailure) error
	SendCancelFailure(ctx context.Context, recipientID int64, role db.RecipientRole, typ db.NotificationType) error
}

// Consumer reads notification events from SQS with long polling.
type Consumer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates an SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// ReceiveMessage retrieves one event from the queue. A nil envelope with
// a nil error means the long poll returned empty.
func (c *Consumer) ReceiveMessage(ctx context.Context) (*Envelope, string, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, "", nil
	}

	msg := result.Messages[0]

	var env Envelope
	if err := json.Unmarshal([]byte(*msg.Body), &env); err != nil {
		c.logger.Error("failed to unmarshal envelope", zap.Error(err))
		return nil, "", fmt.Errorf("invalid message format: %w", err)
	}

	return &env, *msg.ReceiptHandle, nil
}

// DeleteMessage acknowledges a processed event.
func (c *Consumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// Listener pumps events from the queue into the delivery core.
type Listener struct {
	consumer *Consumer
	notifier Notifier
	logger   *zap.Logger
}

// NewListener creates a listener over the consumer.
func NewListener(consumer *Consumer, notifier Notifier, logger *zap.Logger) *Listener {
	return &Listener{
		consumer: consumer,
		notifier: notifier,
		logger:   logger,
	}
}

// Start polls until the context is cancelled. A failed dispatch leaves the
// message on the queue for redelivery; processing is at-least-once.
func (l *Listener) Start(ctx context.Context) {
	l.logger.Info("sqs listener started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("sqs listener stopping")
			return
		default:
		}

		env, receipt, err := l.consumer.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("receive failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if env == nil {
			continue
		}

		if err := l.dispatch(ctx, env); err != nil {
			l.logger.Error("dispatch failed, leaving message for redelivery",
				zap.String("event_id", env.EventID),
				zap.String("kind", env.Kind),
				zap.Error(err),
			)
			continue
		}

		if err := l.consumer.DeleteMessage(ctx, receipt); err != nil {
			l.logger.Warn("failed to delete processed message", zap.Error(err))
		}
	}
}

// dispatch routes one envelope to the matching delivery operation. An
// unknown kind is dropped rather than redelivered forever.
func (l *Listener) dispatch(ctx context.Context, env *Envelope) error {
	switch env.Kind {
	case KindNotification:
		var body NotificationBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return fmt.Errorf("decode notification body: %w", err)
		}
		if !body.RecipientRole.Valid() || !body.NotificationType.Valid() {
			return fmt.Errorf("invalid notification body: role=%q type=%q", body.RecipientRole, body.NotificationType)
		}
		return l.notifier.Send(ctx, body.RecipientID, body.RecipientRole, body.NotificationType)

	case KindOrderFailure:
		var failure notify.OrderFailure
		if err := json.Unmarshal(env.Body, &failure); err != nil {
			return fmt.Errorf("decode order failure body: %w", err)
		}
		return l.notifier.SendError(ctx, failure)

	case KindOrderCancelFailure:
		var body NotificationBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return fmt.Errorf("decode cancel failure body: %w", err)
		}
		return l.notifier.SendCancelFailure(ctx, body.RecipientID, body.RecipientRole, body.NotificationType)

	default:
		l.logger.Warn("dropping event of unknown kind",
			zap.String("event_id", env.EventID),
			zap.String("kind", env.Kind),
		)
		return nil
	}
}
