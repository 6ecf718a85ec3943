// Package alert publishes operational alerts to an SNS topic. A schedule
// that exhausts its retry budget needs a human; this is how one finds out.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/lumora/postdispatch/internal/db"
)

// Publisher sends terminal-failure alerts to a single SNS topic.
type Publisher struct {
	client   *sns.Client
	topicARN string
}

// TerminalFailureAlert is the message body published for an exhausted schedule.
type TerminalFailureAlert struct {
	ScheduleID string    `json:"schedule_id"`
	ReviewID   string    `json:"review_id"`
	Title      string    `json:"title"`
	TargetName string    `json:"target_name"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error"`
	FailedAt   time.Time `json:"failed_at"`
}

// NewPublisher creates an SNS publisher for the given topic.
func NewPublisher(ctx context.Context, topicARN, region string) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Publisher{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
	}, nil
}

// NewPublisherWithEndpoint creates a publisher with custom endpoint (for LocalStack)
func NewPublisherWithEndpoint(ctx context.Context, topicARN, endpoint, region string) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &Publisher{
		client:   client,
		topicARN: topicARN,
	}, nil
}

// TerminalFailure publishes an alert for a schedule that reached
// failed_terminal. Satisfies the orchestrator's Alerter interface.
func (p *Publisher) TerminalFailure(ctx context.Context, s *db.Schedule, lastError string) error {
	alert := TerminalFailureAlert{
		ScheduleID: s.ID.String(),
		ReviewID:   s.ReviewID.String(),
		Title:      s.Title,
		TargetName: s.TargetName,
		RetryCount: s.MaxRetries,
		LastError:  lastError,
		FailedAt:   time.Now().UTC(),
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String("Scheduled post delivery failed permanently"),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"schedule_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.ScheduleID),
			},
			"target_name": {
				DataType:    aws.String("String"),
				StringValue: aws.String(s.TargetName),
			},
		},
	}

	if _, err := p.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return nil
}
