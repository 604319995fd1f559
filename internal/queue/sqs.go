package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type sendMessageAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSConfig identifies the target queue.
type SQSConfig struct {
	QueueURL string
	Region   string
}

type sqsPublisher struct {
	client   sendMessageAPI
	queueURL string
}

// NewSQS builds a publisher backed by the default AWS credential chain.
func NewSQS(ctx context.Context, cfg SQSConfig) (Publisher, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("queue: sqs queue url required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("queue: load aws config: %w", err)
	}
	return newSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.QueueURL), nil
}

func newSQSPublisher(client sendMessageAPI, queueURL string) *sqsPublisher {
	return &sqsPublisher{client: client, queueURL: queueURL}
}

func (p *sqsPublisher) Publish(ctx context.Context, req Request) error {
	ba, err := encode(req)
	if err != nil {
		return err
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(ba)),
	})
	if err != nil {
		return fmt.Errorf("queue: sqs send %s: %w", req.ID, err)
	}
	return nil
}

func (p *sqsPublisher) Close() error { return nil }
