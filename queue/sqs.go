package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	receiveWaitSeconds  = 20
	receiveBatchSize    = 10
	receiveErrorBackoff = time.Second
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	PurgeQueue(ctx context.Context, params *sqs.PurgeQueueInput, optFns ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error)
}

// SQSQueue is the production transport, long polling an SQS queue.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

func NewSQSQueue(cfg aws.Config, queueURL string) *SQSQueue {
	return &SQSQueue{client: sqs.NewFromConfig(cfg), queueURL: queueURL}
}

func (q *SQSQueue) Enqueue(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue to %s: %w", q.queueURL, err)
	}
	return nil
}

func (q *SQSQueue) ProcessAsync(ctx context.Context, handler Handler) error {
	go func() {
		for ctx.Err() == nil {
			out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            aws.String(q.queueURL),
				MaxNumberOfMessages: receiveBatchSize,
				WaitTimeSeconds:     receiveWaitSeconds,
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("Failed to receive from SQS, backing off...", slog.Any("err", err))
				time.Sleep(receiveErrorBackoff)
				continue
			}

			for _, msg := range out.Messages {
				_ = handler(MessageInfo{
					Body:    aws.ToString(msg.Body),
					Receipt: aws.ToString(msg.ReceiptHandle),
				})
			}
		}
	}()
	return nil
}

func (q *SQSQueue) Ack(ctx context.Context, msg MessageInfo) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.Receipt),
	})
	if err != nil {
		return fmt.Errorf("failed to ack an SQS message: %w", err)
	}
	return nil
}

func (q *SQSQueue) MessageCount(ctx context.Context) (int, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read SQS attributes: %w", err)
	}

	raw := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("unexpected SQS message count %q: %w", raw, err)
	}
	return count, nil
}

func (q *SQSQueue) Purge(ctx context.Context) error {
	if _, err := q.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(q.queueURL)}); err != nil {
		return fmt.Errorf("failed to purge %s: %w", q.queueURL, err)
	}
	return nil
}
