// Package queue carries deferred analysis jobs from the upload API to the
// worker. SQS backs multi-instance deployments; the in-memory queue serves
// single-process runs and tests.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/felipepmaragno/llm-cost-audit/internal/httputil"
)

// AnalysisJob asks the worker to analyze the archived file of an upload.
type AnalysisJob struct {
	ID        string    `json:"id"`
	UploadID  string    `json:"upload_id"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a received job plus the handle needed to acknowledge it.
type Message struct {
	Job           AnalysisJob
	ReceiptHandle string
}

// Queue carries analysis jobs from the API to the worker.
type Queue interface {
	Enqueue(ctx context.Context, job AnalysisJob) error
	Receive(ctx context.Context, maxMessages int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is a Queue on an SQS queue with long polling.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
	waitTime int32
	retry    httputil.RetryConfig
}

// NewSQSQueue returns a queue for queueURL.
func NewSQSQueue(cfg aws.Config, queueURL string) *SQSQueue {
	return &SQSQueue{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
		waitTime: 20,
		retry:    httputil.DefaultRetryConfig(),
	}
}

// Enqueue sends job as JSON, retrying transient errors.
func (q *SQSQueue) Enqueue(ctx context.Context, job AnalysisJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"UploadID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(job.UploadID),
			},
			"JobID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(job.ID),
			},
		},
	}

	_, err = httputil.Retry(ctx, q.retry, func() (*sqs.SendMessageOutput, error) {
		return q.client.SendMessage(ctx, input)
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

// Receive long-polls for up to maxMessages jobs. Bodies that do not decode
// are dropped from the queue.
func (q *SQSQueue) Receive(ctx context.Context, maxMessages int) ([]Message, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       q.waitTime,
		MessageAttributeNames: []string{"All"},
	}

	result, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	messages := make([]Message, 0, len(result.Messages))
	for _, msg := range result.Messages {
		var job AnalysisJob
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil || job.UploadID == "" {
			slog.Warn("dropping undecodable message", "message_id", aws.ToString(msg.MessageId), "error", err)
			if derr := q.Delete(ctx, aws.ToString(msg.ReceiptHandle)); derr != nil {
				slog.Warn("delete undecodable message", "error", derr)
			}
			continue
		}
		messages = append(messages, Message{Job: job, ReceiptHandle: aws.ToString(msg.ReceiptHandle)})
	}

	return messages, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	_, err := httputil.Retry(ctx, q.retry, func() (*sqs.DeleteMessageOutput, error) {
		return q.client.DeleteMessage(ctx, input)
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

// InMemoryQueue hands jobs out once; Delete is a no-op. Receive waits up
// to waitTime for a job so the worker loop does not spin.
type InMemoryQueue struct {
	mu       sync.Mutex
	jobs     []AnalysisJob
	signal   chan struct{}
	waitTime time.Duration
}

// NewInMemoryQueue returns a single-process Queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		jobs:     make([]AnalysisJob, 0),
		signal:   make(chan struct{}, 1),
		waitTime: time.Second,
	}
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, job AnalysisJob) error {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Receive returns queued messages, or waits up to the poll time for one.
func (q *InMemoryQueue) Receive(ctx context.Context, maxMessages int) ([]Message, error) {
	if msgs := q.take(maxMessages); len(msgs) > 0 {
		return msgs, nil
	}

	timer := time.NewTimer(q.waitTime)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case <-q.signal:
		return q.take(maxMessages), nil
	}
}

func (q *InMemoryQueue) take(maxMessages int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := maxMessages
	if count > len(q.jobs) {
		count = len(q.jobs)
	}

	result := make([]Message, count)
	for i, job := range q.jobs[:count] {
		result[i] = Message{Job: job, ReceiptHandle: job.ID}
	}
	q.jobs = q.jobs[count:]

	return result
}

func (q *InMemoryQueue) Delete(ctx context.Context, receiptHandle string) error {
	return nil
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
