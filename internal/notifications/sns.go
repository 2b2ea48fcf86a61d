// Package notifications fans out concierge and analysis events over SNS.
// Email delivery to the admin and to customers hangs off topic
// subscriptions, so publishers only describe what happened.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/felipepmaragno/llm-cost-audit/internal/httputil"
)

// NotificationType is sent as the Type message attribute.
type NotificationType string

const (
	NotificationConciergeOrdered   NotificationType = "concierge_ordered"
	NotificationConciergeDelivered NotificationType = "concierge_delivered"
	NotificationAnalysisCompleted  NotificationType = "analysis_completed"
	NotificationAnalysisFailed     NotificationType = "analysis_failed"
)

// Notification is the JSON message body published to the topic.
type Notification struct {
	Type      NotificationType  `json:"type"`
	UploadID  string            `json:"upload_id,omitempty"`
	AccountID string            `json:"account_id,omitempty"`
	Recipient string            `json:"recipient,omitempty"`
	Subject   string            `json:"subject"`
	Message   string            `json:"message"`
	Link      string            `json:"link,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// Notifier publishes notifications.
type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
}

// SNSNotifier publishes to one SNS topic with retries.
type SNSNotifier struct {
	client   snsAPI
	topicArn string
	retry    httputil.RetryConfig
}

// NewSNSNotifier returns a notifier for topicArn.
func NewSNSNotifier(cfg aws.Config, topicArn string) *SNSNotifier {
	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
		retry:    httputil.DefaultRetryConfig(),
	}
}

func stringAttr(v string) snstypes.MessageAttributeValue {
	return snstypes.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

// Send publishes notification with Type, UploadID and Recipient attributes
// for subscription filtering.
func (n *SNSNotifier) Send(ctx context.Context, notification Notification) error {
	message, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Message:  aws.String(string(message)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"Type": stringAttr(string(notification.Type)),
		},
	}
	if notification.Subject != "" {
		input.Subject = aws.String(notification.Subject)
	}
	if notification.UploadID != "" {
		input.MessageAttributes["UploadID"] = stringAttr(notification.UploadID)
	}
	if notification.Recipient != "" {
		input.MessageAttributes["Recipient"] = stringAttr(notification.Recipient)
	}

	_, err = httputil.Retry(ctx, n.retry, func() (*sns.PublishOutput, error) {
		return n.client.Publish(ctx, input)
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	slog.Info("notification sent",
		"type", notification.Type,
		"upload_id", notification.UploadID,
	)

	return nil
}

// SubscribeRecipient subscribes an email address to the topic with a filter
// policy on the Recipient attribute, so the address only receives
// notifications sent to it. SNS returns the existing subscription when the
// address is already subscribed, which makes this safe to call at startup.
func (n *SNSNotifier) SubscribeRecipient(ctx context.Context, email string) (string, error) {
	policy, err := json.Marshal(map[string][]string{"Recipient": {email}})
	if err != nil {
		return "", fmt.Errorf("marshal filter policy: %w", err)
	}

	out, err := httputil.Retry(ctx, n.retry, func() (*sns.SubscribeOutput, error) {
		return n.client.Subscribe(ctx, &sns.SubscribeInput{
			TopicArn:              aws.String(n.topicArn),
			Protocol:              aws.String("email"),
			Endpoint:              aws.String(email),
			ReturnSubscriptionArn: true,
			Attributes: map[string]string{
				"FilterPolicy":      string(policy),
				"FilterPolicyScope": "MessageAttributes",
			},
		})
	})
	if err != nil {
		return "", fmt.Errorf("subscribe %s: %w", email, err)
	}
	return aws.ToString(out.SubscriptionArn), nil
}

// InMemoryNotifier records notifications; used without SNS and in tests.
type InMemoryNotifier struct {
	mu            sync.Mutex
	notifications []Notification
	handlers      []func(Notification)
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{
		notifications: make([]Notification, 0),
		handlers:      make([]func(Notification), 0),
	}
}

func (n *InMemoryNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.notifications = append(n.notifications, notification)

	for _, handler := range n.handlers {
		handler(notification)
	}

	slog.Info("notification sent (in-memory)",
		"type", notification.Type,
		"upload_id", notification.UploadID,
	)

	return nil
}

// OnNotification registers handler to run on every Send.
func (n *InMemoryNotifier) OnNotification(handler func(Notification)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, handler)
}

// GetNotifications returns a copy of everything sent so far.
func (n *InMemoryNotifier) GetNotifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]Notification, len(n.notifications))
	copy(result, n.notifications)
	return result
}

func (n *InMemoryNotifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = make([]Notification, 0)
}
