package notifications

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

// FCMAdapter broadcasts to FCM topics. Dashboard clients subscribe to
// the topic of the category they follow.
type FCMAdapter struct {
	client *messaging.Client
	logger *slog.Logger
}

func NewFCMAdapter(ctx context.Context, app *firebase.App, logger *slog.Logger) (*FCMAdapter, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FCMAdapter{client: client, logger: logger}, nil
}

func (a *FCMAdapter) SendTopicNotification(ctx context.Context, topic, title, body string, data map[string]string) error {
	a.logger.Info("Sending topic notification", "topic", topic, "title", title)

	id, err := a.client.Send(ctx, &messaging.Message{
		Topic: topic,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("failed to send topic message: %w", err)
	}

	a.logger.Debug("Topic notification sent", "topic", topic, "message_id", id)
	return nil
}

// LogNotifier stands in for FCM in local development.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) SendTopicNotification(ctx context.Context, topic, title, body string, data map[string]string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("[LogNotifier] MOCK NOTIFY", "topic", topic, "title", title, "body", body)
	return nil
}
