package qualification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	shared "github.com/stridetally/server/pkg"
	infrapubsub "github.com/stridetally/server/pkg/infrastructure/pubsub"
	"github.com/stridetally/server/pkg/types"
)

// EventNotifier publishes a CloudEvent and, when configured, broadcasts a
// push notification to the category's FCM topic.
type EventNotifier struct {
	pub         shared.Publisher
	push        shared.NotificationService
	topicPrefix string
	logger      *slog.Logger
}

func NewEventNotifier(pub shared.Publisher, push shared.NotificationService, topicPrefix string, logger *slog.Logger) *EventNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventNotifier{pub: pub, push: push, topicPrefix: topicPrefix, logger: logger}
}

func (n *EventNotifier) Celebrate(ctx context.Context, ev types.QualificationEvent) error {
	var errs []error

	if n.pub != nil {
		e, err := infrapubsub.NewCloudEvent(shared.EventSourceQualified, shared.EventTypeQualified, ev)
		if err != nil {
			return fmt.Errorf("build cloudevent: %w", err)
		}
		e.SetSubject(ev.AthleteID)
		msgID, err := n.pub.PublishCloudEvent(ctx, shared.TopicAthleteQualified, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish: %w", err))
		} else {
			n.logger.Debug("Qualification event published", "athlete_id", ev.AthleteID, "message_id", msgID)
		}
	}

	if n.push != nil && n.topicPrefix != "" {
		name := ev.AthleteName
		if name == "" {
			name = "An athlete"
		}
		err := n.push.SendTopicNotification(ctx,
			n.topicPrefix+ev.Category,
			"New qualifier!",
			fmt.Sprintf("%s completed the %s km challenge in %d active days", name, ev.Category, ev.ActiveDays),
			map[string]string{
				"athleteId":   ev.AthleteID,
				"category":    ev.Category,
				"ruleVersion": ev.RuleVersion,
			},
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("push: %w", err))
		}
	}

	return errors.Join(errs...)
}
