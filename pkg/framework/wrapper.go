package framework

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/stridetally/server/pkg/bootstrap"
	"github.com/stridetally/server/pkg/infrastructure/sentry"
	"github.com/stridetally/server/pkg/types"
)

// FrameworkContext contains dependencies injected by the framework
type FrameworkContext struct {
	Service     *bootstrap.Service
	Logger      *slog.Logger
	ExecutionID string
}

// HandlerFunc is the signature for a cloud function handler
type HandlerFunc func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) (any, error)

// WrapCloudEvent wraps a handler with execution logging and error capture.
// Handles both HTTP and Pub/Sub triggers.
func WrapCloudEvent(serviceName string, svc *bootstrap.Service, handler HandlerFunc) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) error {
		execID := uuid.NewString()

		triggerType := "pubsub"
		if e.Type() == "google.cloud.functions.http" {
			triggerType = "http"
		}

		e = unwrap(e)

		logger := svc.Logger.With("service", serviceName, "execution_id", execID, "trigger", triggerType)
		if competitionID := extractCompetitionID(e); competitionID != "" {
			logger = logger.With("competition_id", competitionID)
		}

		start := time.Now()
		logger.Info("Function started", "event_id", e.ID(), "event_type", e.Type())

		defer sentry.RecoverAndCapture(ctx, logger)

		outputs, err := handler(ctx, e, &FrameworkContext{
			Service:     svc,
			Logger:      logger,
			ExecutionID: execID,
		})
		if err != nil {
			logger.Error("Function failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
			sentry.CaptureException(ctx, err, map[string]string{
				"service":      serviceName,
				"execution_id": execID,
			}, logger)
			sentry.Flush(2 * time.Second)
			return err
		}

		logger.Info("Function completed successfully", "duration_ms", time.Since(start).Milliseconds(), "outputs", outputs)
		return nil
	}
}

// unwrap returns the CloudEvent carried in a Pub/Sub push message, or e
// itself when the message does not hold one.
func unwrap(e event.Event) event.Event {
	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err != nil || len(msg.Message.Data) == 0 {
		return e
	}
	var inner event.Event
	if err := json.Unmarshal(msg.Message.Data, &inner); err != nil || inner.Type() == "" {
		return e
	}
	return inner
}

// extractCompetitionID reads competitionId from the event payload.
func extractCompetitionID(e event.Event) string {
	var payload struct {
		CompetitionID string `json:"competitionId"`
	}
	if err := e.DataAs(&payload); err != nil {
		return ""
	}
	return payload.CompetitionID
}
