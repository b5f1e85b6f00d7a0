package scheduledsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/stridetally/server/pkg/bootstrap"
	"github.com/stridetally/server/pkg/framework"
	"github.com/stridetally/server/pkg/syncengine"
	"github.com/stridetally/server/pkg/types"
)

var (
	svc     *bootstrap.Service
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.CloudEvent("ScheduledSync", ScheduledSync)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	svcOnce.Do(func() {
		svc, svcErr = bootstrap.NewService(ctx, "scheduled-sync")
		if svcErr != nil {
			slog.Error("Failed to initialize service", "error", svcErr)
		}
	})
	return svc, svcErr
}

// ScheduledSync is the Cloud Scheduler entry point.
func ScheduledSync(ctx context.Context, e event.Event) error {
	svc, err := initService(ctx)
	if err != nil {
		return fmt.Errorf("service init failed: %w", err)
	}
	return framework.WrapCloudEvent("scheduled-sync", svc, syncHandler)(ctx, e)
}

// Payload is the scheduler message. Period defaults to the period
// containing yesterday.
type Payload struct {
	CompetitionID string   `json:"competitionId"`
	Period        string   `json:"period,omitempty"`
	Categories    []string `json:"categories,omitempty"`
}

// syncHandler syncs the period from its first day through yesterday.
// Today is left alone because athletes are still recording it.
func syncHandler(ctx context.Context, e event.Event, fwCtx *framework.FrameworkContext) (any, error) {
	p, err := decodePayload(e)
	if err != nil {
		return nil, err
	}
	if p.CompetitionID == "" {
		return nil, fmt.Errorf("%w: competitionId is required", syncengine.ErrMalformedInput)
	}

	sched := fwCtx.Service.Scheduler
	cal := sched.Calendar()
	yesterday, err := cal.AddDays(sched.Today(), -1)
	if err != nil {
		return nil, err
	}
	period := p.Period
	if period == "" {
		if period, err = cal.PeriodOf(yesterday); err != nil {
			return nil, err
		}
	}
	days, err := cal.PeriodDays(period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncengine.ErrMalformedInput, err)
	}

	first, last := days[0], days[len(days)-1]
	if yesterday < first {
		fwCtx.Logger.Info("Period has not started yet", "period", period, "first_day", first)
		return map[string]any{"skipped": true, "period": period}, nil
	}
	if yesterday < last {
		last = yesterday
	}

	run, err := sched.SyncRange(ctx, syncengine.RangeRequest{
		CompetitionID: p.CompetitionID,
		Period:        period,
		StartDate:     first,
		EndDate:       last,
		Categories:    p.Categories,
		Trigger:       "scheduled",
	})
	if err != nil {
		return nil, err
	}
	return summarize(run), nil
}

// decodePayload accepts the payload either as the event data or inside a
// raw Pub/Sub push envelope.
func decodePayload(e event.Event) (Payload, error) {
	var p Payload
	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err == nil && len(msg.Message.Data) > 0 {
		if err := json.Unmarshal(msg.Message.Data, &p); err != nil {
			return p, fmt.Errorf("%w: scheduler message: %v", syncengine.ErrMalformedInput, err)
		}
		return p, nil
	}
	if err := e.DataAs(&p); err != nil {
		return p, fmt.Errorf("%w: scheduler payload: %v", syncengine.ErrMalformedInput, err)
	}
	return p, nil
}

func summarize(run *types.SyncRun) map[string]any {
	written, failed := 0, 0
	for _, c := range run.Categories {
		written += c.Written
		failed += c.Failed
	}
	return map[string]any{
		"runId":   run.RunID,
		"period":  run.Period,
		"start":   run.StartDate,
		"end":     run.EndDate,
		"written": written,
		"failed":  failed,
	}
}
