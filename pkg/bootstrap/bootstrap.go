package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/coder/quartz"

	shared "github.com/stridetally/server/pkg"
	"github.com/stridetally/server/pkg/domain/athlete"
	"github.com/stridetally/server/pkg/domain/calendar"
	"github.com/stridetally/server/pkg/domain/qualification"
	"github.com/stridetally/server/pkg/domain/roster"
	"github.com/stridetally/server/pkg/infrastructure/database"
	"github.com/stridetally/server/pkg/infrastructure/notifications"
	"github.com/stridetally/server/pkg/infrastructure/oauth"
	infrapubsub "github.com/stridetally/server/pkg/infrastructure/pubsub"
	"github.com/stridetally/server/pkg/infrastructure/sentry"
	infrastorage "github.com/stridetally/server/pkg/infrastructure/storage"
	"github.com/stridetally/server/pkg/integrations/strava"
	"github.com/stridetally/server/pkg/syncengine"
)

// Service holds initialized dependencies. It is the process-scoped owner
// of every stateful component, including the refresh coordinator.
type Service struct {
	Config *Config
	Logger *slog.Logger

	DB    shared.Database
	Blobs shared.BlobStore
	Pub   shared.Publisher
	Push  shared.NotificationService

	Calendar    *calendar.Calendar
	Coordinator *oauth.Coordinator
	Fetcher     *strava.Fetcher
	Scheduler   *syncengine.Scheduler
	Tracker     *qualification.Tracker
	Standings   *syncengine.Standings
	Registry    *athlete.Registry
	Roster      *roster.Importer

	closers []io.Closer
}

// GetSlogHandlerOptions returns standard handler options for GCP
func GetSlogHandlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Cloud Logging keys
			if a.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: a.Value}
			}
			if a.Key == slog.LevelKey {
				return slog.Attr{Key: "severity", Value: a.Value}
			}
			return a
		},
	}
}

// ComponentHandler wraps a slog.Handler to prepend [component] to the message
type ComponentHandler struct {
	slog.Handler
	component string
}

func (h *ComponentHandler) WithGroup(name string) slog.Handler {
	return &ComponentHandler{
		Handler:   h.Handler.WithGroup(name),
		component: h.component,
	}
}

func (h *ComponentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	comp := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			comp = a.Value.String()
		}
	}
	return &ComponentHandler{
		Handler:   h.Handler.WithAttrs(attrs),
		component: comp,
	}
}

func (h *ComponentHandler) Handle(ctx context.Context, r slog.Record) error {
	comp := h.component
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			comp = a.Value.String()
			return false
		}
		return true
	})

	if comp != "" {
		// The component attribute stays in the payload as well.
		nr := slog.NewRecord(r.Time, r.Level, fmt.Sprintf("[%s] %s", comp, r.Message), r.PC)
		r.Attrs(func(a slog.Attr) bool {
			nr.AddAttrs(a)
			return true
		})
		r = nr
	}
	return h.Handler.Handle(ctx, r)
}

// LevelFromEnv reads LOG_LEVEL, defaulting to info.
func LevelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a configured logger instance writing JSON to w.
func NewLogger(w io.Writer, serviceName string) *slog.Logger {
	handler := slog.NewJSONHandler(w, GetSlogHandlerOptions(LevelFromEnv()))
	return slog.New(&ComponentHandler{Handler: handler}).With("service", serviceName)
}

// NewService initializes all standard dependencies
func NewService(ctx context.Context, serviceName string) (*Service, error) {
	logger := NewLogger(os.Stdout, serviceName)
	slog.SetDefault(logger)
	cfg := LoadConfig()

	logger.Info("Initializing service", "project_id", cfg.ProjectID, "rules_version", cfg.RulesVersion, "timezone", cfg.Timezone)

	if err := sentry.Init(sentry.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     cfg.SentryRelease,
		ServerName:  serviceName,
	}, logger); err != nil {
		logger.Warn("Continuing without Sentry", "error", err)
	}

	svc := &Service{Config: cfg, Logger: logger}

	// Firestore
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore init failed", "error", err)
		return nil, fmt.Errorf("firestore init: %w", err)
	}
	svc.closers = append(svc.closers, fsClient)
	svc.DB = database.NewFirestoreAdapter(fsClient, cfg.StoreQueryTimeout)

	// Pub/Sub and FCM
	if cfg.EnablePublish {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub init failed", "error", err)
			return nil, fmt.Errorf("pubsub init: %w", err)
		}
		svc.closers = append(svc.closers, psClient)
		svc.Pub = &infrapubsub.PubSubAdapter{Client: psClient}

		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("firebase init: %w", err)
		}
		fcm, err := notifications.NewFCMAdapter(ctx, app, logger)
		if err != nil {
			return nil, fmt.Errorf("fcm init: %w", err)
		}
		svc.Push = fcm
		logger.Info("Pub/Sub and FCM: REAL (ENABLE_PUBLISH=true)")
	} else {
		svc.Pub = &infrapubsub.LogPublisher{Logger: logger}
		svc.Push = &notifications.LogNotifier{Logger: logger}
		logger.Info("Pub/Sub and FCM: MOCK (log only)")
	}

	// Storage
	gcsClient, err := storage.NewClient(ctx)
	if err != nil {
		logger.Error("Storage init failed", "error", err)
		return nil, fmt.Errorf("storage init: %w", err)
	}
	svc.closers = append(svc.closers, gcsClient)
	svc.Blobs = &infrastorage.StorageAdapter{Client: gcsClient}

	if err := svc.wire(http.DefaultTransport, quartz.NewReal()); err != nil {
		return nil, err
	}
	return svc, nil
}

// wire builds the sync components on top of the stores in svc.
func (s *Service) wire(transport http.RoundTripper, clock quartz.Clock) error {
	cfg := s.Config
	cal, err := calendar.New(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("competition calendar: %w", err)
	}
	s.Calendar = cal

	refresher := oauth.NewProviderRefresher(cfg.StravaClientID, cfg.StravaClientSecret, cfg.StravaTokenURL, &http.Client{Transport: transport})
	s.Coordinator = oauth.NewCoordinator(refresher, s.DB, s.Logger)

	client := strava.NewClient(cfg.StravaAPIBaseURL, transport, 0)
	s.Fetcher = strava.NewFetcher(client, s.Coordinator, cal, cfg.Fetch, s.Logger)
	s.Scheduler = syncengine.NewScheduler(s.DB, s.Fetcher, cal, cfg.Sync, clock, s.Logger)

	notifier := qualification.NewEventNotifier(s.Pub, s.Push, cfg.CelebrationTopicPrefix, s.Logger)
	s.Tracker = qualification.NewTracker(s.DB, notifier, cfg.RulesVersion, s.Logger)
	s.Standings = syncengine.NewStandings(s.DB, s.Tracker, cfg.Rules, s.Scheduler, s.Logger)

	s.Registry = athlete.NewRegistry(s.DB, s.Logger)
	s.Roster = roster.NewImporter(s.DB, s.Logger)
	return nil
}

// NewTestService wires the sync components over the given stores. Local
// runners and tests use it to skip the Google Cloud clients.
func NewTestService(cfg *Config, db shared.Database, blobs shared.BlobStore, pub shared.Publisher, push shared.NotificationService, transport http.RoundTripper, clock quartz.Clock, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	svc := &Service{Config: cfg, Logger: logger, DB: db, Blobs: blobs, Pub: pub, Push: push}
	if err := svc.wire(transport, clock); err != nil {
		return nil, err
	}
	return svc, nil
}

// Close releases the Google Cloud clients.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
