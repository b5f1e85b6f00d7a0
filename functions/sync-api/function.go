package syncapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/stridetally/server/pkg/bootstrap"
)

var (
	svc     *bootstrap.Service
	handler http.Handler
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.HTTP("SyncAPI", SyncAPI)
}

func initService(ctx context.Context) (http.Handler, error) {
	svcOnce.Do(func() {
		baseSvc, err := bootstrap.NewService(ctx, "sync-api")
		if err != nil {
			slog.Error("Failed to initialize service", "error", err)
			svcErr = err
			return
		}
		svc = baseSvc
		handler = NewRouter(svc)
	})
	return handler, svcErr
}

// SyncAPI is the HTTP entry point for sync triggers, standings and admin
// operations.
func SyncAPI(w http.ResponseWriter, r *http.Request) {
	h, err := initService(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	h.ServeHTTP(w, r)
}
