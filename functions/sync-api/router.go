package syncapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	shared "github.com/stridetally/server/pkg"
	"github.com/stridetally/server/pkg/bootstrap"
	"github.com/stridetally/server/pkg/domain/athlete"
	"github.com/stridetally/server/pkg/domain/calendar"
	"github.com/stridetally/server/pkg/domain/roster"
	"github.com/stridetally/server/pkg/infrastructure/metrics"
	"github.com/stridetally/server/pkg/infrastructure/sentry"
	"github.com/stridetally/server/pkg/syncengine"
	"github.com/stridetally/server/pkg/types"
)

const maxBodyBytes = 4 << 20

type api struct {
	svc    *bootstrap.Service
	logger *slog.Logger
}

// NewRouter mounts every route on a chi router.
func NewRouter(svc *bootstrap.Service) http.Handler {
	a := &api{svc: svc, logger: svc.Logger.With("component", "sync-api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(sentry.Middleware(a.logger))
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Post("/sync/range", a.syncRange)
	r.Post("/sync/day", a.syncDay)
	r.Get("/standings", a.standings)
	r.Get("/athletes", a.listAthletes)
	r.Get("/athletes/{athleteID}/rest-day", a.getRestDay)
	r.Post("/athletes/{athleteID}/rest-day", a.setRestDay)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/sync/clear", a.clearSync)
		r.Post("/athletes/link", a.linkAthlete)
		r.Post("/athletes/status", a.setStatus)
		r.Post("/roster/import", a.importRoster)
		r.Get("/roster/export", a.exportRoster)
	})
	return r
}

func (a *api) syncRange(w http.ResponseWriter, r *http.Request) {
	var req syncengine.RangeRequest
	if !a.decode(w, r, &req) {
		return
	}
	req.Trigger = "http"
	run, err := a.svc.Scheduler.SyncRange(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type syncDayRequest struct {
	CompetitionID string   `json:"competitionId"`
	Period        string   `json:"period"`
	Date          string   `json:"date"`
	Categories    []string `json:"categories,omitempty"`
	AthleteIDs    []string `json:"athleteIds,omitempty"`
}

func (a *api) syncDay(w http.ResponseWriter, r *http.Request) {
	var req syncDayRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Date == "" {
		req.Date = a.svc.Scheduler.Today()
	}
	run, err := a.svc.Scheduler.SyncDay(r.Context(), req.CompetitionID, req.Period, req.Date, req.Categories, req.AthleteIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *api) clearSync(w http.ResponseWriter, r *http.Request) {
	var req types.ClearRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.svc.Scheduler.Clear(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) standings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := a.svc.Standings.Compute(r.Context(), syncengine.StandingsRequest{
		CompetitionID: q.Get("competitionId"),
		Period:        q.Get("period"),
		Category:      q.Get("category"),
		AsOf:          q.Get("asOf"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rulesVersion": a.svc.Standings.Rules().Version,
		"entries":      entries,
	})
}

func (a *api) listAthletes(w http.ResponseWriter, r *http.Request) {
	filter := types.AthleteFilter{IncludePlaceholders: true}
	if c := r.URL.Query().Get("category"); c != "" {
		filter.Categories = []string{c}
	}
	athletes, err := a.svc.DB.ListAthletes(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if athletes == nil {
		athletes = []*types.Athlete{}
	}
	writeJSON(w, http.StatusOK, athletes)
}

func (a *api) getRestDay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "athleteID")
	day, err := a.svc.Registry.RestDay(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"athleteId": id, "restDay": day})
}

type restDayRequest struct {
	RestDay string `json:"restDay"`
}

func (a *api) setRestDay(w http.ResponseWriter, r *http.Request) {
	var req restDayRequest
	if !a.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "athleteID")
	day, err := a.svc.Registry.SetRestDay(r.Context(), id, req.RestDay)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"athleteId": id, "restDay": day})
}

type linkRequest struct {
	athlete.Identity
	Profile      string `json:"profile,omitempty"`
	Gender       string `json:"gender,omitempty"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}

func (a *api) linkAthlete(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !a.decode(w, r, &req) {
		return
	}
	creds := types.Credentials{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken}
	if req.ExpiresAt > 0 {
		creds.ExpiresAt = time.Unix(req.ExpiresAt, 0).UTC()
	}
	res, err := a.svc.Registry.Link(r.Context(), athlete.LinkRequest{
		Identity:    req.Identity,
		Profile:     req.Profile,
		Gender:      req.Gender,
		Credentials: creds,
	})
	var amb *athlete.AmbiguousMatchError
	if errors.As(err, &amb) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      err.Error(),
			"rule":       amb.Rule,
			"candidates": amb.Candidates,
		})
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type statusRequest struct {
	Status types.AthleteStatus `json:"status"`
}

func (a *api) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Status != types.AthleteStatusPending && req.Status != types.AthleteStatusConfirmed {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}
	matched, modified, err := a.svc.DB.SetStatusAll(r.Context(), req.Status)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"matched": matched, "modified": modified})
}

// importRoster reads the CSV from the request body, or from the roster
// bucket when ?object= names a file.
func (a *api) importRoster(w http.ResponseWriter, r *http.Request) {
	var src io.Reader = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if object := r.URL.Query().Get("object"); object != "" {
		data, err := a.svc.Blobs.Read(r.Context(), a.svc.Config.GCSRosterBucket, object)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		src = bytes.NewReader(data)
	}

	rows, err := roster.Parse(src)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Roster.Import(r.Context(), rows)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// exportRoster streams placeholders as CSV. With ?object= the file is
// also written to the roster bucket.
func (a *api) exportRoster(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := roster.Export(r.Context(), a.svc.DB, &buf); err != nil {
		a.fail(w, r, err)
		return
	}
	if object := r.URL.Query().Get("object"); object != "" {
		if err := a.svc.Blobs.Write(r.Context(), a.svc.Config.GCSRosterBucket, object, buf.Bytes()); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="placeholders.csv"`)
	_, _ = w.Write(buf.Bytes())
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// fail maps domain errors onto status codes. Anything unexpected is
// reported to Sentry.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, syncengine.ErrMalformedInput),
		errors.Is(err, calendar.ErrInvalidDay),
		errors.Is(err, athlete.ErrInvalidLink),
		errors.Is(err, athlete.ErrInvalidRestDay):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, shared.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		a.logger.Error("Request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		sentry.CaptureException(r.Context(), err, map[string]string{"path": r.URL.Path}, a.logger)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
