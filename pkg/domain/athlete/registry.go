package athlete

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	shared "github.com/stridetally/server/pkg"
	"github.com/stridetally/server/pkg/types"
)

// ErrInvalidLink rejects a link request missing the provider id or token.
var ErrInvalidLink = errors.New("invalid link request")

// ErrInvalidRestDay rejects a rest day that is not a weekday name.
var ErrInvalidRestDay = errors.New("invalid rest day")

// LinkRequest carries a completed provider authorization.
type LinkRequest struct {
	Identity
	Profile     string            `json:"profile,omitempty"`
	Gender      string            `json:"gender,omitempty"`
	Credentials types.Credentials `json:"-"`
}

// LinkResult reports how the authorization was reconciled.
type LinkResult struct {
	AthleteID         string    `json:"athleteId"`
	Rule              MatchRule `json:"rule"`
	MergedPlaceholder string    `json:"mergedPlaceholder,omitempty"`
	Created           bool      `json:"created"`
}

// Registry applies reconciliation against the credential store.
type Registry struct {
	store  shared.AthleteStore
	logger *slog.Logger
	now    func() time.Time
}

func NewRegistry(store shared.AthleteStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger, now: time.Now}
}

// Link records a provider authorization. A matched placeholder is replaced
// by a linked record under the provider id that inherits its category,
// status, gender and email.
func (r *Registry) Link(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: provider athlete id is required", ErrInvalidLink)
	}
	if req.Credentials.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", ErrInvalidLink)
	}

	existing, err := r.store.ListAthletes(ctx, types.AthleteFilter{IncludePlaceholders: true})
	if err != nil {
		return nil, fmt.Errorf("list athletes: %w", err)
	}

	m, err := Reconcile(existing, req.Identity)
	if err != nil {
		r.logger.Warn("Athlete link rejected", "athlete_id", req.ID, "error", err)
		return nil, err
	}

	linked := &types.Athlete{
		ID:          req.ID,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Profile:     req.Profile,
		Gender:      req.Gender,
		Email:       req.Email,
		Category:    types.DefaultCategory,
		Status:      types.AthleteStatusPending,
		Credentials: req.Credentials,
		UpdatedAt:   r.now(),
	}
	res := &LinkResult{AthleteID: req.ID, Rule: m.Rule}

	if m.Athlete != nil {
		prev := m.Athlete
		linked.Category = prev.CategoryOrDefault()
		if prev.Status != "" {
			linked.Status = prev.Status
		}
		if linked.Gender == "" {
			linked.Gender = prev.Gender
		}
		if linked.Email == "" {
			linked.Email = prev.Email
		}
		linked.RestDay = prev.RestDay
		if prev.ID != req.ID {
			res.MergedPlaceholder = prev.ID
		}
	} else {
		res.Created = true
	}

	if err := r.store.UpsertAthlete(ctx, linked); err != nil {
		return nil, fmt.Errorf("upsert athlete %s: %w", linked.ID, err)
	}

	if res.MergedPlaceholder != "" {
		if err := r.store.DeleteAthlete(ctx, res.MergedPlaceholder); err != nil {
			return nil, fmt.Errorf("remove merged placeholder %s: %w", res.MergedPlaceholder, err)
		}
	}

	r.logger.Info("Athlete linked",
		"athlete_id", linked.ID,
		"rule", string(res.Rule),
		"merged_placeholder", res.MergedPlaceholder,
		"category", linked.Category,
	)
	return res, nil
}

// RestDay returns the athlete's weekly rest day, Monday when unset.
func (r *Registry) RestDay(ctx context.Context, id string) (string, error) {
	a, err := r.store.GetAthlete(ctx, id)
	if err != nil {
		return "", err
	}
	return a.RestDayOrDefault(), nil
}

// SetRestDay stores the athlete's weekly rest day. Any casing of an
// English weekday name is accepted and stored capitalized.
func (r *Registry) SetRestDay(ctx context.Context, id, day string) (string, error) {
	name, err := parseWeekday(day)
	if err != nil {
		return "", err
	}
	if err := r.store.SetRestDay(ctx, id, name); err != nil {
		return "", fmt.Errorf("set rest day for %s: %w", id, err)
	}
	r.logger.Info("Rest day updated", "athlete_id", id, "rest_day", name)
	return name, nil
}

func parseWeekday(s string) (string, error) {
	s = strings.TrimSpace(s)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d.String(), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRestDay, s)
}
