// Package roster syncs the registration sheet with the credential store
// and exports placeholders that still await account linking.
package roster

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	shared "github.com/stridetally/server/pkg"
	"github.com/stridetally/server/pkg/domain/athlete"
	"github.com/stridetally/server/pkg/types"
)

// Registration sheet columns.
const (
	ColName     = "Name"
	ColEmail    = "Email id"
	ColGender   = "Gender"
	ColDistance = "Running Distance"
)

// ExportHeader is the placeholder export column order.
var ExportHeader = []string{"athleteId", "firstname", "lastname", "email", "gender", "category"}

var ErrMissingColumn = errors.New("roster: missing column")

// Row is one parsed registration.
type Row struct {
	Name     string
	Email    string
	Gender   string
	Category string
}

// ImportResult counts what an import changed.
type ImportResult struct {
	Updated int             `json:"updated"`
	Created int             `json:"created"`
	Skipped int             `json:"skipped"`
	New     []types.Summary `json:"new,omitempty"`
}

// Parse reads a registration CSV. Header names are matched
// case-insensitively; rows without an email are skipped by Import.
func Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	col := func(name string) (int, error) {
		i, ok := idx[strings.ToLower(name)]
		if !ok {
			return 0, fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
		return i, nil
	}
	nameI, err := col(ColName)
	if err != nil {
		return nil, err
	}
	emailI, err := col(ColEmail)
	if err != nil {
		return nil, err
	}
	genderI, _ := col(ColGender)
	distI, _ := col(ColDistance)

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		get := func(i int) string {
			if i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		rows = append(rows, Row{
			Name:     get(nameI),
			Email:    get(emailI),
			Gender:   normalizeGender(get(genderI)),
			Category: normalizeCategory(get(distI)),
		})
	}
	return rows, nil
}

func normalizeGender(g string) string {
	if strings.EqualFold(g, "female") || strings.EqualFold(g, "f") {
		return "F"
	}
	return "M"
}

// normalizeCategory turns "150 KM" into "150".
func normalizeCategory(d string) string {
	d = strings.TrimSpace(d)
	if len(d) >= 2 && strings.EqualFold(d[len(d)-2:], "km") {
		d = strings.TrimSpace(d[:len(d)-2])
	}
	if d == "" {
		return types.DefaultCategory
	}
	return d
}

// Importer applies registration rows to the credential store.
type Importer struct {
	store  shared.AthleteStore
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

func NewImporter(store shared.AthleteStore, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:  store,
		logger: logger.With("component", "roster"),
		newID:  func() string { return "placeholder_" + uuid.NewString() },
		now:    time.Now,
	}
}

// Import confirms every registered athlete. Known athletes are matched by
// email and get their category and gender updated; unknown registrations
// become placeholders until their owner links a provider account.
func (im *Importer) Import(ctx context.Context, rows []Row) (*ImportResult, error) {
	existing, err := im.store.ListAthletes(ctx, types.AthleteFilter{IncludePlaceholders: true})
	if err != nil {
		return nil, fmt.Errorf("list athletes: %w", err)
	}
	byEmail := map[string]*types.Athlete{}
	for _, a := range existing {
		if key := athlete.Fold(a.Email); key != "" {
			byEmail[key] = a
		}
	}

	res := &ImportResult{}
	for _, row := range rows {
		key := athlete.Fold(row.Email)
		if key == "" {
			res.Skipped++
			continue
		}

		if a, ok := byEmail[key]; ok {
			a.Status = types.AthleteStatusConfirmed
			a.Category = row.Category
			a.Gender = row.Gender
			a.UpdatedAt = im.now()
			if err := im.store.UpsertAthlete(ctx, a); err != nil {
				return res, fmt.Errorf("update athlete %s: %w", a.ID, err)
			}
			res.Updated++
			continue
		}

		a := &types.Athlete{
			ID:          im.newID(),
			FirstName:   row.Name,
			Email:       row.Email,
			Gender:      row.Gender,
			Category:    row.Category,
			Status:      types.AthleteStatusConfirmed,
			Placeholder: true,
			UpdatedAt:   im.now(),
		}
		if err := im.store.UpsertAthlete(ctx, a); err != nil {
			return res, fmt.Errorf("create placeholder for %s: %w", row.Email, err)
		}
		byEmail[key] = a
		res.Created++
		res.New = append(res.New, a.Summary())
	}

	im.logger.Info("Roster import complete", "updated", res.Updated, "created", res.Created, "skipped", res.Skipped)
	return res, nil
}

// Export writes every placeholder athlete as CSV.
func Export(ctx context.Context, store shared.AthleteStore, w io.Writer) (int, error) {
	all, err := store.ListAthletes(ctx, types.AthleteFilter{IncludePlaceholders: true})
	if err != nil {
		return 0, fmt.Errorf("list athletes: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return 0, err
	}
	n := 0
	for _, a := range all {
		if !a.Placeholder {
			continue
		}
		if err := cw.Write([]string{a.ID, a.FirstName, a.LastName, a.Email, a.Gender, a.Category}); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}
