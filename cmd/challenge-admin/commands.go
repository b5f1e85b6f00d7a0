package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/stridetally/server/pkg/bootstrap"
	"github.com/stridetally/server/pkg/domain/roster"
	"github.com/stridetally/server/pkg/syncengine"
	"github.com/stridetally/server/pkg/types"
)

var errUsage = errors.New("invalid arguments")

type command func(ctx context.Context, svc *bootstrap.Service, args []string, out io.Writer) error

var commands = map[string]command{
	"sync":          syncCmd,
	"clear":         clearCmd,
	"standings":     standingsCmd,
	"roster-import": rosterImportCmd,
	"roster-export": rosterExportCmd,
	"set-status":    setStatusCmd,
}

func run(ctx context.Context, svc *bootstrap.Service, name string, args []string, out io.Writer) error {
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
	return cmd(ctx, svc, args, out)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// list splits a comma separated flag value, dropping blanks.
func list(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func syncCmd(ctx context.Context, svc *bootstrap.Service, args []string, out io.Writer) error {
	fs := newFlagSet("sync")
	var req syncengine.RangeRequest
	var categories, ids string
	fs.StringVar(&req.CompetitionID, "competition", "", "competition id")
	fs.StringVar(&req.Period, "period", "", "period YYYY-MM (default: period of -start)")
	fs.StringVar(&req.StartDate, "start", "", "first day YYYY-MM-DD")
	fs.StringVar(&req.EndDate, "end", "", "last day YYYY-MM-DD (default: -start)")
	fs.StringVar(&categories, "categories", "", "comma separated categories")
	fs.StringVar(&ids, "ids", "", "comma separated athlete ids")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if req.EndDate == "" {
		req.EndDate = req.StartDate
	}
	req.Categories = list(categories)
	req.AthleteIDs = list(ids)
	req.Trigger = "cli"

	run, err := svc.Scheduler.SyncRange(ctx, req)
	if run != nil {
		printRun(out, run)
	}
	return err
}

func printRun(out io.Writer, run *types.SyncRun) {
	fmt.Fprintf(out, "run %s  %s %s..%s\n", run.RunID, run.CompetitionID, run.StartDate, run.EndDate)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tTOTAL\tSKIPPED\tPROCESSED\tFETCHED\tWRITTEN\tFAILED")
	for _, c := range run.Categories {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", c.Category, c.Total, c.Skipped, c.Processed, c.Fetched, c.Written, c.Failed)
	}
	tw.Flush()
	for _, c := range run.Categories {
		for _, f := range c.Failures {
			fmt.Fprintf(out, "  failed %s (%s): %s\n", f.AthleteID, f.Kind, f.Message)
		}
		if c.WriteError != "" {
			fmt.Fprintf(out, "  write error in %s: %s\n", c.Category, c.WriteError)
		}
	}
}

func clearCmd(ctx context.Context, svc *bootstrap.Service, args []string, out io.Writer) error {
	fs := newFlagSet("clear")
	var req types.ClearRequest
	var dates, ids string
	fs.StringVar(&req.CompetitionID, "competition", "", "competition id")
	fs.StringVar(&req.Period, "period", "", "period YYYY-MM")
	fs.StringVar(&dates, "dates", "", "comma separated days YYYY-MM-DD")
	fs.StringVar(&ids, "ids", "", "comma separated athlete ids")
	fs.BoolVar(&req.DryRun, "dry-run", false, "count matches without writing")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	req.Dates = list(dates)
	req.AthleteIDs = list(ids)

	res, err := svc.Scheduler.Clear(ctx, req)
	if err != nil {
		return err
	}
	mode := ""
	if req.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(out, "matched %d, modified %d%s\n", res.Matched, res.Modified, mode)
	return nil
}

func standingsCmd(ctx context.Context, svc *bootstrap.Service, args []string, out io.Writer) error {
	fs := newFlagSet("standings")
	var req syncengine.StandingsRequest
	fs.StringVar(&req.CompetitionID, "competition", "", "competition id")
	fs.StringVar(&req.Period, "period", "", "period YYYY-MM")
	fs.StringVar(&req.Category, "category", "", "category")
	fs.StringVar(&req.AsOf, "as-of", "", "cutoff day YYYY-MM-DD (default: today)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	entries, err := svc.Standings.Compute(ctx, req)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tATHLETE\tCATEGORY\tKM\tDAYS\tQUALIFIED")
	for i, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%d\t%t\n", i+1, e.Athlete.Name, e.Athlete.Category, e.TotalDistance, e.ActiveDays, e.IsQualified)
	}
	return tw.Flush()
}

func rosterImportCmd(ctx context.Context, svc *bootstrap.Service, args []string, out io.Writer) error {
	fs := newFlagSet("roster-import")
	file := fs.String("file", "", "local CSV path")
	object := fs.String("object", "", "object name in the roster bucket")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	var data []byte
	var err error
	switch {
	case *file != "":
		data, err = os.ReadFile(*file)
	case *object != "":
		data, err = svc.Blobs.Read(ctx, svc.Config.GCSRosterBucket, *object)
	default:
		return fmt.Errorf("%w: one of -file or -object is required", errUsage)
	}
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}

	rows, err := roster.Parse(bytes.NewReader(data))
	if err != nil {
		return err
	}
	res, err := svc.Roster.Import(ctx, rows)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "updated %d, created %d, skipped %d\n", res.Updated, res.Created, res.Skipped)
	for _, s := range res.New {
		fmt.Fprintf(out, "  new placeholder %s %s (%s)\n", s.ID, s.Name, s.Category)
	}
	return nil
}

func rosterExportCmd(ctx context.Context, svc *bootstrap.Service, args []string, out io.Writer) error {
	fs := newFlagSet("roster-export")
	file := fs.String("file", "", "local CSV path (default: stdout)")
	object := fs.String("object", "", "object name in the roster bucket")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	var buf bytes.Buffer
	n, err := roster.Export(ctx, svc.DB, &buf)
	if err != nil {
		return err
	}
	switch {
	case *object != "":
		if err := svc.Blobs.Write(ctx, svc.Config.GCSRosterBucket, *object, buf.Bytes()); err != nil {
			return err
		}
		fmt.Fprintf(out, "exported %d placeholders to gs://%s/%s\n", n, svc.Config.GCSRosterBucket, *object)
	case *file != "":
		if err := os.WriteFile(*file, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write roster: %w", err)
		}
		fmt.Fprintf(out, "exported %d placeholders to %s\n", n, *file)
	default:
		_, err = out.Write(buf.Bytes())
	}
	return err
}

func setStatusCmd(ctx context.Context, svc *bootstrap.Service, args []string, out io.Writer) error {
	fs := newFlagSet("set-status")
	status := fs.String("status", "", "pending or confirmed")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	s := types.AthleteStatus(*status)
	if s != types.AthleteStatusPending && s != types.AthleteStatusConfirmed {
		return fmt.Errorf("%w: unknown status %q", errUsage, *status)
	}
	matched, modified, err := svc.DB.SetStatusAll(ctx, s)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "matched %d, modified %d\n", matched, modified)
	return nil
}
