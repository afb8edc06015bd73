package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/odyssey-erp/order-engine/internal/sales/orders"
)

// ExitFailures is returned when some orders could not be converted.
const ExitFailures = 10

// ReopenMigrateOptions defines available flags for the reopen-migrate command.
type ReopenMigrateOptions struct {
	DryRun     bool
	JSONOutput bool
	Now        func() time.Time
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReopenMigrateSummary describes the JSON response for reopen-migrate.
type ReopenMigrateSummary struct {
	OK               bool                   `json:"ok"`
	DryRun           bool                   `json:"dry_run"`
	Scanned          int                    `json:"scanned"`
	Updated          int                    `json:"updated"`
	StatusRewritten  int                    `json:"status_rewritten"`
	RequestsImported int                    `json:"requests_imported"`
	Failures         []ReopenMigrateFailure `json:"failures"`
}

// ReopenMigrateFailure is one order left untouched.
type ReopenMigrateFailure struct {
	OrderID int64  `json:"order_id"`
	Number  string `json:"number"`
	Error   string `json:"error"`
}

// ReopenMigrateCommand converts legacy OPEN statuses and note markers and
// prints the outcome. It returns the process exit code.
func ReopenMigrateCommand(ctx context.Context, repo orders.Repository, opts ReopenMigrateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if repo == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "reopen migrate: repository not configured")
		return 1
	}
	now := time.Now().UTC()
	if opts.Now != nil {
		now = opts.Now()
	}
	report, err := orders.MigrateLegacy(ctx, repo, opts.DryRun, now)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reopen migrate: %v\n", err)
		return 1
	}
	summary := buildMigrateSummary(report, opts.DryRun)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reopen migrate: encode json: %v\n", err)
			return 1
		}
	} else {
		renderMigrateHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return ExitFailures
	}
	return 0
}

func buildMigrateSummary(report orders.LegacyReport, dryRun bool) ReopenMigrateSummary {
	failures := make([]ReopenMigrateFailure, 0, len(report.Failures))
	for _, f := range report.Failures {
		failures = append(failures, ReopenMigrateFailure{OrderID: f.OrderID, Number: f.Number, Error: f.Err.Error()})
	}
	return ReopenMigrateSummary{
		OK:               len(failures) == 0,
		DryRun:           dryRun,
		Scanned:          report.Scanned,
		Updated:          report.Updated,
		StatusRewritten:  report.StatusRewritten,
		RequestsImported: report.RequestsImported,
		Failures:         failures,
	}
}

func renderMigrateHuman(out io.Writer, s ReopenMigrateSummary) {
	mode := "applied"
	if s.DryRun {
		mode = "dry run"
	}
	_, _ = fmt.Fprintf(out, "Legacy order migration (%s)\n", mode)
	_, _ = fmt.Fprintf(out, "Scanned: %d, updated: %d, statuses rewritten: %d, reopen requests imported: %d\n",
		s.Scanned, s.Updated, s.StatusRewritten, s.RequestsImported)
	if len(s.Failures) == 0 {
		return
	}
	_, _ = fmt.Fprintf(out, "%d order(s) need manual review:\n", len(s.Failures))
	for _, f := range s.Failures {
		_, _ = fmt.Fprintf(out, " - %s (id %d): %s\n", f.Number, f.OrderID, f.Error)
	}
}
