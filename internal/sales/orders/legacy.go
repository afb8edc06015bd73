package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/order-engine/internal/sales/workflow"
)

// LegacyFailure is a row the migration could not convert.
type LegacyFailure struct {
	OrderID int64
	Number  string
	Err     error
}

// LegacyReport summarises a MigrateLegacy run.
type LegacyReport struct {
	Scanned          int
	StatusRewritten  int
	RequestsImported int
	Updated          int
	Failures         []LegacyFailure
}

// MigrateLegacy rewrites OPEN statuses to NEW and moves reopen markers out of
// notes into reopen request records. Imported entries are stamped with at.
// Orders that already carry a pending request are reported as failures when
// their note holds markers too. With dryRun set nothing is written but the
// report is still filled.
func MigrateLegacy(ctx context.Context, repo Repository, dryRun bool, at time.Time) (LegacyReport, error) {
	var report LegacyReport
	records, err := repo.ListLegacy(ctx)
	if err != nil {
		return report, fmt.Errorf("list legacy orders: %w", err)
	}
	for _, rec := range records {
		report.Scanned++
		status, rewritten := workflow.NormalizeLegacyStatus(rec.Status)
		if !rewritten {
			if status, err = workflow.ParseStatus(rec.Status); err != nil {
				report.Failures = append(report.Failures, LegacyFailure{OrderID: rec.ID, Number: rec.Number, Err: err})
				continue
			}
		}
		clean, log, err := workflow.ParseLegacyNote(rec.Note, at)
		if err == nil {
			err = workflow.ValidateNoteText(clean)
		}
		if err == nil && rec.ReopenPending && len(log) > 0 {
			// imported rows would land after the open request and bury it
			err = fmt.Errorf("%w: order already has a pending request", workflow.ErrReopenAlreadyPending)
		}
		if err != nil {
			report.Failures = append(report.Failures, LegacyFailure{OrderID: rec.ID, Number: rec.Number, Err: err})
			continue
		}
		if !rewritten && len(log) == 0 && clean == rec.Note {
			continue
		}
		if !dryRun {
			err = repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
				return repo.ApplyLegacy(ctx, rec, status, clean, log)
			})
			if err != nil {
				report.Failures = append(report.Failures, LegacyFailure{OrderID: rec.ID, Number: rec.Number, Err: err})
				continue
			}
		}
		if rewritten {
			report.StatusRewritten++
		}
		report.RequestsImported += len(log)
		report.Updated++
	}
	return report, nil
}
