package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MindShield/app/models"
	"github.com/ManuelReschke/MindShield/internal/pkg/metrics"
)

const repairBatchSize = 100

// RepairReport summarizes a repair sweep.
type RepairReport struct {
	Attempted int `json:"attempted"`
	Repaired  int `json:"repaired"`
	Remaining int `json:"remaining"`
	Failed    int `json:"failed"`
}

// RepairEvent retries an orphaned event by its ledger_events id. It returns
// nil when the event is applied or no longer orphaned, and a
// *ReconciliationMismatchError while it still matches nothing.
func (r *Reconciler) RepairEvent(ctx context.Context, id uint) error {
	row, err := r.repos.LedgerEvent.GetByID(id)
	if err != nil {
		return fmt.Errorf("load ledger event %d: %w", id, err)
	}
	if !row.IsOrphaned() {
		return nil
	}
	ev, err := eventFromRow(row)
	if err != nil {
		return err
	}
	err = r.Apply(ctx, ev)
	if isDuplicate(err) {
		return nil
	}
	return err
}

// RetryOrphans retries up to limit orphaned events in ledger order.
func (r *Reconciler) RetryOrphans(ctx context.Context, limit int) (RepairReport, error) {
	var report RepairReport
	if limit <= 0 {
		limit = repairBatchSize
	}
	rows, err := r.repos.LedgerEvent.ListOrphaned(limit)
	if err != nil {
		return report, err
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		report.Attempted++
		err := r.RepairEvent(ctx, row.ID)
		switch {
		case err == nil:
			report.Repaired++
			metrics.ObserveRepairJob(metrics.OutcomeOK)
		case isMismatch(err):
			report.Remaining++
			metrics.ObserveRepairJob(metrics.OutcomeOrphaned)
		default:
			report.Failed++
			metrics.ObserveRepairJob(metrics.OutcomeFailed)
			log.Errorf("[Reconciler] Repair of ledger event %d failed: %v", row.ID, err)
		}
	}
	r.refreshOrphanGauge()
	return report, ctx.Err()
}

func (r *Reconciler) repairLoop(ctx context.Context) {
	log.Infof("[Reconciler] Repair sweep running every %s", r.cfg.RepairInterval)
	ticker := time.NewTicker(r.cfg.RepairInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := r.RetryOrphans(ctx, repairBatchSize)
			if err != nil && ctx.Err() == nil {
				log.Errorf("[Reconciler] Repair sweep failed: %v", err)
				continue
			}
			if report.Attempted > 0 {
				log.Infof("[Reconciler] Repair sweep: %d attempted, %d repaired, %d still orphaned",
					report.Attempted, report.Repaired, report.Remaining)
			}
		}
	}
}

func (r *Reconciler) refreshOrphanGauge() {
	counts, err := r.repos.LedgerEvent.CountByStatus()
	if err != nil {
		return
	}
	metrics.SetOrphanedEvents(counts[models.LedgerEventStatusOrphaned])
}
