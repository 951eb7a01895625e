package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MindShield/app/models"
	"github.com/ManuelReschke/MindShield/app/repository"
	"github.com/ManuelReschke/MindShield/internal/pkg/ledger"
	"github.com/ManuelReschke/MindShield/internal/pkg/metrics"
)

// Apply applies a single ledger event. It returns nil once the mutation and
// the event's processed marker have committed together, a
// *DuplicateEventError when the event was applied before, or a
// *ReconciliationMismatchError once the event was stored as an orphan. Any
// other error is transient and nothing was recorded.
func (r *Reconciler) Apply(ctx context.Context, ev ledger.Event) error {
	lock := &r.pairLocks[r.laneFor(ev)]
	lock.Lock()
	defer lock.Unlock()

	key := models.LedgerEventKey(ev.TxHash.Hex(), ev.LogIndex)
	existing, err := r.repos.LedgerEvent.GetByKey(key)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		existing = nil
	case err != nil:
		return fmt.Errorf("load ledger event %s: %w", key, err)
	case !existing.IsOrphaned():
		r.duplicates.Add(1)
		metrics.ObserveReconcilerEvent(string(ev.Kind), metrics.OutcomeDuplicate)
		return &DuplicateEventError{EventKey: key}
	}

	return r.apply(ctx, ev, key, existing)
}

func (r *Reconciler) apply(ctx context.Context, ev ledger.Event, key string, existing *models.LedgerEvent) error {
	var details *ledger.LicenseDetail
	if ev.Kind == ledger.EventAccessGranted {
		var err error
		if details, err = r.grantDetails(ctx, ev); err != nil {
			return err
		}
	}

	err := r.repos.Transaction(func(tx *repository.Repositories) error {
		user, err := tx.User.GetByWalletAddress(ev.User.Hex())
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return mismatch(ev, key, "no user registered for wallet")
		}
		if err != nil {
			return err
		}

		switch ev.Kind {
		case ledger.EventAccessGranted:
			err = r.applyGranted(tx, user, ev, key, details)
		case ledger.EventAccessRevoked:
			err = r.applyRevoked(tx, user, ev, key)
		case ledger.EventPaymentMade:
			err = r.applyPayment(tx, user, ev, key)
		default:
			log.Warnf("[Reconciler] Ignoring unknown event kind %q (%s)", ev.Kind, key)
		}
		if err != nil {
			return err
		}
		return r.markProcessed(tx, ev, key, existing)
	})

	switch {
	case err == nil:
		r.processed.Add(1)
		metrics.ObserveReconcilerEvent(string(ev.Kind), metrics.OutcomeOK)
		if existing != nil {
			log.Infof("[Reconciler] Repaired orphan %s %s after %d attempts", ev.Kind, key, existing.Attempts)
		}
		return nil
	case isDuplicate(err):
		r.duplicates.Add(1)
		metrics.ObserveReconcilerEvent(string(ev.Kind), metrics.OutcomeDuplicate)
		return err
	case isMismatch(err):
		if recErr := r.recordOrphan(ctx, ev, key, existing, err.Error()); recErr != nil {
			return fmt.Errorf("record orphan %s: %w", key, recErr)
		}
		return err
	default:
		return err
	}
}

// grantDetails loads the license terms when no existing permission can carry
// the grant. The ledger is read outside the store transaction.
func (r *Reconciler) grantDetails(ctx context.Context, ev ledger.Event) (*ledger.LicenseDetail, error) {
	user, err := r.repos.User.GetByWalletAddress(ev.User.Hex())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// unknown users become orphans inside the transaction
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := r.repos.Permission.FindByUserAndCompany(user.ID, ev.Company.Hex(), models.PermissionStatusPending, models.PermissionStatusActive)
	if err != nil {
		return nil, err
	}
	if grantTarget(rows) != nil {
		return nil, nil
	}
	details, err := r.ledger.GetLicenseDetails(ctx, ev.LicenseID)
	if err != nil {
		return nil, fmt.Errorf("license %d details: %w", ev.LicenseID, err)
	}
	return details, nil
}

// applyGranted binds the grant to the newest pending permission of the pair
// (or a manually approved one without a license), or creates an active
// permission from the license terms. Other active permissions of the pair
// are superseded.
func (r *Reconciler) applyGranted(tx *repository.Repositories, user *models.User, ev ledger.Event, key string, details *ledger.LicenseDetail) error {
	txHash := ev.TxHash.Hex()

	if known, err := tx.Permission.GetByLicenseID(ev.LicenseID); err == nil && known.UserID == user.ID {
		// already applied through another delivery path
		return nil
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	rows, err := tx.Permission.FindByUserAndCompany(user.ID, ev.Company.Hex(), models.PermissionStatusPending, models.PermissionStatusActive)
	if err != nil {
		return err
	}
	target := grantTarget(rows)
	for _, p := range rows {
		if p.Status != models.PermissionStatusActive || (target != nil && p.ID == target.ID) {
			continue
		}
		if _, err := tx.Permission.UpdatePermissionStatus(p.ID, models.PermissionStatusSuperseded, ""); err != nil {
			return err
		}
	}
	if target != nil {
		_, err := tx.Permission.Activate(target.ID, ev.LicenseID, txHash)
		return err
	}

	if details == nil {
		// a pending row disappeared between the prefetch and the transaction
		return fmt.Errorf("license %d terms not loaded", ev.LicenseID)
	}
	payment, err := r.fiat.EtherToMinor(details.MonthlyPayment)
	if errors.Is(err, ledger.ErrInvalidAmount) {
		return mismatch(ev, key, "monthly payment out of range: "+details.MonthlyPayment)
	}
	if err != nil {
		return err
	}
	dataTypes := models.JoinDataTypes(models.SplitDataTypes(details.DataTypes))
	licenseID := ev.LicenseID
	return tx.Permission.Create(&models.Permission{
		UserID:           user.ID,
		CompanyName:      ev.Company.Hex(),
		CompanyAddress:   ev.Company.Hex(),
		AccessTypes:      dataTypes,
		MonthlyPayment:   payment,
		Status:           models.PermissionStatusActive,
		LicenseID:        &licenseID,
		BlockchainTxHash: txHash,
	})
}

// grantTarget picks the permission an AccessGranted event binds to. rows are
// newest first.
func grantTarget(rows []models.Permission) *models.Permission {
	for i := range rows {
		if rows[i].Status == models.PermissionStatusPending {
			return &rows[i]
		}
	}
	for i := range rows {
		if rows[i].Status == models.PermissionStatusActive && rows[i].LicenseID == nil {
			return &rows[i]
		}
	}
	return nil
}

// applyRevoked revokes the pair's active permission, preferring the one bound
// to the revoked license.
func (r *Reconciler) applyRevoked(tx *repository.Repositories, user *models.User, ev ledger.Event, key string) error {
	active, err := tx.Permission.FindByUserAndCompany(user.ID, ev.Company.Hex(), models.PermissionStatusActive)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		if known, err := tx.Permission.GetByLicenseID(ev.LicenseID); err == nil && known.UserID == user.ID && known.Status == models.PermissionStatusRevoked {
			return nil
		}
		return mismatch(ev, key, "no active permission for pair")
	}

	target := active[0]
	for _, p := range active {
		if p.LicenseID != nil && *p.LicenseID == ev.LicenseID {
			target = p
			break
		}
	}
	_, err = tx.Permission.UpdatePermissionStatus(target.ID, models.PermissionStatusRevoked, ev.TxHash.Hex())
	return err
}

// applyPayment records a completed earning, linked to the payer's active
// permission when there is one.
func (r *Reconciler) applyPayment(tx *repository.Repositories, user *models.User, ev ledger.Event, key string) error {
	amount, err := r.fiat.WeiToMinor(ev.Amount)
	if err != nil {
		return mismatch(ev, key, "payment amount out of range")
	}

	var permissionID *string
	active, err := tx.Permission.FindByUserAndCompany(user.ID, ev.Company.Hex(), models.PermissionStatusActive)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		id := active[0].ID
		permissionID = &id
	}

	_, err = tx.Earning.CreateEarning(user.ID, repository.NewEarning{
		PermissionID:     permissionID,
		Amount:           amount,
		Status:           models.EarningStatusCompleted,
		BlockchainTxHash: ev.TxHash.Hex(),
	})
	return err
}

// markProcessed writes the processed marker inside the mutation's transaction.
// Losing the race for an orphan returns a DuplicateEventError, which rolls the
// mutation back.
func (r *Reconciler) markProcessed(tx *repository.Repositories, ev ledger.Event, key string, existing *models.LedgerEvent) error {
	if existing != nil {
		return r.claimOrphan(tx, existing.ID, key)
	}
	now := time.Now()
	row := eventRow(ev, key, models.LedgerEventStatusProcessed)
	row.Attempts = 1
	row.ProcessedAt = &now
	created, stored, err := tx.LedgerEvent.CreateIfNotExists(row)
	if err != nil {
		return err
	}
	if !created && !stored.IsOrphaned() {
		return &DuplicateEventError{EventKey: key}
	}
	if !created {
		return r.claimOrphan(tx, stored.ID, key)
	}
	return nil
}

func (r *Reconciler) claimOrphan(tx *repository.Repositories, id uint, key string) error {
	claimed, err := tx.LedgerEvent.MarkProcessed(id)
	if err != nil {
		return err
	}
	if !claimed {
		return &DuplicateEventError{EventKey: key}
	}
	return nil
}

// recordOrphan stores or updates the orphan row and schedules a repair.
func (r *Reconciler) recordOrphan(ctx context.Context, ev ledger.Event, key string, existing *models.LedgerEvent, reason string) error {
	if existing != nil {
		return r.repos.LedgerEvent.MarkOrphaned(existing.ID, reason)
	}

	row := eventRow(ev, key, models.LedgerEventStatusOrphaned)
	row.Attempts = 1
	row.ProcessingError = reason
	created, stored, err := r.repos.LedgerEvent.CreateIfNotExists(row)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	r.orphaned.Add(1)
	metrics.ObserveReconcilerEvent(string(ev.Kind), metrics.OutcomeOrphaned)
	r.refreshOrphanGauge()
	if r.repair != nil {
		if err := r.repair.EnqueueRepair(ctx, stored.ID); err != nil {
			// the periodic sweep still picks it up
			log.Warnf("[Reconciler] Enqueue repair for %s failed: %v", key, err)
		}
	}
	return nil
}

func eventRow(ev ledger.Event, key, status string) *models.LedgerEvent {
	amount := ""
	if ev.Amount != nil {
		amount = ev.Amount.String()
	}
	return &models.LedgerEvent{
		EventKey:       key,
		Kind:           string(ev.Kind),
		UserAddress:    models.NormalizeAddress(ev.User.Hex()),
		CompanyAddress: models.NormalizeAddress(ev.Company.Hex()),
		LicenseID:      ev.LicenseID,
		Amount:         amount,
		TxHash:         strings.ToLower(ev.TxHash.Hex()),
		LogIndex:       ev.LogIndex,
		BlockNumber:    ev.BlockNumber,
		Status:         status,
	}
}

// eventFromRow rebuilds the ledger event stored in row.
func eventFromRow(row *models.LedgerEvent) (ledger.Event, error) {
	ev := ledger.Event{
		Kind:        ledger.EventKind(row.Kind),
		User:        common.HexToAddress(row.UserAddress),
		Company:     common.HexToAddress(row.CompanyAddress),
		LicenseID:   row.LicenseID,
		BlockNumber: row.BlockNumber,
		TxHash:      common.HexToHash(row.TxHash),
		LogIndex:    row.LogIndex,
	}
	if row.Amount != "" {
		amount, ok := new(big.Int).SetString(row.Amount, 10)
		if !ok {
			return ledger.Event{}, fmt.Errorf("ledger event %d: bad amount %q", row.ID, row.Amount)
		}
		ev.Amount = amount
	}
	return ev, nil
}

func mismatch(ev ledger.Event, key, reason string) *ReconciliationMismatchError {
	return &ReconciliationMismatchError{
		EventKey: key,
		Kind:     string(ev.Kind),
		User:     ev.User.Hex(),
		Company:  ev.Company.Hex(),
		Reason:   reason,
	}
}
