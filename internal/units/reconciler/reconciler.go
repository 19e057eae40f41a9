package reconciler

import (
	"context"
	"time"

	"claimgate/internal/units/repository"
	"claimgate/pkg/config"
)

// QuotaCounter is the rebuild surface of the stock counter. Satisfied by
// quota.Store.
type QuotaCounter interface {
	Init(ctx context.Context, unitID string, amount int64) error
	Remaining(ctx context.Context, unitID string) (int64, error)
}

// ClaimSummer reports how much of a unit's stock the claim ledger has
// granted. Satisfied by the claims repository.
type ClaimSummer interface {
	SumGrantedByUnit(ctx context.Context, unitID string) (int64, error)
}

// Reconciler periodically rebuilds the Redis quota counters from ledger
// truth. Counters can drift after a crash between reservation and
// compensation; the ledger aggregate is authoritative.
type Reconciler struct {
	units  repository.UnitRepository
	claims ClaimSummer
	quota  QuotaCounter
	cfg    *config.Config
}

func New(units repository.UnitRepository, claims ClaimSummer, quotaStore QuotaCounter, cfg *config.Config) *Reconciler {
	return &Reconciler{
		units:  units,
		claims: claims,
		quota:  quotaStore,
		cfg:    cfg,
	}
}

// Run executes reconciliation on the configured interval until the context
// is canceled. A pass runs immediately on start.
func (r *Reconciler) Run(ctx context.Context) {
	r.cfg.Log.Info("Quota reconciler started", "interval", r.cfg.ReconcileInterval)

	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	r.reconcileAll(ctx)

	for {
		select {
		case <-ctx.Done():
			r.cfg.Log.Info("Quota reconciler stopped")
			return
		case <-ticker.C:
			r.reconcileAll(ctx)
		}
	}
}

func (r *Reconciler) reconcileAll(ctx context.Context) {
	const pageSize = 100

	var offset int64
	for {
		units, err := r.units.FindAll(ctx, pageSize, offset)
		if err != nil {
			r.cfg.Log.Error("Reconciliation pass failed to list units", "offset", offset, "error", err)
			return
		}
		if len(units) == 0 {
			return
		}

		for _, unit := range units {
			if err := r.reconcileUnit(ctx, unit.ID, unit.TotalQuantity, unit.RemainingQuantity); err != nil {
				r.cfg.Log.Error("Failed to reconcile unit", "unit_id", unit.ID, "error", err)
			}
		}

		if len(units) < pageSize {
			return
		}
		offset += int64(len(units))
	}
}

func (r *Reconciler) reconcileUnit(ctx context.Context, unitID string, total, docRemaining int64) error {
	granted, err := r.claims.SumGrantedByUnit(ctx, unitID)
	if err != nil {
		return err
	}

	expected := total - granted
	if expected < 0 {
		expected = 0
	}

	if docRemaining != expected {
		r.cfg.Log.Warn("Unit document remaining_quantity drifted from ledger",
			"unit_id", unitID,
			"doc_remaining", docRemaining,
			"ledger_remaining", expected,
		)
	}

	current, err := r.quota.Remaining(ctx, unitID)
	if err == nil && current == expected {
		return nil
	}

	if err := r.quota.Init(ctx, unitID, expected); err != nil {
		return err
	}

	r.cfg.Log.Info("Quota counter rebuilt",
		"unit_id", unitID,
		"remaining", expected,
	)
	return nil
}
