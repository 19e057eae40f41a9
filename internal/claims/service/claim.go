package service

import (
	"context"
	"errors"
	"sync"
	"time"

	claimserrors "claimgate/internal/claims/errors"
	"claimgate/internal/claims/repository"
	"claimgate/internal/claims/validator"
	unitserrors "claimgate/internal/units/errors"
	unitsrepo "claimgate/internal/units/repository"
	"claimgate/pkg/clock"
	"claimgate/pkg/config"
	apperrors "claimgate/pkg/errors"
	"claimgate/pkg/lock"
	"claimgate/pkg/model"
	"claimgate/pkg/quota"

	"go.mongodb.org/mongo-driver/mongo"
)

const compensationTimeout = 5 * time.Second

// LeaseLock serializes claim attempts per unit. Satisfied by lock.Manager.
type LeaseLock interface {
	Acquire(ctx context.Context, unitID string, waitTimeout, leaseTimeout time.Duration) (string, error)
	Release(ctx context.Context, unitID, token string) error
}

// QuotaStore is the atomic stock counter. Satisfied by quota.Store.
type QuotaStore interface {
	Reserve(ctx context.Context, unitID string, amount int64) (int64, error)
	Release(ctx context.Context, unitID string, amount int64) (int64, error)
}

type ClaimService interface {
	Claim(ctx context.Context, input *model.ClaimInput) (*model.Claim, error)
	GetByID(ctx context.Context, id string) (*model.Claim, error)
	GetByUserAndUnit(ctx context.Context, userID, unitID string) (*model.Claim, error)
	GetByUser(ctx context.Context, userID string, limit int, offset int64) ([]*model.Claim, int64, error)
	Use(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
}

type claimService struct {
	repo       repository.ClaimRepository
	unitRepo   unitsrepo.UnitRepository
	validator  *validator.ClaimValidator
	leaseLock  LeaseLock
	quotaStore QuotaStore
	clk        clock.Clock
	cfg        *config.Config
}

func NewClaimService(
	repo repository.ClaimRepository,
	unitRepo unitsrepo.UnitRepository,
	validator *validator.ClaimValidator,
	leaseLock LeaseLock,
	quotaStore QuotaStore,
	clk clock.Clock,
	cfg *config.Config,
) ClaimService {
	return &claimService{
		repo:       repo,
		unitRepo:   unitRepo,
		validator:  validator,
		leaseLock:  leaseLock,
		quotaStore: quotaStore,
		clk:        clk,
		cfg:        cfg,
	}
}

// Claim runs the full claim sequence for one user against one unit:
// per-unit lease lock, validity window and duplicate checks, atomic quota
// reservation, then the ledger write. The quota counter is always mutated
// before the ledger, so the only compensation ever needed is returning a
// reserved amount when the ledger write fails.
func (s *claimService) Claim(ctx context.Context, input *model.ClaimInput) (*model.Claim, error) {
	s.applyDefaults(input)
	if err := s.validator.ValidateInput(input); err != nil {
		s.cfg.Log.Warn("Claim validation failed", "error", err)
		return nil, apperrors.Validation("Claim validation failed", map[string]any{"error": err.Error()})
	}

	token, err := s.leaseLock.Acquire(ctx, input.UnitID, s.cfg.LockWaitTimeout, s.cfg.LockLeaseTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, apperrors.Throttled("Unit is busy, please retry")
		}
		s.cfg.Log.Error("Lock backend failure", "unit_id", input.UnitID, "error", err)
		return nil, apperrors.Unavailable("lock backend")
	}
	defer s.releaseLock(input.UnitID, token)

	unit, err := s.loadUnit(ctx, input.UnitID)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	if !unit.ActiveAt(now) {
		return nil, s.windowError(unit, now)
	}

	// Fast path: a drained unit never reaches the quota counter. The Lua
	// reservation below is still the authoritative check.
	if unit.RemainingQuantity < input.Quantity {
		return nil, apperrors.Exhausted("Unit is out of stock")
	}

	if err := s.checkDuplicate(ctx, input.UserID, input.UnitID); err != nil {
		return nil, err
	}

	remaining, err := s.quotaStore.Reserve(ctx, input.UnitID, input.Quantity)
	if err != nil {
		if errors.Is(err, quota.ErrExhausted) {
			return nil, apperrors.Exhausted("Unit is out of stock")
		}
		if errors.Is(err, quota.ErrUninitialized) {
			s.cfg.Log.Error("Quota counter missing", "unit_id", input.UnitID)
			return nil, apperrors.Internal("Quota counter not initialized", err)
		}
		s.cfg.Log.Error("Quota backend failure", "unit_id", input.UnitID, "error", err)
		return nil, apperrors.Unavailable("quota backend")
	}

	claim := &model.Claim{
		UserID:   input.UserID,
		UnitID:   input.UnitID,
		Quantity: input.Quantity,
		Status:   model.ClaimStatusGranted,
	}

	if err := s.persist(ctx, claim); err != nil {
		s.compensateQuota(input.UnitID, input.Quantity)
		return nil, err
	}

	s.cfg.Log.Info("Claim granted",
		"claim_id", claim.ID,
		"user_id", claim.UserID,
		"unit_id", claim.UnitID,
		"quantity", claim.Quantity,
		"remaining", remaining,
	)
	return claim, nil
}

func (s *claimService) GetByID(ctx context.Context, id string) (*model.Claim, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Claim ID cannot be empty")
	}

	claim, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, claimserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Claim", id)
		}
		if errors.Is(err, claimserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid claim ID format")
		}
		return nil, apperrors.Internal("Failed to retrieve claim", err)
	}

	return claim, nil
}

func (s *claimService) GetByUserAndUnit(ctx context.Context, userID, unitID string) (*model.Claim, error) {
	if userID == "" || unitID == "" {
		return nil, apperrors.InvalidInput("Both user ID and unit ID are required")
	}

	claim, err := s.repo.FindByUserAndUnit(ctx, userID, unitID)
	if err != nil {
		if errors.Is(err, claimserrors.ErrNotFound) {
			return nil, apperrors.NotFound("Claim")
		}
		return nil, apperrors.Internal("Failed to retrieve claim", err)
	}

	return claim, nil
}

func (s *claimService) GetByUser(ctx context.Context, userID string, limit int, offset int64) ([]*model.Claim, int64, error) {
	if userID == "" {
		return nil, 0, apperrors.InvalidInput("User ID cannot be empty")
	}

	var count int64
	var claims []*model.Claim
	var errCount, errFind error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		count, errCount = s.repo.CountByUser(ctx, userID)
		if errCount != nil {
			s.cfg.Log.Error("Failed to count claims", "user_id", userID, "error", errCount)
			errCount = apperrors.Internal("Failed to count claims", errCount)
		}
	}()

	go func() {
		defer wg.Done()
		claims, errFind = s.repo.FindByUser(ctx, userID, limit, offset)
		if errFind != nil {
			s.cfg.Log.Error("Failed to list claims", "user_id", userID, "error", errFind)
			errFind = apperrors.Internal("Failed to retrieve claims", errFind)
		}
	}()

	wg.Wait()
	if errCount != nil {
		return nil, 0, errCount
	}
	if errFind != nil {
		return nil, 0, errFind
	}

	return claims, count, nil
}

// Use marks a granted claim as redeemed.
func (s *claimService) Use(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.InvalidInput("Claim ID cannot be empty")
	}

	if err := s.repo.UpdateStatus(ctx, id, model.ClaimStatusGranted, model.ClaimStatusUsed); err != nil {
		return s.mapTransitionError(id, err)
	}

	s.cfg.Log.Info("Claim redeemed", "claim_id", id)
	return nil
}

// Cancel voids a granted claim and returns its quantity to stock: ledger and
// unit document move together in a transaction, then the quota counter is
// credited back.
func (s *claimService) Cancel(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.InvalidInput("Claim ID cannot be empty")
	}

	claim, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	err = s.repo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		if err := s.repo.UpdateStatus(sessCtx, id, model.ClaimStatusGranted, model.ClaimStatusCanceled); err != nil {
			return s.mapTransitionError(id, err)
		}
		if err := s.unitRepo.IncrementStock(sessCtx, claim.UnitID, claim.Quantity); err != nil {
			return apperrors.Internal("Failed to restore unit stock", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if _, err := s.quotaStore.Release(detached, claim.UnitID, claim.Quantity); err != nil {
		// Counter lags until the next reconciliation pass.
		s.cfg.Log.Error("Failed to credit quota counter after cancel",
			"claim_id", id,
			"unit_id", claim.UnitID,
			"quantity", claim.Quantity,
			"error", err,
		)
	}

	s.cfg.Log.Info("Claim canceled", "claim_id", id, "unit_id", claim.UnitID)
	return nil
}

// --- Helpers ---

func (s *claimService) applyDefaults(input *model.ClaimInput) {
	if input.Quantity <= 0 {
		input.Quantity = 1
	}
}

func (s *claimService) loadUnit(ctx context.Context, unitID string) (*model.InventoryUnit, error) {
	unit, err := s.unitRepo.FindByID(ctx, unitID)
	if err != nil {
		if errors.Is(err, unitserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Inventory unit", unitID)
		}
		if errors.Is(err, unitserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid inventory unit ID format")
		}
		return nil, apperrors.Internal("Failed to load inventory unit", err)
	}
	return unit, nil
}

func (s *claimService) windowError(unit *model.InventoryUnit, now time.Time) error {
	if now.Before(unit.StartTime) {
		return apperrors.InvalidState("Claim window has not opened yet")
	}
	return apperrors.InvalidState("Claim window has closed")
}

func (s *claimService) checkDuplicate(ctx context.Context, userID, unitID string) error {
	_, err := s.repo.FindByUserAndUnit(ctx, userID, unitID)
	if err == nil {
		return apperrors.Conflict("User already holds a claim for this unit")
	}
	if errors.Is(err, claimserrors.ErrNotFound) {
		return nil
	}
	return apperrors.Internal("Failed to check existing claims", err)
}

// persist writes the ledger row and decrements the unit document inside one
// transaction. The conditional decrement is a second guard behind the quota
// counter; if the two disagree the transaction aborts.
func (s *claimService) persist(ctx context.Context, claim *model.Claim) error {
	return s.repo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		if err := s.repo.Insert(sessCtx, claim); err != nil {
			if errors.Is(err, claimserrors.ErrAlreadyClaimed) {
				return apperrors.Conflict("User already holds a claim for this unit")
			}
			return apperrors.Internal("Failed to persist claim", err)
		}
		if err := s.unitRepo.DecrementStock(sessCtx, claim.UnitID, claim.Quantity); err != nil {
			if errors.Is(err, unitserrors.ErrStockConflict) {
				return apperrors.Exhausted("Unit is out of stock")
			}
			return apperrors.Internal("Failed to decrement unit stock", err)
		}
		return nil
	})
}

// compensateQuota returns a reserved amount to the counter. It runs on a
// context detached from the caller so a canceled request cannot strand the
// reservation.
func (s *claimService) compensateQuota(unitID string, amount int64) {
	ctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
	defer cancel()

	if _, err := s.quotaStore.Release(ctx, unitID, amount); err != nil {
		// Counter lags until the next reconciliation pass.
		s.cfg.Log.Error("Quota compensation failed",
			"unit_id", unitID,
			"amount", amount,
			"error", err,
		)
	}
}

func (s *claimService) releaseLock(unitID, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
	defer cancel()

	if err := s.leaseLock.Release(ctx, unitID, token); err != nil {
		// Lease expiry reclaims the lock if the delete is lost.
		s.cfg.Log.Warn("Failed to release unit lock", "unit_id", unitID, "error", err)
	}
}

func (s *claimService) mapTransitionError(id string, err error) error {
	if errors.Is(err, claimserrors.ErrNotFound) {
		return apperrors.NotFoundWithID("Claim", id)
	}
	if errors.Is(err, claimserrors.ErrInvalidID) {
		return apperrors.InvalidInput("Invalid claim ID format")
	}
	if errors.Is(err, claimserrors.ErrInvalidTransition) {
		return apperrors.InvalidState("Claim is not in a state that allows this transition")
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.Internal("Failed to update claim status", err)
}
