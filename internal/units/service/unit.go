package service

import (
	"context"
	"errors"
	"sync"

	unitserrors "claimgate/internal/units/errors"
	"claimgate/internal/units/repository"
	"claimgate/internal/units/validator"
	"claimgate/pkg/config"
	apperrors "claimgate/pkg/errors"
	"claimgate/pkg/model"
	"claimgate/pkg/quota"
)

// QuotaCounter seeds and reads the live stock counter. Satisfied by quota.Store.
type QuotaCounter interface {
	Init(ctx context.Context, unitID string, amount int64) error
	Remaining(ctx context.Context, unitID string) (int64, error)
}

type UnitService interface {
	Create(ctx context.Context, unit *model.InventoryUnit) error
	GetByID(ctx context.Context, id string) (*model.InventoryUnit, error)
	GetAll(ctx context.Context, limit int, offset int64) ([]*model.InventoryUnit, int64, error)
	Remaining(ctx context.Context, id string) (int64, error)
}

type unitService struct {
	repo       repository.UnitRepository
	validator  *validator.UnitValidator
	quotaStore QuotaCounter
	cfg        *config.Config
}

func NewUnitService(
	repo repository.UnitRepository,
	validator *validator.UnitValidator,
	quotaStore QuotaCounter,
	cfg *config.Config,
) UnitService {
	return &unitService{
		repo:       repo,
		validator:  validator,
		quotaStore: quotaStore,
		cfg:        cfg,
	}
}

// Create persists the unit and seeds its quota counter. The counter is
// written after the document so a crash between the two leaves a unit whose
// claims fail fast with an uninitialized counter rather than one that hands
// out unbacked stock.
func (s *unitService) Create(ctx context.Context, unit *model.InventoryUnit) error {
	if err := s.validator.Validate(unit); err != nil {
		s.cfg.Log.Warn("Inventory unit validation failed", "error", err)
		return apperrors.Validation("Inventory unit validation failed", map[string]any{"error": err.Error()})
	}

	if err := s.repo.Create(ctx, unit); err != nil {
		s.cfg.Log.Error("Failed to create inventory unit", "error", err)
		return apperrors.Internal("Failed to create inventory unit", err)
	}

	if err := s.quotaStore.Init(ctx, unit.ID, unit.TotalQuantity); err != nil {
		s.cfg.Log.Error("Failed to seed quota counter", "unit_id", unit.ID, "error", err)
		return apperrors.Internal("Failed to seed quota counter", err)
	}

	s.cfg.Log.Info("Inventory unit created successfully",
		"id", unit.ID,
		"name", unit.Name,
		"total_quantity", unit.TotalQuantity,
		"start_time", unit.StartTime,
		"end_time", unit.EndTime,
	)
	return nil
}

func (s *unitService) GetByID(ctx context.Context, id string) (*model.InventoryUnit, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Inventory unit ID cannot be empty")
	}

	unit, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, unitserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Inventory unit", id)
		}
		if errors.Is(err, unitserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid inventory unit ID format")
		}
		return nil, apperrors.Internal("Failed to retrieve inventory unit", err)
	}

	return unit, nil
}

func (s *unitService) GetAll(ctx context.Context, limit int, offset int64) ([]*model.InventoryUnit, int64, error) {
	var count int64
	var units []*model.InventoryUnit
	var errCount, errFind error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		count, errCount = s.repo.Count(ctx)
		if errCount != nil {
			s.cfg.Log.Error("Failed to count inventory units", "error", errCount)
			errCount = apperrors.Internal("Failed to count inventory units", errCount)
		}
	}()

	go func() {
		defer wg.Done()
		units, errFind = s.repo.FindAll(ctx, limit, offset)
		if errFind != nil {
			s.cfg.Log.Error("Failed to list inventory units", "error", errFind)
			errFind = apperrors.Internal("Failed to retrieve inventory units", errFind)
		}
	}()

	wg.Wait()
	if errCount != nil {
		return nil, 0, errCount
	}
	if errFind != nil {
		return nil, 0, errFind
	}

	return units, count, nil
}

// Remaining returns the live quota counter, falling back to the document's
// remaining_quantity when the counter is missing.
func (s *unitService) Remaining(ctx context.Context, id string) (int64, error) {
	if id == "" {
		return 0, apperrors.InvalidInput("Inventory unit ID cannot be empty")
	}

	remaining, err := s.quotaStore.Remaining(ctx, id)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, quota.ErrUninitialized) {
		return 0, apperrors.Internal("Failed to read quota counter", err)
	}

	unit, err := s.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return unit.RemainingQuantity, nil
}
