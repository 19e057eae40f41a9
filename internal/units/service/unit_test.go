package service

import (
	"context"
	"errors"
	"testing"
	"time"

	unitserrors "claimgate/internal/units/errors"
	"claimgate/internal/units/validator"
	"claimgate/pkg/config"
	mongotx "claimgate/pkg/db/mongo"
	apperrors "claimgate/pkg/errors"
	"claimgate/pkg/logger"
	"claimgate/pkg/model"
	"claimgate/pkg/quota"
)

const testUnitID = "64a1f0c2b3d4e5f601234567"

// Mock repository for testing

type mockUnitRepository struct {
	createFunc   func(ctx context.Context, unit *model.InventoryUnit) error
	findByIDFunc func(ctx context.Context, id string) (*model.InventoryUnit, error)
}

func (m *mockUnitRepository) Create(ctx context.Context, unit *model.InventoryUnit) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, unit)
	}
	unit.ID = testUnitID
	return nil
}

func (m *mockUnitRepository) FindByID(ctx context.Context, id string) (*model.InventoryUnit, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, unitserrors.ErrNotFound
}

func (m *mockUnitRepository) FindAll(ctx context.Context, limit int, offset int64) ([]*model.InventoryUnit, error) {
	return nil, nil
}

func (m *mockUnitRepository) Count(ctx context.Context) (int64, error) {
	return 0, nil
}

func (m *mockUnitRepository) DecrementStock(ctx context.Context, id string, quantity int64) error {
	return nil
}

func (m *mockUnitRepository) IncrementStock(ctx context.Context, id string, quantity int64) error {
	return nil
}

func (m *mockUnitRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return fn(nil)
}

type mockQuotaCounter struct {
	initFunc      func(ctx context.Context, unitID string, amount int64) error
	remainingFunc func(ctx context.Context, unitID string) (int64, error)
}

func (m *mockQuotaCounter) Init(ctx context.Context, unitID string, amount int64) error {
	if m.initFunc != nil {
		return m.initFunc(ctx, unitID, amount)
	}
	return nil
}

func (m *mockQuotaCounter) Remaining(ctx context.Context, unitID string) (int64, error) {
	if m.remainingFunc != nil {
		return m.remainingFunc(ctx, unitID)
	}
	return 0, quota.ErrUninitialized
}

func newTestService(repo *mockUnitRepository, counter *mockQuotaCounter) UnitService {
	log := logger.New(logger.Config{
		Level:     "error",
		Format:    logger.JSON,
		AddSource: false,
		Service:   "test",
	})

	return NewUnitService(repo, validator.NewUnitValidator(), counter, &config.Config{Log: log})
}

func validUnit() *model.InventoryUnit {
	return &model.InventoryUnit{
		Name:          "Launch coupon",
		TotalQuantity: 100,
		StartTime:     time.Now().Add(time.Hour),
		EndTime:       time.Now().Add(2 * time.Hour),
	}
}

func TestCreate_SeedsQuotaCounter(t *testing.T) {
	var seededID string
	var seededAmount int64
	counter := &mockQuotaCounter{
		initFunc: func(ctx context.Context, unitID string, amount int64) error {
			seededID = unitID
			seededAmount = amount
			return nil
		},
	}
	svc := newTestService(&mockUnitRepository{}, counter)

	unit := validUnit()
	if err := svc.Create(context.Background(), unit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if seededID != testUnitID {
		t.Errorf("expected counter seeded for %s, got %s", testUnitID, seededID)
	}
	if seededAmount != 100 {
		t.Errorf("expected counter seeded with 100, got %d", seededAmount)
	}
}

func TestCreate_ValidationFailure(t *testing.T) {
	created := false
	repo := &mockUnitRepository{
		createFunc: func(ctx context.Context, unit *model.InventoryUnit) error {
			created = true
			return nil
		},
	}
	svc := newTestService(repo, &mockQuotaCounter{})

	unit := validUnit()
	unit.EndTime = unit.StartTime.Add(-time.Minute)

	err := svc.Create(context.Background(), unit)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if code := apperrors.AsAppError(err).Code; code != apperrors.CodeValidation {
		t.Errorf("expected code %s, got %s", apperrors.CodeValidation, code)
	}
	if created {
		t.Error("expected no repository write for invalid unit")
	}
}

func TestCreate_QuotaSeedFailure(t *testing.T) {
	counter := &mockQuotaCounter{
		initFunc: func(ctx context.Context, unitID string, amount int64) error {
			return errors.New("connection refused")
		},
	}
	svc := newTestService(&mockUnitRepository{}, counter)

	err := svc.Create(context.Background(), validUnit())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apperrors.AsAppError(err).Code; code != apperrors.CodeInternal {
		t.Errorf("expected code %s, got %s", apperrors.CodeInternal, code)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	svc := newTestService(&mockUnitRepository{}, &mockQuotaCounter{})

	_, err := svc.GetByID(context.Background(), testUnitID)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apperrors.AsAppError(err).Code; code != apperrors.CodeNotFound {
		t.Errorf("expected code %s, got %s", apperrors.CodeNotFound, code)
	}
}

func TestRemaining_ReadsCounter(t *testing.T) {
	counter := &mockQuotaCounter{
		remainingFunc: func(ctx context.Context, unitID string) (int64, error) {
			return 42, nil
		},
	}
	svc := newTestService(&mockUnitRepository{}, counter)

	remaining, err := svc.Remaining(context.Background(), testUnitID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remaining != 42 {
		t.Errorf("expected 42, got %d", remaining)
	}
}

func TestRemaining_FallsBackToDocument(t *testing.T) {
	repo := &mockUnitRepository{
		findByIDFunc: func(ctx context.Context, id string) (*model.InventoryUnit, error) {
			return &model.InventoryUnit{ID: id, RemainingQuantity: 7}, nil
		},
	}
	svc := newTestService(repo, &mockQuotaCounter{})

	remaining, err := svc.Remaining(context.Background(), testUnitID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remaining != 7 {
		t.Errorf("expected document fallback 7, got %d", remaining)
	}
}

func TestRemaining_CounterFailure(t *testing.T) {
	counter := &mockQuotaCounter{
		remainingFunc: func(ctx context.Context, unitID string) (int64, error) {
			return 0, errors.New("connection refused")
		},
	}
	svc := newTestService(&mockUnitRepository{}, counter)

	_, err := svc.Remaining(context.Background(), testUnitID)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apperrors.AsAppError(err).Code; code != apperrors.CodeInternal {
		t.Errorf("expected code %s, got %s", apperrors.CodeInternal, code)
	}
}
