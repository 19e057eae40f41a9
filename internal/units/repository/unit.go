package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	unitserrors "claimgate/internal/units/errors"
	"claimgate/pkg/config"
	mongotx "claimgate/pkg/db/mongo"
	"claimgate/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "InventoryUnits"
)

type mongoUnitRepository struct {
	cfg        *config.Config
	db         *mongo.Database
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

type UnitRepository interface {
	Create(ctx context.Context, unit *model.InventoryUnit) error
	FindByID(ctx context.Context, id string) (*model.InventoryUnit, error)
	FindAll(ctx context.Context, limit int, offset int64) ([]*model.InventoryUnit, error)
	Count(ctx context.Context) (int64, error)
	DecrementStock(ctx context.Context, id string, quantity int64) error
	IncrementStock(ctx context.Context, id string, quantity int64) error
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

func NewMongoUnitRepository(cfg *config.Config) UnitRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoUnitRepository{
		cfg:        cfg,
		db:         db,
		collection: db.Collection(CollectionName),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// withTimeout wraps the context with a timeout if not already in a transaction.
// When inside a transaction (SessionContext), returns the original context
// unchanged with a no-op cancel function, as wrapping a SessionContext would
// break transaction semantics.
func (r *mongoUnitRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}

	remaining := time.Until(deadline)
	if remaining < timeout {
		return context.WithTimeout(ctx, remaining)
	}

	return context.WithTimeout(ctx, timeout)
}

func (r *mongoUnitRepository) Create(ctx context.Context, unit *model.InventoryUnit) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	unit.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	unit.RemainingQuantity = unit.TotalQuantity

	result, err := r.collection.InsertOne(ctx, unit)
	if err != nil {
		return fmt.Errorf("failed to create inventory unit: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		unit.ID = oid.Hex()
	}
	return nil
}

func (r *mongoUnitRepository) FindByID(ctx context.Context, id string) (*model.InventoryUnit, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", unitserrors.ErrInvalidID, id)
	}

	var unit model.InventoryUnit
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&unit)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, unitserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find inventory unit: %w", err)
	}

	return &unit, nil
}

func (r *mongoUnitRepository) FindAll(ctx context.Context, limit int, offset int64) ([]*model.InventoryUnit, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find inventory units: %w", err)
	}
	defer cursor.Close(ctx)

	var units []*model.InventoryUnit
	if err = cursor.All(ctx, &units); err != nil {
		return nil, fmt.Errorf("failed to decode inventory units: %w", err)
	}

	return units, nil
}

func (r *mongoUnitRepository) Count(ctx context.Context) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count inventory units: %w", err)
	}

	return count, nil
}

// DecrementStock subtracts quantity from remaining_quantity only when enough
// stock is left. The filter carries the stock condition, so a concurrent
// writer that drained the unit makes this a no-op and ErrStockConflict is
// returned instead of driving the counter negative.
func (r *mongoUnitRepository) DecrementStock(ctx context.Context, id string, quantity int64) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", unitserrors.ErrInvalidID, id)
	}

	filter := bson.M{
		"_id":                objectID,
		"remaining_quantity": bson.M{"$gte": quantity},
	}
	update := bson.M{"$inc": bson.M{"remaining_quantity": -quantity}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to decrement unit stock: %w", err)
	}

	if result.MatchedCount == 0 {
		exists, err := r.exists(ctx, objectID)
		if err != nil {
			return err
		}
		if !exists {
			return unitserrors.ErrNotFound
		}
		return unitserrors.ErrStockConflict
	}

	return nil
}

func (r *mongoUnitRepository) IncrementStock(ctx context.Context, id string, quantity int64) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", unitserrors.ErrInvalidID, id)
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": objectID},
		bson.M{"$inc": bson.M{"remaining_quantity": quantity}},
	)
	if err != nil {
		return fmt.Errorf("failed to increment unit stock: %w", err)
	}

	if result.MatchedCount == 0 {
		return unitserrors.ErrNotFound
	}

	return nil
}

func (r *mongoUnitRepository) exists(ctx context.Context, objectID primitive.ObjectID) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": objectID})
	if err != nil {
		return false, fmt.Errorf("failed to check unit existence: %w", err)
	}
	return count > 0, nil
}

func (r *mongoUnitRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}
