package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	claimserrors "claimgate/internal/claims/errors"
	"claimgate/pkg/config"
	mongotx "claimgate/pkg/db/mongo"
	"claimgate/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Claims"
)

type mongoClaimRepository struct {
	cfg        *config.Config
	db         *mongo.Database
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

type ClaimRepository interface {
	Insert(ctx context.Context, claim *model.Claim) error
	FindByID(ctx context.Context, id string) (*model.Claim, error)
	FindByUserAndUnit(ctx context.Context, userID, unitID string) (*model.Claim, error)
	FindByUser(ctx context.Context, userID string, limit int, offset int64) ([]*model.Claim, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	UpdateStatus(ctx context.Context, id string, from, to model.ClaimStatus) error
	SumGrantedByUnit(ctx context.Context, unitID string) (int64, error)
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

func NewMongoClaimRepository(cfg *config.Config) ClaimRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoClaimRepository{
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
func (r *mongoClaimRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
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

// Insert writes one ledger row. The unique (user_id, unit_id) index turns a
// racing duplicate into ErrAlreadyClaimed instead of a second grant.
func (r *mongoClaimRepository) Insert(ctx context.Context, claim *model.Claim) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	claim.CreatedAt = now
	claim.UpdatedAt = now

	result, err := r.collection.InsertOne(ctx, claim)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return claimserrors.ErrAlreadyClaimed
		}
		return fmt.Errorf("failed to insert claim: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		claim.ID = oid.Hex()
	}
	return nil
}

func (r *mongoClaimRepository) FindByID(ctx context.Context, id string) (*model.Claim, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", claimserrors.ErrInvalidID, id)
	}

	var claim model.Claim
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&claim)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, claimserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find claim: %w", err)
	}

	return &claim, nil
}

func (r *mongoClaimRepository) FindByUserAndUnit(ctx context.Context, userID, unitID string) (*model.Claim, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"user_id": userID,
		"unit_id": unitID,
	}

	var claim model.Claim
	err := r.collection.FindOne(ctx, filter).Decode(&claim)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, claimserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find claim by user and unit: %w", err)
	}

	return &claim, nil
}

func (r *mongoClaimRepository) FindByUser(ctx context.Context, userID string, limit int, offset int64) ([]*model.Claim, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find claims by user: %w", err)
	}
	defer cursor.Close(ctx)

	var claims []*model.Claim
	if err = cursor.All(ctx, &claims); err != nil {
		return nil, fmt.Errorf("failed to decode claims: %w", err)
	}

	return claims, nil
}

func (r *mongoClaimRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("failed to count claims by user: %w", err)
	}
	return count, nil
}

// UpdateStatus moves a claim between statuses. The current status rides in
// the filter so a stale transition matches nothing.
func (r *mongoClaimRepository) UpdateStatus(ctx context.Context, id string, from, to model.ClaimStatus) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", claimserrors.ErrInvalidID, id)
	}

	filter := bson.M{
		"_id":    objectID,
		"status": from,
	}
	update := bson.M{
		"$set": bson.M{
			"status":     to,
			"updated_at": time.Now().UTC().Truncate(time.Millisecond),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update claim status: %w", err)
	}

	if result.MatchedCount == 0 {
		exists, err := r.existsByID(ctx, objectID)
		if err != nil {
			return err
		}
		if !exists {
			return claimserrors.ErrNotFound
		}
		return claimserrors.ErrInvalidTransition
	}

	return nil
}

func (r *mongoClaimRepository) SumGrantedByUnit(ctx context.Context, unitID string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"unit_id": unitID,
			"status":  bson.M{"$in": []model.ClaimStatus{model.ClaimStatusGranted, model.ClaimStatusUsed}},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$quantity"},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate granted quantity: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("failed to decode granted quantity: %w", err)
	}

	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

func (r *mongoClaimRepository) existsByID(ctx context.Context, objectID primitive.ObjectID) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": objectID})
	if err != nil {
		return false, fmt.Errorf("failed to check claim existence: %w", err)
	}
	return count > 0, nil
}

func (r *mongoClaimRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}
