package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	asyncqerrors "claimgate/internal/asyncq/errors"
	"claimgate/pkg/config"
	"claimgate/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	CollectionName = "ClaimRequests"
)

type mongoRequestRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

type RequestRepository interface {
	Insert(ctx context.Context, request *model.ClaimRequest) error
	FindByID(ctx context.Context, id string) (*model.ClaimRequest, error)
	Resolve(ctx context.Context, id string, outcome model.RequestOutcome, claimID, failureCode string) error
}

func NewMongoRequestRepository(cfg *config.Config) RequestRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoRequestRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

func (r *mongoRequestRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
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

func (r *mongoRequestRepository) Insert(ctx context.Context, request *model.ClaimRequest) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	request.Outcome = model.OutcomePending
	request.SubmittedAt = time.Now().UTC().Truncate(time.Millisecond)

	if _, err := r.collection.InsertOne(ctx, request); err != nil {
		return fmt.Errorf("failed to insert claim request: %w", err)
	}
	return nil
}

func (r *mongoRequestRepository) FindByID(ctx context.Context, id string) (*model.ClaimRequest, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var request model.ClaimRequest
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&request)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, asyncqerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find claim request: %w", err)
	}

	return &request, nil
}

// Resolve moves a request out of PENDING exactly once. The pending filter
// makes a second resolution a no-op that surfaces as ErrAlreadyResolved.
func (r *mongoRequestRepository) Resolve(ctx context.Context, id string, outcome model.RequestOutcome, claimID, failureCode string) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	set := bson.M{
		"outcome":     outcome,
		"resolved_at": now,
	}
	if claimID != "" {
		set["claim_id"] = claimID
	}
	if failureCode != "" {
		set["failure_code"] = failureCode
	}

	filter := bson.M{
		"_id":     id,
		"outcome": model.OutcomePending,
	}

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to resolve claim request: %w", err)
	}

	if result.MatchedCount == 0 {
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("failed to check claim request existence: %w", err)
		}
		if count == 0 {
			return asyncqerrors.ErrNotFound
		}
		return asyncqerrors.ErrAlreadyResolved
	}

	return nil
}
