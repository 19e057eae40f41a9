package service

import (
	"context"
	"errors"

	asyncqerrors "claimgate/internal/asyncq/errors"
	"claimgate/internal/asyncq/repository"
	claimsvalidator "claimgate/internal/claims/validator"
	"claimgate/pkg/config"
	apperrors "claimgate/pkg/errors"
	"claimgate/pkg/kafka"
	"claimgate/pkg/model"

	"github.com/google/uuid"
)

// Topic and consumer-group names for the async claim pipeline.
const (
	TopicClaimRequests = "claim-requests"
	GroupClaimWorkers  = "claim-workers"
	GroupDLTWorkers    = "claim-workers-dlt"
)

// Publisher is the producer seam. Satisfied by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

type RequestService interface {
	Submit(ctx context.Context, input *model.ClaimInput) (*model.ClaimRequest, error)
	Poll(ctx context.Context, id string) (*model.ClaimRequest, error)
}

type requestService struct {
	repo      repository.RequestRepository
	validator *claimsvalidator.ClaimValidator
	publisher Publisher
	cfg       *config.Config
}

func NewRequestService(
	repo repository.RequestRepository,
	validator *claimsvalidator.ClaimValidator,
	publisher Publisher,
	cfg *config.Config,
) RequestService {
	return &requestService{
		repo:      repo,
		validator: validator,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Submit records a PENDING request and enqueues it. The record is written
// before the publish so a poll for the returned id always finds a row, and
// a failed publish resolves the row FAIL instead of leaving it dangling.
func (s *requestService) Submit(ctx context.Context, input *model.ClaimInput) (*model.ClaimRequest, error) {
	if input.Quantity <= 0 {
		input.Quantity = 1
	}
	if err := s.validator.ValidateInput(input); err != nil {
		s.cfg.Log.Warn("Claim request validation failed", "error", err)
		return nil, apperrors.Validation("Claim request validation failed", map[string]any{"error": err.Error()})
	}

	request := &model.ClaimRequest{
		ID:       uuid.New().String(),
		UserID:   input.UserID,
		UnitID:   input.UnitID,
		Quantity: input.Quantity,
	}

	if err := s.repo.Insert(ctx, request); err != nil {
		s.cfg.Log.Error("Failed to record claim request", "error", err)
		return nil, apperrors.Internal("Failed to record claim request", err)
	}

	payload := model.ClaimRequestPayload{
		RequestID: request.ID,
		UserID:    request.UserID,
		UnitID:    request.UnitID,
		Quantity:  request.Quantity,
	}

	msg := kafka.NewMessage().
		WithKey(request.UnitID).
		WithValue(payload).
		WithRequestID(request.ID).
		Build()

	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.cfg.Log.Error("Failed to enqueue claim request", "request_id", request.ID, "error", err)
		if resolveErr := s.repo.Resolve(ctx, request.ID, model.OutcomeFail, "", apperrors.CodeUnavailable); resolveErr != nil {
			s.cfg.Log.Error("Failed to fail unqueued claim request", "request_id", request.ID, "error", resolveErr)
		}
		return nil, apperrors.Unavailable("claim queue")
	}

	s.cfg.Log.Info("Claim request enqueued",
		"request_id", request.ID,
		"user_id", request.UserID,
		"unit_id", request.UnitID,
		"quantity", request.Quantity,
	)
	return request, nil
}

func (s *requestService) Poll(ctx context.Context, id string) (*model.ClaimRequest, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Request ID cannot be empty")
	}

	request, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, asyncqerrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Claim request", id)
		}
		return nil, apperrors.Internal("Failed to retrieve claim request", err)
	}

	return request, nil
}
