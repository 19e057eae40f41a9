package service

import (
	"context"
	"errors"

	asyncqerrors "claimgate/internal/asyncq/errors"
	"claimgate/internal/asyncq/repository"
	claimssvc "claimgate/internal/claims/service"
	"claimgate/pkg/config"
	apperrors "claimgate/pkg/errors"
	"claimgate/pkg/kafka"
	"claimgate/pkg/model"
)

// ConsumerHandler drains the claim-requests topic: each message runs the
// full claim sequence and resolves the request record exactly once.
type ConsumerHandler struct {
	claims claimssvc.ClaimService
	repo   repository.RequestRepository
	cfg    *config.Config
}

func NewConsumerHandler(claims claimssvc.ClaimService, repo repository.RequestRepository, cfg *config.Config) *ConsumerHandler {
	return &ConsumerHandler{
		claims: claims,
		repo:   repo,
		cfg:    cfg,
	}
}

// Handle processes one queued claim request. Transient failures are
// returned to the consumer for its bounded retry and eventual
// dead-lettering; terminal claim outcomes resolve the request FAIL here
// and the message is considered processed.
func (h *ConsumerHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var payload model.ClaimRequestPayload
	if err := msg.DecodeValue(&payload); err != nil {
		h.cfg.Log.Error("Undecodable claim request message",
			"event_id", msg.GetEventID(),
			"error", err,
		)
		return apperrors.InvalidInput("undecodable claim request payload")
	}
	if payload.RequestID == "" {
		return apperrors.InvalidInput("claim request payload missing request id")
	}

	input := &model.ClaimInput{
		UserID:   payload.UserID,
		UnitID:   payload.UnitID,
		Quantity: payload.Quantity,
	}

	claim, err := h.claims.Claim(ctx, input)
	if err != nil {
		if apperrors.IsRetryable(err) {
			return err
		}
		appErr := apperrors.AsAppError(err)
		// A redelivered message whose first delivery already granted the
		// claim comes back as a conflict. Resolve it against the ledger
		// instead of failing a request that actually succeeded.
		if appErr.Code == apperrors.CodeConflict {
			if existing, lookupErr := h.claims.GetByUserAndUnit(ctx, payload.UserID, payload.UnitID); lookupErr == nil {
				return h.resolveSuccess(ctx, payload.RequestID, existing.ID)
			}
		}
		return h.resolveFail(ctx, payload.RequestID, appErr.Code)
	}

	return h.resolveSuccess(ctx, payload.RequestID, claim.ID)
}

func (h *ConsumerHandler) resolveSuccess(ctx context.Context, requestID, claimID string) error {
	if err := h.repo.Resolve(ctx, requestID, model.OutcomeSuccess, claimID, ""); err != nil {
		if errors.Is(err, asyncqerrors.ErrAlreadyResolved) {
			return nil
		}
		// The claim is granted; losing the resolution would strand the
		// poller on PENDING, so surface the error for retry.
		h.cfg.Log.Error("Failed to resolve claim request",
			"request_id", requestID,
			"claim_id", claimID,
			"error", err,
		)
		return apperrors.Internal("Failed to resolve claim request", err)
	}

	h.cfg.Log.Info("Claim request resolved",
		"request_id", requestID,
		"claim_id", claimID,
		"outcome", model.OutcomeSuccess,
	)
	return nil
}

// HandleDeadLetter resolves dead-lettered requests FAIL so pollers never
// wait on a message that left the main topic. Resolution is keyed strictly
// by the request id carried in the payload and header.
func (h *ConsumerHandler) HandleDeadLetter(ctx context.Context, msg kafka.Message) error {
	requestID := msg.GetRequestID()
	if requestID == "" {
		var payload model.ClaimRequestPayload
		if err := msg.DecodeValue(&payload); err == nil {
			requestID = payload.RequestID
		}
	}
	if requestID == "" {
		h.cfg.Log.Error("Dead-lettered message has no request id", "event_id", msg.GetEventID())
		return nil
	}

	return h.resolveFail(ctx, requestID, apperrors.CodeInternal)
}

func (h *ConsumerHandler) resolveFail(ctx context.Context, requestID, failureCode string) error {
	err := h.repo.Resolve(ctx, requestID, model.OutcomeFail, "", failureCode)
	if err != nil {
		if errors.Is(err, asyncqerrors.ErrAlreadyResolved) {
			return nil
		}
		h.cfg.Log.Error("Failed to fail claim request",
			"request_id", requestID,
			"failure_code", failureCode,
			"error", err,
		)
		return apperrors.Internal("Failed to fail claim request", err)
	}

	h.cfg.Log.Info("Claim request resolved",
		"request_id", requestID,
		"failure_code", failureCode,
		"outcome", model.OutcomeFail,
	)
	return nil
}
