package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	asyncqerrors "claimgate/internal/asyncq/errors"
	claimsvalidator "claimgate/internal/claims/validator"
	"claimgate/pkg/config"
	apperrors "claimgate/pkg/errors"
	"claimgate/pkg/kafka"
	"claimgate/pkg/logger"
	"claimgate/pkg/model"
)

const (
	testUnitID    = "64a1f0c2b3d4e5f601234567"
	testClaimID   = "64a1f0c2b3d4e5f6012345ff"
	testRequestID = "9f3b2a10-0000-4000-8000-000000000001"
)

// Mocks for testing

type resolvedCall struct {
	id          string
	outcome     model.RequestOutcome
	claimID     string
	failureCode string
}

type mockRequestRepository struct {
	insertFunc  func(ctx context.Context, request *model.ClaimRequest) error
	findFunc    func(ctx context.Context, id string) (*model.ClaimRequest, error)
	resolveFunc func(ctx context.Context, id string, outcome model.RequestOutcome, claimID, failureCode string) error

	inserted []*model.ClaimRequest
	resolved []resolvedCall
}

func (m *mockRequestRepository) Insert(ctx context.Context, request *model.ClaimRequest) error {
	if m.insertFunc != nil {
		return m.insertFunc(ctx, request)
	}
	m.inserted = append(m.inserted, request)
	return nil
}

func (m *mockRequestRepository) FindByID(ctx context.Context, id string) (*model.ClaimRequest, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, id)
	}
	return nil, asyncqerrors.ErrNotFound
}

func (m *mockRequestRepository) Resolve(ctx context.Context, id string, outcome model.RequestOutcome, claimID, failureCode string) error {
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, id, outcome, claimID, failureCode)
	}
	m.resolved = append(m.resolved, resolvedCall{id: id, outcome: outcome, claimID: claimID, failureCode: failureCode})
	return nil
}

type mockPublisher struct {
	publishFunc func(ctx context.Context, msg kafka.Message) error
	published   []kafka.Message
}

func (m *mockPublisher) Publish(ctx context.Context, msg kafka.Message) error {
	if m.publishFunc != nil {
		return m.publishFunc(ctx, msg)
	}
	m.published = append(m.published, msg)
	return nil
}

type mockClaimService struct {
	claimFunc            func(ctx context.Context, input *model.ClaimInput) (*model.Claim, error)
	getByUserAndUnitFunc func(ctx context.Context, userID, unitID string) (*model.Claim, error)
}

func (m *mockClaimService) Claim(ctx context.Context, input *model.ClaimInput) (*model.Claim, error) {
	if m.claimFunc != nil {
		return m.claimFunc(ctx, input)
	}
	return &model.Claim{ID: testClaimID, UserID: input.UserID, UnitID: input.UnitID, Status: model.ClaimStatusGranted}, nil
}

func (m *mockClaimService) GetByID(ctx context.Context, id string) (*model.Claim, error) {
	return nil, apperrors.NotFoundWithID("Claim", id)
}

func (m *mockClaimService) GetByUserAndUnit(ctx context.Context, userID, unitID string) (*model.Claim, error) {
	if m.getByUserAndUnitFunc != nil {
		return m.getByUserAndUnitFunc(ctx, userID, unitID)
	}
	return nil, apperrors.NotFound("Claim not found")
}

func (m *mockClaimService) GetByUser(ctx context.Context, userID string, limit int, offset int64) ([]*model.Claim, int64, error) {
	return nil, 0, nil
}

func (m *mockClaimService) Use(ctx context.Context, id string) error {
	return nil
}

func (m *mockClaimService) Cancel(ctx context.Context, id string) error {
	return nil
}

func testConfig() *config.Config {
	log := logger.New(logger.Config{
		Level:     "error",
		Format:    logger.JSON,
		AddSource: false,
		Service:   "test",
	})
	return &config.Config{Log: log}
}

func newTestRequestService(repo *mockRequestRepository, publisher *mockPublisher) RequestService {
	return NewRequestService(repo, claimsvalidator.NewClaimValidator(), publisher, testConfig())
}

func requestMessage(t *testing.T, payload model.ClaimRequestPayload, headers map[string]string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	return kafka.Message{Value: value, Headers: headers, Topic: TopicClaimRequests}
}

func TestSubmit_RecordsBeforePublish(t *testing.T) {
	repo := &mockRequestRepository{}
	publisher := &mockPublisher{}
	svc := newTestRequestService(repo, publisher)

	request, err := svc.Submit(context.Background(), &model.ClaimInput{
		UserID: "user-1",
		UnitID: testUnitID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if request.ID == "" {
		t.Fatal("expected generated request id")
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected one inserted request, got %d", len(repo.inserted))
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected one published message, got %d", len(publisher.published))
	}

	msg := publisher.published[0]
	if msg.Key != testUnitID {
		t.Errorf("expected message keyed by unit id, got %s", msg.Key)
	}
	if msg.GetRequestID() != request.ID {
		t.Errorf("expected request id header %s, got %s", request.ID, msg.GetRequestID())
	}

	var payload model.ClaimRequestPayload
	if err := msg.DecodeValue(&payload); err != nil {
		t.Fatalf("failed to decode published payload: %v", err)
	}
	if payload.RequestID != request.ID || payload.UnitID != testUnitID || payload.Quantity != 1 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestSubmit_PublishFailureResolvesFail(t *testing.T) {
	repo := &mockRequestRepository{}
	publisher := &mockPublisher{
		publishFunc: func(ctx context.Context, msg kafka.Message) error {
			return errors.New("broker unreachable")
		},
	}
	svc := newTestRequestService(repo, publisher)

	_, err := svc.Submit(context.Background(), &model.ClaimInput{
		UserID: "user-1",
		UnitID: testUnitID,
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apperrors.AsAppError(err).Code; code != apperrors.CodeUnavailable {
		t.Errorf("expected code %s, got %s", apperrors.CodeUnavailable, code)
	}

	if len(repo.resolved) != 1 {
		t.Fatalf("expected one resolution, got %d", len(repo.resolved))
	}
	res := repo.resolved[0]
	if res.outcome != model.OutcomeFail || res.failureCode != apperrors.CodeUnavailable {
		t.Errorf("expected FAIL/%s resolution, got %s/%s", apperrors.CodeUnavailable, res.outcome, res.failureCode)
	}
}

func TestSubmit_ValidationFailure(t *testing.T) {
	repo := &mockRequestRepository{}
	svc := newTestRequestService(repo, &mockPublisher{})

	_, err := svc.Submit(context.Background(), &model.ClaimInput{
		UserID: "user-1",
		UnitID: "not-an-object-id",
	})
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if code := apperrors.AsAppError(err).Code; code != apperrors.CodeValidation {
		t.Errorf("expected code %s, got %s", apperrors.CodeValidation, code)
	}
	if len(repo.inserted) != 0 {
		t.Errorf("expected no insert for invalid input, got %d", len(repo.inserted))
	}
}

func TestPoll_NotFound(t *testing.T) {
	svc := newTestRequestService(&mockRequestRepository{}, &mockPublisher{})

	_, err := svc.Poll(context.Background(), testRequestID)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apperrors.AsAppError(err).Code; code != apperrors.CodeNotFound {
		t.Errorf("expected code %s, got %s", apperrors.CodeNotFound, code)
	}
}

func TestHandle_GrantResolvesSuccess(t *testing.T) {
	repo := &mockRequestRepository{}
	handler := NewConsumerHandler(&mockClaimService{}, repo, testConfig())

	msg := requestMessage(t, model.ClaimRequestPayload{
		RequestID: testRequestID,
		UserID:    "user-1",
		UnitID:    testUnitID,
		Quantity:  1,
	}, nil)

	if err := handler.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.resolved) != 1 {
		t.Fatalf("expected one resolution, got %d", len(repo.resolved))
	}
	res := repo.resolved[0]
	if res.id != testRequestID || res.outcome != model.OutcomeSuccess || res.claimID != testClaimID {
		t.Errorf("unexpected resolution: %+v", res)
	}
}

func TestHandle_RetryableErrorIsReturned(t *testing.T) {
	repo := &mockRequestRepository{}
	claims := &mockClaimService{
		claimFunc: func(ctx context.Context, input *model.ClaimInput) (*model.Claim, error) {
			return nil, apperrors.Throttled("Unit is busy, please retry")
		},
	}
	handler := NewConsumerHandler(claims, repo, testConfig())

	msg := requestMessage(t, model.ClaimRequestPayload{
		RequestID: testRequestID,
		UserID:    "user-1",
		UnitID:    testUnitID,
	}, nil)

	err := handler.Handle(context.Background(), msg)
	if err == nil {
		t.Fatal("expected retryable error to be returned, got nil")
	}
	if len(repo.resolved) != 0 {
		t.Errorf("expected no resolution for retryable failure, got %d", len(repo.resolved))
	}
}

func TestHandle_TerminalErrorResolvesFail(t *testing.T) {
	repo := &mockRequestRepository{}
	claims := &mockClaimService{
		claimFunc: func(ctx context.Context, input *model.ClaimInput) (*model.Claim, error) {
			return nil, apperrors.Exhausted("Unit is out of stock")
		},
	}
	handler := NewConsumerHandler(claims, repo, testConfig())

	msg := requestMessage(t, model.ClaimRequestPayload{
		RequestID: testRequestID,
		UserID:    "user-1",
		UnitID:    testUnitID,
	}, nil)

	if err := handler.Handle(context.Background(), msg); err != nil {
		t.Fatalf("expected terminal failure handled in place, got %v", err)
	}

	if len(repo.resolved) != 1 {
		t.Fatalf("expected one resolution, got %d", len(repo.resolved))
	}
	res := repo.resolved[0]
	if res.outcome != model.OutcomeFail || res.failureCode != apperrors.CodeExhausted {
		t.Errorf("expected FAIL/%s resolution, got %s/%s", apperrors.CodeExhausted, res.outcome, res.failureCode)
	}
}

// A redelivered message whose first delivery already granted the claim
// must resolve SUCCESS against the ledger, not FAIL on the conflict.
func TestHandle_ConflictRedeliveryResolvesFromLedger(t *testing.T) {
	repo := &mockRequestRepository{}
	claims := &mockClaimService{
		claimFunc: func(ctx context.Context, input *model.ClaimInput) (*model.Claim, error) {
			return nil, apperrors.Conflict("User has already claimed this unit")
		},
		getByUserAndUnitFunc: func(ctx context.Context, userID, unitID string) (*model.Claim, error) {
			return &model.Claim{ID: testClaimID, UserID: userID, UnitID: unitID}, nil
		},
	}
	handler := NewConsumerHandler(claims, repo, testConfig())

	msg := requestMessage(t, model.ClaimRequestPayload{
		RequestID: testRequestID,
		UserID:    "user-1",
		UnitID:    testUnitID,
	}, nil)

	if err := handler.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.resolved) != 1 {
		t.Fatalf("expected one resolution, got %d", len(repo.resolved))
	}
	res := repo.resolved[0]
	if res.outcome != model.OutcomeSuccess || res.claimID != testClaimID {
		t.Errorf("expected SUCCESS resolution with ledger claim id, got %+v", res)
	}
}

func TestHandle_AlreadyResolvedIsIdempotent(t *testing.T) {
	repo := &mockRequestRepository{
		resolveFunc: func(ctx context.Context, id string, outcome model.RequestOutcome, claimID, failureCode string) error {
			return asyncqerrors.ErrAlreadyResolved
		},
	}
	handler := NewConsumerHandler(&mockClaimService{}, repo, testConfig())

	msg := requestMessage(t, model.ClaimRequestPayload{
		RequestID: testRequestID,
		UserID:    "user-1",
		UnitID:    testUnitID,
	}, nil)

	if err := handler.Handle(context.Background(), msg); err != nil {
		t.Fatalf("expected already-resolved to be ignored, got %v", err)
	}
}

func TestHandle_MissingRequestID(t *testing.T) {
	repo := &mockRequestRepository{}
	handler := NewConsumerHandler(&mockClaimService{}, repo, testConfig())

	msg := requestMessage(t, model.ClaimRequestPayload{
		UserID: "user-1",
		UnitID: testUnitID,
	}, nil)

	err := handler.Handle(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if code := apperrors.AsAppError(err).Code; code != apperrors.CodeInvalidInput {
		t.Errorf("expected code %s, got %s", apperrors.CodeInvalidInput, code)
	}
}

func TestHandleDeadLetter_ResolvesByHeader(t *testing.T) {
	repo := &mockRequestRepository{}
	handler := NewConsumerHandler(&mockClaimService{}, repo, testConfig())

	msg := kafka.Message{
		Value:   []byte("{not json"),
		Headers: map[string]string{kafka.HeaderRequestID: testRequestID},
	}

	if err := handler.HandleDeadLetter(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.resolved) != 1 {
		t.Fatalf("expected one resolution, got %d", len(repo.resolved))
	}
	res := repo.resolved[0]
	if res.id != testRequestID || res.outcome != model.OutcomeFail || res.failureCode != apperrors.CodeInternal {
		t.Errorf("unexpected resolution: %+v", res)
	}
}

func TestHandleDeadLetter_FallsBackToPayload(t *testing.T) {
	repo := &mockRequestRepository{}
	handler := NewConsumerHandler(&mockClaimService{}, repo, testConfig())

	msg := requestMessage(t, model.ClaimRequestPayload{
		RequestID: testRequestID,
		UserID:    "user-1",
		UnitID:    testUnitID,
	}, nil)

	if err := handler.HandleDeadLetter(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.resolved) != 1 || repo.resolved[0].id != testRequestID {
		t.Errorf("expected resolution keyed by payload request id, got %+v", repo.resolved)
	}
}

func TestHandleDeadLetter_NoRequestID(t *testing.T) {
	repo := &mockRequestRepository{}
	handler := NewConsumerHandler(&mockClaimService{}, repo, testConfig())

	msg := kafka.Message{Value: []byte("{not json"), Headers: map[string]string{}}

	if err := handler.HandleDeadLetter(context.Background(), msg); err != nil {
		t.Fatalf("expected unidentifiable message dropped, got %v", err)
	}
	if len(repo.resolved) != 0 {
		t.Errorf("expected no resolution, got %d", len(repo.resolved))
	}
}
