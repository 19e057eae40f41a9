package integrationtests

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"claimgate/pkg/model"
	"claimgate/test/integration/testutil"
)

// These tests exercise a running claims service with its Mongo, Redis and
// Kafka backends. Point TEST_SERVER_URL at the service to enable them.

var httpClient *testutil.Client

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

func TestMain(m *testing.M) {
	serverURL := os.Getenv("TEST_SERVER_URL")
	if serverURL == "" {
		os.Exit(0)
	}
	httpClient = testutil.NewClient(serverURL)
	os.Exit(m.Run())
}

func createUnit(t *testing.T, total int64) *model.InventoryUnit {
	t.Helper()

	resp := httpClient.POST(t, "/api/v1/units", model.InventoryUnit{
		Name:          fmt.Sprintf("integration-%d", time.Now().UnixNano()),
		TotalQuantity: total,
		StartTime:     time.Now().Add(-time.Minute),
		EndTime:       time.Now().Add(time.Hour),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("failed to create unit: %d %s", resp.StatusCode, resp.Body)
	}

	var envelope dataEnvelope[*model.InventoryUnit]
	if err := resp.DecodeJSON(&envelope); err != nil {
		t.Fatalf("failed to decode unit: %v", err)
	}
	return envelope.Data
}

func TestClaimLifecycle(t *testing.T) {
	httpClient.WaitForHealthy(t, 15*time.Second)
	unit := createUnit(t, 5)
	userID := fmt.Sprintf("user-%d", time.Now().UnixNano())

	resp := httpClient.POST(t, "/api/v1/claims", model.ClaimInput{
		UserID: userID,
		UnitID: unit.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", resp.StatusCode, resp.Body)
	}

	var created dataEnvelope[*model.Claim]
	if err := resp.DecodeJSON(&created); err != nil {
		t.Fatalf("failed to decode claim: %v", err)
	}
	claim := created.Data
	if claim.Status != model.ClaimStatusGranted {
		t.Errorf("expected granted claim, got %s", claim.Status)
	}

	resp = httpClient.POST(t, "/api/v1/claims", model.ClaimInput{
		UserID: userID,
		UnitID: unit.ID,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 on duplicate claim, got %d", resp.StatusCode)
	}

	resp = httpClient.GET(t, "/api/v1/units/id/"+unit.ID+"/remaining")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var remaining dataEnvelope[struct {
		Remaining int64 `json:"remaining"`
	}]
	if err := resp.DecodeJSON(&remaining); err != nil {
		t.Fatalf("failed to decode remaining: %v", err)
	}
	if remaining.Data.Remaining != 4 {
		t.Errorf("expected 4 remaining, got %d", remaining.Data.Remaining)
	}

	resp = httpClient.POSTWithHeaders(t, "/api/v1/claims/id/"+claim.ID+"/use", nil, jsonHeaders)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 on use, got %d", resp.StatusCode)
	}

	resp = httpClient.POSTWithHeaders(t, "/api/v1/claims/id/"+claim.ID+"/use", nil, jsonHeaders)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 on double use, got %d", resp.StatusCode)
	}
}

func TestConcurrentClaimsNeverOversell(t *testing.T) {
	httpClient.WaitForHealthy(t, 15*time.Second)

	const stock = 3
	const contenders = 10
	unit := createUnit(t, stock)

	var wg sync.WaitGroup
	results := make(chan int, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client := testutil.NewClient(httpClient.BaseURL)
			code := claimWithRetry(t, client, fmt.Sprintf("racer-%d-%d", time.Now().UnixNano(), i), unit.ID)
			results <- code
		}(i)
	}
	wg.Wait()
	close(results)

	granted := 0
	for code := range results {
		switch code {
		case http.StatusCreated:
			granted++
		case http.StatusConflict, http.StatusTooManyRequests:
		default:
			t.Errorf("unexpected status %d", code)
		}
	}

	if granted != stock {
		t.Errorf("expected exactly %d granted claims, got %d", stock, granted)
	}
}

// claimWithRetry retries 429 responses, which only signal lock contention.
func claimWithRetry(t *testing.T, client *testutil.Client, userID, unitID string) int {
	for attempt := 0; attempt < 20; attempt++ {
		resp := client.POST(t, "/api/v1/claims", model.ClaimInput{
			UserID: userID,
			UnitID: unitID,
		})
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp.StatusCode
		}
		time.Sleep(50 * time.Millisecond)
	}
	return http.StatusTooManyRequests
}

func TestAsyncClaimRequest(t *testing.T) {
	httpClient.WaitForHealthy(t, 15*time.Second)
	unit := createUnit(t, 2)
	userID := fmt.Sprintf("async-user-%d", time.Now().UnixNano())

	resp := httpClient.POST(t, "/api/v1/claim-requests", model.ClaimInput{
		UserID: userID,
		UnitID: unit.ID,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", resp.StatusCode, resp.Body)
	}

	var accepted dataEnvelope[*model.ClaimRequest]
	if err := resp.DecodeJSON(&accepted); err != nil {
		t.Fatalf("failed to decode request: %v", err)
	}
	requestID := accepted.Data.ID

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp = httpClient.GET(t, "/api/v1/claim-requests/id/"+requestID)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 polling request, got %d", resp.StatusCode)
		}
		var polled dataEnvelope[*model.ClaimRequest]
		if err := resp.DecodeJSON(&polled); err != nil {
			t.Fatalf("failed to decode poll response: %v", err)
		}
		switch polled.Data.Outcome {
		case model.OutcomeSuccess:
			if polled.Data.ClaimID == "" {
				t.Error("expected claim id on successful request")
			}
			return
		case model.OutcomeFail:
			t.Fatalf("request failed with code %s", polled.Data.FailureCode)
		}
		time.Sleep(time.Second)
	}
	t.Fatal("request never resolved")
}
