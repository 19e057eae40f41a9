package validator

import (
	"strings"
	"testing"
	"time"

	"claimgate/pkg/model"
)

func TestUnitValidator(t *testing.T) {
	v := NewUnitValidator()
	start := time.Now().Add(time.Hour)

	tests := []struct {
		name      string
		unit      *model.InventoryUnit
		wantError bool
		contains  string
	}{
		{
			name: "valid unit",
			unit: &model.InventoryUnit{
				Name:          "Launch coupon",
				TotalQuantity: 100,
				StartTime:     start,
				EndTime:       start.Add(time.Hour),
			},
			wantError: false,
		},
		{
			name: "missing name",
			unit: &model.InventoryUnit{
				TotalQuantity: 100,
				StartTime:     start,
				EndTime:       start.Add(time.Hour),
			},
			wantError: true,
			contains:  "Name is required",
		},
		{
			name: "zero quantity",
			unit: &model.InventoryUnit{
				Name:      "Launch coupon",
				StartTime: start,
				EndTime:   start.Add(time.Hour),
			},
			wantError: true,
		},
		{
			name: "end before start",
			unit: &model.InventoryUnit{
				Name:          "Launch coupon",
				TotalQuantity: 100,
				StartTime:     start,
				EndTime:       start.Add(-time.Minute),
			},
			wantError: true,
			contains:  "end_time must be after start_time",
		},
		{
			name: "window entirely in the past",
			unit: &model.InventoryUnit{
				Name:          "Launch coupon",
				TotalQuantity: 100,
				StartTime:     time.Now().Add(-2 * time.Hour),
				EndTime:       time.Now().Add(-time.Hour),
			},
			wantError: true,
			contains:  "end_time cannot be in the past",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.unit)
			if tt.wantError && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Fatalf("expected valid unit, got %v", err)
			}
			if tt.contains != "" && !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("expected error containing %q, got %q", tt.contains, err.Error())
			}
		})
	}
}
