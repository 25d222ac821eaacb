package activity

import (
	"testing"
	"time"

	"github.com/rushteam/recbatch/core"
)

func TestAgeDays(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		occurredAt time.Time
		want       int
	}{
		{"same instant", now, 0},
		{"ten days ago", now.AddDate(0, 0, -10), 10},
		{"partial day truncates", now.Add(-36 * time.Hour), 1},
		{"future timestamp clamps to zero", now.Add(48 * time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AgeDays(now, tt.occurredAt); got != tt.want {
				t.Errorf("AgeDays() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecayedWeight(t *testing.T) {
	decay := core.DefaultDecayConfig()
	weights := core.ActionWeights{}

	tests := []struct {
		name    string
		action  string
		ageDays int
		want    float64
	}{
		{"age zero is full weight", "view", 0, 1},
		{"beyond max days is zero", "view", 181, 0},
		{"exactly max days is zero", "view", 180, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecayedWeight(tt.action, tt.ageDays, decay, weights); got != tt.want {
				t.Errorf("DecayedWeight() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecayedWeightMonotonic(t *testing.T) {
	decay := core.DefaultDecayConfig()
	weights := core.ActionWeights{}

	prev := DecayedWeight("view", 0, decay, weights)
	for age := 1; age <= decay.MaxDays+10; age++ {
		got := DecayedWeight("view", age, decay, weights)
		if got > prev {
			t.Fatalf("weight increased at age %d: %v > %v", age, got, prev)
		}
		if got < 0 {
			t.Fatalf("negative weight at age %d: %v", age, got)
		}
		prev = got
	}
}

func TestDecayedWeightActionOverride(t *testing.T) {
	decay := core.DefaultDecayConfig()
	weights := core.ActionWeights{"purchase": 5}

	if got := DecayedWeight("purchase", 0, decay, weights); got != 5 {
		t.Errorf("overridden action weight = %v, want 5", got)
	}
	if got := DecayedWeight("view", 0, decay, weights); got != 1 {
		t.Errorf("default action weight = %v, want 1", got)
	}
}
