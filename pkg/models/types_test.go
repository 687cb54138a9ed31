package models

import "testing"

func TestStageIDValid(t *testing.T) {
	for _, id := range AllStages {
		if !id.Valid() {
			t.Errorf("Expected %v to be valid", id)
		}
	}
	for _, id := range []StageID{0, 5, -1} {
		if id.Valid() {
			t.Errorf("Expected %d to be invalid", id)
		}
	}
}

func TestNewStage(t *testing.T) {
	s := NewStage(StageFinal)
	if s.Status != StatusIdle {
		t.Errorf("Expected idle status, got %s", s.Status)
	}
	if s.Label != "Final Work" {
		t.Errorf("Expected label 'Final Work', got '%s'", s.Label)
	}
	if s.HasImage() {
		t.Error("New stage must not carry an image")
	}
}

func TestStageStatus(t *testing.T) {
	tests := []struct {
		status  StageStatus
		valid   bool
		settled bool
	}{
		{StatusIdle, true, false},
		{StatusLoading, true, false},
		{StatusSuccess, true, true},
		{StatusError, true, true},
		{"bogus", false, false},
	}

	for _, tt := range tests {
		if got := tt.status.IsValid(); got != tt.valid {
			t.Errorf("%s.IsValid() = %v, want %v", tt.status, got, tt.valid)
		}
		if got := tt.status.IsSettled(); got != tt.settled {
			t.Errorf("%s.IsSettled() = %v, want %v", tt.status, got, tt.settled)
		}
	}
}
