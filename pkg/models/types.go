package models

import (
	"fmt"
	"time"
)

// StageID identifies one of the four sculpting stages
type StageID int

const (
	// StageRoughMass is the single amorphous lump of clay
	StageRoughMass StageID = 1
	// StageBlocking is the subject built from crude geometric masses
	StageBlocking StageID = 2
	// StageEmergence is the work-in-progress where details begin to appear
	StageEmergence StageID = 3
	// StageFinal is the finished piece, generated first and used as reference
	StageFinal StageID = 4
)

// AllStages lists every stage in display order
var AllStages = []StageID{StageRoughMass, StageBlocking, StageEmergence, StageFinal}

// DerivedStages are the stages generated from the final stage's image
var DerivedStages = []StageID{StageRoughMass, StageBlocking, StageEmergence}

// Valid reports whether id is one of the four known stages
func (id StageID) Valid() bool {
	return id >= StageRoughMass && id <= StageFinal
}

func (id StageID) String() string {
	return fmt.Sprintf("stage-%d", int(id))
}

// StageStatus represents the async status of a stage
type StageStatus string

const (
	StatusIdle    StageStatus = "idle"
	StatusLoading StageStatus = "loading"
	StatusSuccess StageStatus = "success"
	StatusError   StageStatus = "error"
)

// IsValid returns true if the status is a known value
func (s StageStatus) IsValid() bool {
	switch s {
	case StatusIdle, StatusLoading, StatusSuccess, StatusError:
		return true
	}
	return false
}

// IsSettled returns true once a stage reached success or error
func (s StageStatus) IsSettled() bool {
	return s == StatusSuccess || s == StatusError
}

// Stage is the display record for one sculpting stage.
// Image is only set when Status is StatusSuccess.
type Stage struct {
	ID          StageID     `json:"id"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	Status      StageStatus `json:"status"`
	Image       []byte      `json:"-"`
}

// HasImage reports whether the stage carries an image payload
func (s Stage) HasImage() bool {
	return s.Status == StatusSuccess && len(s.Image) > 0
}

// StageInfo is the static metadata for a stage
type StageInfo struct {
	Label       string
	Description string
}

// stageInfo holds the fixed labels shown for each stage
var stageInfo = map[StageID]StageInfo{
	StageRoughMass: {Label: "Initial Mass", Description: "The raw form emerging from the block of clay."},
	StageBlocking:  {Label: "Structure", Description: "Division into sub-blocks and orientation of the volumes."},
	StageEmergence: {Label: "Emergence", Description: "Details begin to appear on the surface."},
	StageFinal:     {Label: "Final Work", Description: "The finished sculpture with all its details."},
}

// Info returns the static label and description for a stage
func Info(id StageID) StageInfo {
	return stageInfo[id]
}

// NewStage returns an idle stage record carrying its static metadata
func NewStage(id StageID) Stage {
	info := Info(id)
	return Stage{
		ID:          id,
		Label:       info.Label,
		Description: info.Description,
		Status:      StatusIdle,
	}
}

// GenerationRequest is the caller's description for one run
type GenerationRequest struct {
	Description string `json:"description"`
}

// StageOutcome records how one stage settled during a run
type StageOutcome struct {
	Stage    StageID       `json:"stage"`
	Status   StageStatus   `json:"status"`
	Error    string        `json:"error,omitempty"`
	Bytes    int           `json:"bytes,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunStats tracks statistics for a generation run
type RunStats struct {
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	TotalDuration time.Duration `json:"total_duration"`
	SuccessCount  int           `json:"success_count"`
	FailureCount  int           `json:"failure_count"`
}
