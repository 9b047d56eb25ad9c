package model

import "time"

// Status is the lifecycle state of a submission.
//
// QUEUED is the initial state. The grading callback moves a submission to one of
// the grading outcomes (COMPLETED, FAILED, TIMEOUT); outcomes may be overwritten
// by a retried grading attempt until the submission is finalized. FINALIZED is
// terminal and has no outgoing transitions.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimeout   Status = "TIMEOUT"
	StatusFinalized Status = "FINALIZED"
)

// IsGradingOutcome reports whether s is a status the external grader may report.
func (s Status) IsGradingOutcome() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Valid reports whether s is one of the enumerated lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusCompleted, StatusFailed, StatusTimeout, StatusFinalized:
		return true
	}
	return false
}

// Metrics holds grading performance data. Zero-valued until a result is recorded.
type Metrics struct {
	TimeMs   int64 `json:"timeMs"`
	MemoryMB int64 `json:"memoryMB"`
}

// FeedbackItem is one (case, message) pair reported by the grader.
type FeedbackItem struct {
	Case    string `json:"case"`
	Message string `json:"message"`
}

// Submission is the central entity: one record per code submission, tracked from
// intake through grading to finalization.
type Submission struct {
	SubmissionID string         `json:"submission_id"`
	UserID       string         `json:"user_id"`
	AssignmentID string         `json:"assignment_id"`
	Language     string         `json:"language"`
	Code         string         `json:"code"`
	Status       Status         `json:"status"`
	Score        float64        `json:"score"`
	FailTags     []string       `json:"fail_tags"`
	Feedback     []FeedbackItem `json:"feedback"`
	Metrics      Metrics        `json:"metrics"`
	Finalized    bool           `json:"finalized"`
	FinalizeNote string         `json:"finalize_note,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// GradingResult is the payload the external grading worker reports back.
type GradingResult struct {
	Status   Status
	Score    float64
	FailTags []string
	Feedback []FeedbackItem
	Metrics  Metrics
}

// JobMessage is the descriptor published to the grading queue at creation time.
type JobMessage struct {
	SubmissionID string `json:"submission_id"`
	AssignmentID string `json:"assignment_id"`
	Language     string `json:"language"`
}
