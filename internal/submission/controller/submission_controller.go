package controller

import (
	"strings"
	"time"

	"gradehub/internal/submission/model"
	"gradehub/internal/submission/service"
	"gradehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const resultTokenHeader = "X-Result-Token"

// SubmissionController handles submission HTTP endpoints.
type SubmissionController struct {
	lifecycle *service.LifecycleService
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(lifecycle *service.LifecycleService) *SubmissionController {
	return &SubmissionController{lifecycle: lifecycle}
}

// Create handles new submission requests.
func (h *SubmissionController) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	idempotencyKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	submission, err := h.lifecycle.Create(c.Request.Context(), service.CreateInput{
		AssignmentID:   req.AssignmentID,
		Language:       req.Language,
		Code:           req.Code,
		UserID:         req.UserID,
		IdempotencyKey: idempotencyKey,
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, CreateResponse{
		SubmissionID: submission.SubmissionID,
		Status:       string(submission.Status),
		CreatedAt:    submission.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Get returns the current view of one submission.
func (h *SubmissionController) Get(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.lifecycle.Get(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, submission)
}

// Finalize locks a submission's graded result as official.
func (h *SubmissionController) Finalize(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	var req FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	submission, err := h.lifecycle.Finalize(c.Request.Context(), submissionID, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, submission)
}

// Result records a grading outcome reported by the external grading worker.
func (h *SubmissionController) Result(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	var req ResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	submission, err := h.lifecycle.RecordResult(
		c.Request.Context(),
		submissionID,
		c.GetHeader(resultTokenHeader),
		model.GradingResult{
			Status:   model.Status(req.Status),
			Score:    req.Score,
			FailTags: req.FailTags,
			Feedback: req.Feedback,
			Metrics:  req.Metrics,
		},
	)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, ResultResponse{
		OK:           true,
		SubmissionID: submission.SubmissionID,
		Status:       string(submission.Status),
	})
}

// CreateRequest defines the submission intake payload.
type CreateRequest struct {
	AssignmentID string `json:"assignment_id" binding:"required"`
	Language     string `json:"language"`
	Code         string `json:"code" binding:"required"`
	UserID       string `json:"user_id"`
}

// CreateResponse defines the submission intake response payload.
type CreateResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

// FinalizeRequest defines the finalize payload.
type FinalizeRequest struct {
	Note string `json:"note"`
}

// ResultRequest defines the grading callback payload.
type ResultRequest struct {
	Status   string               `json:"status" binding:"required"`
	Score    float64              `json:"score"`
	FailTags []string             `json:"fail_tags"`
	Feedback []model.FeedbackItem `json:"feedback"`
	Metrics  model.Metrics        `json:"metrics"`
}

// ResultResponse defines the grading callback response payload.
type ResultResponse struct {
	OK           bool   `json:"ok"`
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}
