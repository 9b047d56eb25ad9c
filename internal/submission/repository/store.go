package repository

import (
	"context"
	"errors"
	"time"

	"gradehub/internal/submission/model"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// SubmissionStore defines submission persistence operations.
//
// The two conditional updates are the store's only coordination primitive: the
// predicate (not yet finalized) and the patch are evaluated in one atomic
// statement, and the returned count says whether the document matched. The
// engine never decomposes them into a read followed by a write.
type SubmissionStore interface {
	// Insert persists a new submission document.
	Insert(ctx context.Context, submission *model.Submission) error

	// FindByID returns the submission or ErrSubmissionNotFound.
	FindByID(ctx context.Context, submissionID string) (*model.Submission, error)

	// RecordResultIfNotFinalized overwrites the grading outcome fields if the
	// submission is still not finalized. Returns the number of matched rows (0 or 1).
	RecordResultIfNotFinalized(ctx context.Context, submissionID string, result model.GradingResult, updatedAt time.Time) (int64, error)

	// FinalizeIfNotFinalized locks the submission into FINALIZED if it is still
	// not finalized. Returns the number of matched rows (0 or 1).
	FinalizeIfNotFinalized(ctx context.Context, submissionID, note string, updatedAt time.Time) (int64, error)

	// Delete removes a submission document. Used only for create-rollback.
	Delete(ctx context.Context, submissionID string) error
}
