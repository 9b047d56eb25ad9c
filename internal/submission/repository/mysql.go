package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gradehub/internal/common/db"
	"gradehub/internal/submission/model"
)

// MySQLSubmissionStore implements SubmissionStore with MySQL.
//
// fail_tags, feedback and metrics live in JSON columns. Rows written before a
// result was recorded, or by older writers, may hold NULL there; decoding
// substitutes zero values so partial documents still load.
type MySQLSubmissionStore struct {
	db db.Database
}

// NewSubmissionStore creates a MySQL-backed submission store.
func NewSubmissionStore(database db.Database) *MySQLSubmissionStore {
	return &MySQLSubmissionStore{db: database}
}

const submissionColumns = "submission_id, user_id, assignment_id, language, code, status, score, fail_tags, feedback, metrics, finalized, finalize_note, created_at, updated_at"

// Insert persists a new submission document.
func (s *MySQLSubmissionStore) Insert(ctx context.Context, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.SubmissionID == "" {
		return errors.New("submissionID is required")
	}
	if submission.AssignmentID == "" {
		return errors.New("assignmentID is required")
	}

	failTags, err := encodeFailTags(submission.FailTags)
	if err != nil {
		return err
	}
	feedback, err := encodeFeedback(submission.Feedback)
	if err != nil {
		return err
	}
	metrics, err := encodeMetrics(submission.Metrics)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO submissions
		(submission_id, user_id, assignment_id, language, code, status, score, fail_tags, feedback, metrics, finalized, finalize_note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(
		ctx,
		query,
		submission.SubmissionID,
		submission.UserID,
		submission.AssignmentID,
		submission.Language,
		submission.Code,
		string(submission.Status),
		submission.Score,
		failTags,
		feedback,
		metrics,
		submission.Finalized,
		nullableString(submission.FinalizeNote),
		submission.CreatedAt,
		submission.UpdatedAt,
	)
	return err
}

// FindByID retrieves a submission by id.
func (s *MySQLSubmissionStore) FindByID(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	row := s.db.QueryRow(ctx, query, submissionID)

	submission := &model.Submission{}
	var (
		status       string
		failTags     sql.NullString
		feedback     sql.NullString
		metrics      sql.NullString
		finalizeNote sql.NullString
	)
	if err := row.Scan(
		&submission.SubmissionID,
		&submission.UserID,
		&submission.AssignmentID,
		&submission.Language,
		&submission.Code,
		&status,
		&submission.Score,
		&failTags,
		&feedback,
		&metrics,
		&submission.Finalized,
		&finalizeNote,
		&submission.CreatedAt,
		&submission.UpdatedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}

	submission.Status = model.Status(status)
	var err error
	if submission.FailTags, err = decodeFailTags(failTags); err != nil {
		return nil, err
	}
	if submission.Feedback, err = decodeFeedback(feedback); err != nil {
		return nil, err
	}
	if submission.Metrics, err = decodeMetrics(metrics); err != nil {
		return nil, err
	}
	if finalizeNote.Valid {
		submission.FinalizeNote = finalizeNote.String
	}
	return submission, nil
}

// RecordResultIfNotFinalized overwrites the grading outcome fields for a
// submission that is still not finalized. The finalized guard sits in the same
// statement as the patch, so a concurrent finalize cannot slip in between.
func (s *MySQLSubmissionStore) RecordResultIfNotFinalized(ctx context.Context, submissionID string, result model.GradingResult, updatedAt time.Time) (int64, error) {
	if submissionID == "" {
		return 0, errors.New("submissionID is required")
	}
	failTags, err := encodeFailTags(result.FailTags)
	if err != nil {
		return 0, err
	}
	feedback, err := encodeFeedback(result.Feedback)
	if err != nil {
		return 0, err
	}
	metrics, err := encodeMetrics(result.Metrics)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE submissions
		SET status = ?, score = ?, fail_tags = ?, feedback = ?, metrics = ?, updated_at = ?
		WHERE submission_id = ? AND finalized = 0
	`
	res, err := s.db.Exec(
		ctx,
		query,
		string(result.Status),
		result.Score,
		failTags,
		feedback,
		metrics,
		updatedAt,
		submissionID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FinalizeIfNotFinalized atomically locks the submission into FINALIZED.
// The update always flips finalized from 0 to 1, so affected rows equals
// matched rows under MySQL's default changed-rows reporting.
func (s *MySQLSubmissionStore) FinalizeIfNotFinalized(ctx context.Context, submissionID, note string, updatedAt time.Time) (int64, error) {
	if submissionID == "" {
		return 0, errors.New("submissionID is required")
	}
	query := `
		UPDATE submissions
		SET status = ?, finalized = 1, finalize_note = ?, updated_at = ?
		WHERE submission_id = ? AND finalized = 0
	`
	res, err := s.db.Exec(
		ctx,
		query,
		string(model.StatusFinalized),
		nullableString(note),
		updatedAt,
		submissionID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes a submission document.
func (s *MySQLSubmissionStore) Delete(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return errors.New("submissionID is required")
	}
	_, err := s.db.Exec(ctx, "DELETE FROM submissions WHERE submission_id = ?", submissionID)
	return err
}

func nullableString(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
