package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gradehub/internal/common/cache"
	"gradehub/internal/common/mq"
	"gradehub/internal/common/storage"
	"gradehub/internal/submission/model"
	"gradehub/internal/submission/repository"
	appErr "gradehub/pkg/errors"
	"gradehub/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "submission:idempotency:"
	rateUserKeyPrefix    = "submission:rate:user:"
	rateIPKeyPrefix      = "submission:rate:ip:"
	defaultArchivePrefix = "submissions"
	processingMarker     = "processing"
)

// RateLimitConfig holds throttling configuration.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	Store   time.Duration `yaml:"store"`
	Cache   time.Duration `yaml:"cache"`
	Queue   time.Duration `yaml:"queue"`
	Storage time.Duration `yaml:"storage"`
}

// Config holds lifecycle service dependencies and settings.
type Config struct {
	Store   repository.SubmissionStore
	Queue   mq.MessageQueue
	Cache   cache.Cache           // optional: enables rate limiting and idempotency keys
	Archive storage.ObjectStorage // optional: enables source archival

	JobTopic         string
	ResultToken      string
	DefaultLanguage  string
	DefaultUserID    string
	ArchiveBucket    string
	ArchiveKeyPrefix string
	MaxCodeBytes     int
	IdempotencyTTL   time.Duration
	RateLimit        RateLimitConfig
	Timeouts         TimeoutConfig
}

// LifecycleService owns the submission state machine: creation with
// compensating rollback, result recording, and conflict-safe finalization.
// It is stateless; all coordination happens through the store's conditional
// writes, so any number of replicas can run it concurrently.
type LifecycleService struct {
	store   repository.SubmissionStore
	queue   mq.MessageQueue
	cache   cache.Cache
	archive storage.ObjectStorage

	jobTopic         string
	resultToken      string
	defaultLanguage  string
	defaultUserID    string
	archiveBucket    string
	archiveKeyPrefix string
	maxCodeBytes     int
	idempotencyTTL   time.Duration
	rateLimit        RateLimitConfig
	timeouts         TimeoutConfig
}

// CreateInput describes a submission request.
type CreateInput struct {
	AssignmentID   string
	Language       string
	Code           string
	UserID         string
	IdempotencyKey string
	ClientIP       string
}

// NewLifecycleService creates a new lifecycle service.
func NewLifecycleService(cfg Config) (*LifecycleService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("submission store is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("grading queue is required")
	}
	if cfg.JobTopic == "" {
		return nil, fmt.Errorf("job topic is required")
	}
	if cfg.ResultToken == "" {
		return nil, fmt.Errorf("result token is required")
	}
	if cfg.ArchiveKeyPrefix == "" {
		cfg.ArchiveKeyPrefix = defaultArchivePrefix
	}
	return &LifecycleService{
		store:            cfg.Store,
		queue:            cfg.Queue,
		cache:            cfg.Cache,
		archive:          cfg.Archive,
		jobTopic:         cfg.JobTopic,
		resultToken:      cfg.ResultToken,
		defaultLanguage:  cfg.DefaultLanguage,
		defaultUserID:    cfg.DefaultUserID,
		archiveBucket:    cfg.ArchiveBucket,
		archiveKeyPrefix: cfg.ArchiveKeyPrefix,
		maxCodeBytes:     cfg.MaxCodeBytes,
		idempotencyTTL:   cfg.IdempotencyTTL,
		rateLimit:        cfg.RateLimit,
		timeouts:         cfg.Timeouts,
	}, nil
}

// Create persists a new QUEUED submission and dispatches its grading job.
//
// The write-then-publish order has no distributed transaction behind it: if the
// queue publish fails after the insert succeeded, the just-created document is
// deleted again so no QUEUED submission exists that no worker will ever pick
// up. A failed compensating delete leaves an orphan; that residual risk is
// tolerated and logged.
func (s *LifecycleService) Create(ctx context.Context, input CreateInput) (*model.Submission, error) {
	if err := s.validateCreate(&input); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, input.UserID, input.ClientIP); err != nil {
		return nil, err
	}

	acquired, existingID, err := s.acquireIdempotency(ctx, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !acquired && existingID != "" {
		return s.Get(ctx, existingID)
	}

	now := time.Now().UTC()
	submission := &model.Submission{
		SubmissionID: uuid.NewString(),
		UserID:       input.UserID,
		AssignmentID: input.AssignmentID,
		Language:     input.Language,
		Code:         input.Code,
		Status:       model.StatusQueued,
		FailTags:     []string{},
		Feedback:     []model.FeedbackItem{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ctxStore := withTimeout(ctx, s.timeouts.Store)
	err = s.store.Insert(ctxStore.ctx, submission)
	ctxStore.cancel()
	if err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return nil, appErr.Wrapf(err, appErr.StoreUnavailable, "create submission failed")
	}

	if err := s.publishJob(ctx, submission); err != nil {
		s.rollbackCreate(ctx, submission.SubmissionID)
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return nil, err
	}

	s.archiveSource(ctx, submission)
	s.finalizeIdempotency(ctx, input.IdempotencyKey, submission.SubmissionID, acquired)
	return submission, nil
}

// Get returns the current view of one submission.
func (s *LifecycleService) Get(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	ctxStore := withTimeout(ctx, s.timeouts.Store)
	defer ctxStore.cancel()
	submission, err := s.store.FindByID(ctxStore.ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.StoreUnavailable, "get submission failed")
	}
	return submission, nil
}

// RecordResult applies a grading outcome reported by the external worker.
//
// Calls against an already finalized submission succeed without mutating
// anything, so a grader's duplicate or late callback can never corrupt a
// locked-in result. Among non-finalized updates the last writer wins.
func (s *LifecycleService) RecordResult(ctx context.Context, submissionID, token string, result model.GradingResult) (*model.Submission, error) {
	if err := s.checkResultToken(token); err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if current.Finalized || current.Status == model.StatusFinalized {
		return current, nil
	}
	if !result.Status.IsGradingOutcome() {
		return nil, appErr.New(appErr.InvalidResultStatus).
			WithDetail("status", string(result.Status))
	}
	if result.FailTags == nil {
		result.FailTags = []string{}
	}
	if result.Feedback == nil {
		result.Feedback = []model.FeedbackItem{}
	}

	now := time.Now().UTC()
	ctxStore := withTimeout(ctx, s.timeouts.Store)
	matched, err := s.store.RecordResultIfNotFinalized(ctxStore.ctx, submissionID, result, now)
	ctxStore.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StoreUnavailable, "record result failed")
	}
	if matched == 0 {
		// Finalize won the race between our read and the conditional write.
		// That makes this the idempotent no-op case, same as finding the
		// submission already finalized up front.
		return s.resolveUnmatchedWrite(ctx, submissionID)
	}

	current.Status = result.Status
	current.Score = result.Score
	current.FailTags = result.FailTags
	current.Feedback = result.Feedback
	current.Metrics = result.Metrics
	current.UpdatedAt = now
	return current, nil
}

// Finalize locks the submission's graded result as official.
//
// Repeat calls are safe: an already finalized submission is returned unchanged.
// The transition itself is one atomic conditional write; when two callers race,
// exactly one performs it and the other lands on the idempotent path.
func (s *LifecycleService) Finalize(ctx context.Context, submissionID, note string) (*model.Submission, error) {
	current, err := s.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if current.Finalized {
		return current, nil
	}

	now := time.Now().UTC()
	ctxStore := withTimeout(ctx, s.timeouts.Store)
	matched, err := s.store.FinalizeIfNotFinalized(ctxStore.ctx, submissionID, note, now)
	ctxStore.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StoreUnavailable, "finalize submission failed")
	}
	if matched == 0 {
		return s.resolveUnmatchedWrite(ctx, submissionID)
	}

	current.Status = model.StatusFinalized
	current.Finalized = true
	current.FinalizeNote = note
	current.UpdatedAt = now
	return current, nil
}

// resolveUnmatchedWrite re-reads a submission after a conditional write matched
// nothing. A concurrent finalize explains that outcome; anything else means the
// store violated its conditional-write contract.
func (s *LifecycleService) resolveUnmatchedWrite(ctx context.Context, submissionID string) (*model.Submission, error) {
	submission, err := s.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if submission.Finalized {
		return submission, nil
	}
	return nil, appErr.ConflictError("conditional write matched no document but submission is not finalized").
		WithDetail("submission_id", submissionID)
}

func (s *LifecycleService) validateCreate(input *CreateInput) error {
	if strings.TrimSpace(input.AssignmentID) == "" {
		return appErr.ValidationError("assignment_id", "required")
	}
	if input.Code == "" {
		return appErr.ValidationError("code", "required")
	}
	if s.maxCodeBytes > 0 && len(input.Code) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithDetail("max_bytes", s.maxCodeBytes)
	}
	if strings.TrimSpace(input.Language) == "" {
		input.Language = s.defaultLanguage
	}
	if strings.TrimSpace(input.UserID) == "" {
		input.UserID = s.defaultUserID
	}
	return nil
}

func (s *LifecycleService) checkResultToken(token string) error {
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.resultToken)) != 1 {
		return appErr.New(appErr.ResultTokenInvalid)
	}
	return nil
}

func (s *LifecycleService) publishJob(ctx context.Context, submission *model.Submission) error {
	payload := model.JobMessage{
		SubmissionID: submission.SubmissionID,
		AssignmentID: submission.AssignmentID,
		Language:     submission.Language,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "encode job message failed")
	}
	message := mq.NewMessage(body)
	message.ID = submission.SubmissionID

	ctxQueue := withTimeout(ctx, s.timeouts.Queue)
	defer ctxQueue.cancel()
	if err := s.queue.Publish(ctxQueue.ctx, s.jobTopic, message); err != nil {
		return appErr.Wrapf(err, appErr.QueueUnavailable, "publish grading job failed")
	}
	return nil
}

// rollbackCreate deletes the document a failed publish stranded. Best-effort:
// a failed delete leaves an orphaned QUEUED record, which is logged and accepted.
func (s *LifecycleService) rollbackCreate(ctx context.Context, submissionID string) {
	ctxStore := withTimeout(ctx, s.timeouts.Store)
	defer ctxStore.cancel()
	if err := s.store.Delete(ctxStore.ctx, submissionID); err != nil {
		logger.Error(ctx, "create rollback delete failed, submission orphaned",
			zap.String("submission_id", submissionID),
			zap.Error(err),
		)
	}
}

func (s *LifecycleService) archiveSource(ctx context.Context, submission *model.Submission) {
	if s.archive == nil || s.archiveBucket == "" {
		return
	}
	objectKey := fmt.Sprintf("%s/%s/source.code", s.archiveKeyPrefix, submission.SubmissionID)
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	err := s.archive.PutObject(
		ctxStorage.ctx,
		s.archiveBucket,
		objectKey,
		strings.NewReader(submission.Code),
		int64(len(submission.Code)),
		"text/plain; charset=utf-8",
	)
	if err != nil {
		logger.Warn(ctx, "archive source failed",
			zap.String("submission_id", submission.SubmissionID),
			zap.Error(err),
		)
	}
}

func (s *LifecycleService) checkRateLimit(ctx context.Context, userID, clientIP string) error {
	if s.cache == nil || s.rateLimit.Window <= 0 || (s.rateLimit.UserMax <= 0 && s.rateLimit.IPMax <= 0) {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	if s.rateLimit.UserMax > 0 && userID != "" {
		if err := s.checkRateCounter(ctxCache.ctx, rateUserKeyPrefix+userID, s.rateLimit.UserMax); err != nil {
			return err
		}
	}
	if s.rateLimit.IPMax > 0 && clientIP != "" {
		if err := s.checkRateCounter(ctxCache.ctx, rateIPKeyPrefix+clientIP, s.rateLimit.IPMax); err != nil {
			return err
		}
	}
	return nil
}

func (s *LifecycleService) checkRateCounter(ctx context.Context, key string, max int) error {
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		_ = s.cache.Expire(ctx, key, s.rateLimit.Window)
	}
	if int(count) > max {
		return appErr.New(appErr.SubmitTooFrequently)
	}
	return nil
}

func (s *LifecycleService) acquireIdempotency(ctx context.Context, key string) (bool, string, error) {
	key = strings.TrimSpace(key)
	if s.cache == nil || key == "" {
		return true, "", nil
	}
	cacheKey := idempotencyKeyPrefix + key
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	existing, err := s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}

	ttl := s.idempotencyTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ok, err := s.cache.SetNX(ctxCache.ctx, cacheKey, processingMarker, ttl)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err = s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (s *LifecycleService) finalizeIdempotency(ctx context.Context, key, submissionID string, acquired bool) {
	if s.cache == nil || !acquired || strings.TrimSpace(key) == "" {
		return
	}
	ttl := s.idempotencyTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Set(ctxCache.ctx, idempotencyKeyPrefix+strings.TrimSpace(key), submissionID, ttl); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *LifecycleService) releaseIdempotency(ctx context.Context, key string, acquired bool) {
	if s.cache == nil || !acquired || strings.TrimSpace(key) == "" {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, idempotencyKeyPrefix+strings.TrimSpace(key)); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
