package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gradehub/internal/common/mq"
	"gradehub/internal/submission/model"
	"gradehub/internal/submission/repository"
	"gradehub/internal/submission/service"
	appErr "gradehub/pkg/errors"

	"github.com/gin-gonic/gin"
)

type memoryStore struct {
	mu   sync.Mutex
	docs map[string]*model.Submission

	forceUnmatched bool
	writeErr       error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: make(map[string]*model.Submission)}
}

func (s *memoryStore) Insert(_ context.Context, submission *model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *submission
	s.docs[submission.SubmissionID] = &clone
	return nil
}

func (s *memoryStore) FindByID(_ context.Context, submissionID string) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[submissionID]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	clone := *doc
	return &clone, nil
}

func (s *memoryStore) RecordResultIfNotFinalized(_ context.Context, submissionID string, result model.GradingResult, updatedAt time.Time) (int64, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[submissionID]
	if !ok || doc.Finalized || s.forceUnmatched {
		return 0, nil
	}
	doc.Status = result.Status
	doc.Score = result.Score
	doc.FailTags = result.FailTags
	doc.Feedback = result.Feedback
	doc.Metrics = result.Metrics
	doc.UpdatedAt = updatedAt
	return 1, nil
}

func (s *memoryStore) FinalizeIfNotFinalized(_ context.Context, submissionID, note string, updatedAt time.Time) (int64, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[submissionID]
	if !ok || doc.Finalized || s.forceUnmatched {
		return 0, nil
	}
	doc.Status = model.StatusFinalized
	doc.Finalized = true
	doc.FinalizeNote = note
	doc.UpdatedAt = updatedAt
	return 1, nil
}

func (s *memoryStore) Delete(_ context.Context, submissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, submissionID)
	return nil
}

type memoryQueue struct {
	mu        sync.Mutex
	published int
}

func (q *memoryQueue) Publish(context.Context, string, *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published++
	return nil
}

func (q *memoryQueue) Ping(context.Context) error { return nil }
func (q *memoryQueue) Close() error               { return nil }

type envelope struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *memoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemoryStore()
	svc, err := service.NewLifecycleService(service.Config{
		Store:           store,
		Queue:           &memoryQueue{},
		JobTopic:        "grading.jobs",
		ResultToken:     "secret",
		DefaultLanguage: "python",
		DefaultUserID:   "demo-user",
	})
	if err != nil {
		t.Fatalf("NewLifecycleService: %v", err)
	}

	h := NewSubmissionController(svc)
	router := gin.New()
	router.POST("/submissions", h.Create)
	router.GET("/submissions/:id", h.Get)
	router.POST("/submissions/:id/finalize", h.Finalize)
	internal := router.Group("/internal")
	internal.POST("/submissions/:id/result", h.Result)
	return router, store
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func createSubmission(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w, env := doJSON(t, router, http.MethodPost, "/submissions", map[string]string{
		"assignment_id": "hw1",
		"language":      "go",
		"code":          "package main",
		"user_id":       "alice",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	var data CreateResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode create data: %v", err)
	}
	if data.SubmissionID == "" || data.Status != "QUEUED" {
		t.Fatalf("create data wrong: %+v", data)
	}
	if _, err := time.Parse(time.RFC3339, data.CreatedAt); err != nil {
		t.Fatalf("created_at %q not RFC3339: %v", data.CreatedAt, err)
	}
	return data.SubmissionID
}

func TestSubmissionLifecycleFlow(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	id := createSubmission(t, router)

	// Fresh submission reads back QUEUED.
	w, env := doJSON(t, router, http.MethodGet, "/submissions/"+id, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", w.Code)
	}
	var sub model.Submission
	if err := json.Unmarshal(env.Data, &sub); err != nil {
		t.Fatalf("decode submission: %v", err)
	}
	if sub.Status != model.StatusQueued || sub.Finalized {
		t.Fatalf("fresh submission = %+v", sub)
	}

	// Grader reports a failed outcome.
	w, _ = doJSON(t, router, http.MethodPost, "/internal/submissions/"+id+"/result", map[string]interface{}{
		"status":    "FAILED",
		"score":     40,
		"fail_tags": []string{"wrong-answer"},
		"feedback":  []map[string]string{{"case": "t1", "message": "expected 2 got 3"}},
		"metrics":   map[string]int{"timeMs": 120, "memoryMB": 64},
	}, map[string]string{"X-Result-Token": "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("result status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	// A retried grading attempt overwrites the outcome.
	w, env = doJSON(t, router, http.MethodPost, "/internal/submissions/"+id+"/result", map[string]interface{}{
		"status": "COMPLETED",
		"score":  95.5,
	}, map[string]string{"X-Result-Token": "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("retry result status = %d, want 200", w.Code)
	}
	var res ResultResponse
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode result data: %v", err)
	}
	if !res.OK || res.Status != "COMPLETED" {
		t.Fatalf("result data wrong: %+v", res)
	}

	// Finalize locks the result in.
	w, env = doJSON(t, router, http.MethodPost, "/submissions/"+id+"/finalize", map[string]string{
		"note": "grade posted",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("finalize status = %d, want 200", w.Code)
	}
	if err := json.Unmarshal(env.Data, &sub); err != nil {
		t.Fatalf("decode finalized submission: %v", err)
	}
	if sub.Status != model.StatusFinalized || !sub.Finalized || sub.FinalizeNote != "grade posted" {
		t.Fatalf("finalized submission = %+v", sub)
	}

	// A late grading callback succeeds but changes nothing.
	w, _ = doJSON(t, router, http.MethodPost, "/internal/submissions/"+id+"/result", map[string]interface{}{
		"status": "FAILED",
		"score":  0,
	}, map[string]string{"X-Result-Token": "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("late result status = %d, want 200", w.Code)
	}
	w, env = doJSON(t, router, http.MethodGet, "/submissions/"+id, nil, nil)
	if err := json.Unmarshal(env.Data, &sub); err != nil {
		t.Fatalf("decode submission: %v", err)
	}
	if sub.Status != model.StatusFinalized || sub.Score != 95.5 {
		t.Fatalf("late result mutated finalized submission: %+v", sub)
	}

	// Repeat finalize is idempotent.
	w, _ = doJSON(t, router, http.MethodPost, "/submissions/"+id+"/finalize", map[string]string{
		"note": "second attempt",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("repeat finalize status = %d, want 200", w.Code)
	}
	_, env = doJSON(t, router, http.MethodGet, "/submissions/"+id, nil, nil)
	if err := json.Unmarshal(env.Data, &sub); err != nil {
		t.Fatalf("decode submission: %v", err)
	}
	if sub.FinalizeNote != "grade posted" {
		t.Fatalf("repeat finalize replaced note: %q", sub.FinalizeNote)
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	w, _ := doJSON(t, router, http.MethodPost, "/submissions", map[string]string{
		"assignment_id": "hw1",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	w, _ = doJSON(t, router, http.MethodPost, "/submissions", map[string]string{
		"code": "x",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetUnknownSubmission(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	w, env := doJSON(t, router, http.MethodGet, "/submissions/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if env.Code != appErr.SubmissionNotFound {
		t.Fatalf("code = %d, want %d", env.Code, appErr.SubmissionNotFound)
	}
}

func TestResultRejectsBadToken(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)
	id := createSubmission(t, router)

	w, _ := doJSON(t, router, http.MethodPost, "/internal/submissions/"+id+"/result", map[string]interface{}{
		"status": "COMPLETED",
	}, map[string]string{"X-Result-Token": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	w, _ = doJSON(t, router, http.MethodPost, "/internal/submissions/"+id+"/result", map[string]interface{}{
		"status": "COMPLETED",
	}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", w.Code)
	}
}

func TestResultRejectsInvalidStatus(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)
	id := createSubmission(t, router)

	w, env := doJSON(t, router, http.MethodPost, "/internal/submissions/"+id+"/result", map[string]interface{}{
		"status": "QUEUED",
	}, map[string]string{"X-Result-Token": "secret"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if env.Code != appErr.InvalidResultStatus {
		t.Fatalf("code = %d, want %d", env.Code, appErr.InvalidResultStatus)
	}
}

func TestResultUnknownSubmission(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	w, _ := doJSON(t, router, http.MethodPost, "/internal/submissions/nope/result", map[string]interface{}{
		"status": "COMPLETED",
	}, map[string]string{"X-Result-Token": "secret"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestFinalizeAcceptsEmptyBody(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)
	id := createSubmission(t, router)

	req := httptest.NewRequest(http.MethodPost, "/submissions/"+id+"/finalize", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
}

func TestFinalizeConflictMapsTo409(t *testing.T) {
	t.Parallel()
	router, store := newTestRouter(t)
	id := createSubmission(t, router)
	store.forceUnmatched = true

	w, env := doJSON(t, router, http.MethodPost, "/submissions/"+id+"/finalize", nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", w.Code, w.Body.String())
	}
	if env.Code != appErr.FinalizeConflict {
		t.Fatalf("code = %d, want %d", env.Code, appErr.FinalizeConflict)
	}
}

func TestStoreFailureMapsTo503(t *testing.T) {
	t.Parallel()
	router, store := newTestRouter(t)
	id := createSubmission(t, router)
	store.writeErr = errors.New("store down")

	w, _ := doJSON(t, router, http.MethodPost, "/submissions/"+id+"/finalize", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
