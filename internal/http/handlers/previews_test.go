package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"previewd/internal/domain"
	"previewd/internal/http/handlers"
	"previewd/internal/http/httpapi"
	"previewd/internal/queue"
	"previewd/internal/status"
)

type memStore struct {
	mu   sync.Mutex
	recs map[string]*domain.Preview
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*domain.Preview)}
}

func (s *memStore) Create(ctx context.Context, p *domain.Preview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.recs[p.ID] = &cp
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*domain.Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.recs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListByOwner(ctx context.Context, owner string, limit int) ([]domain.Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Preview
	for _, p := range s.recs {
		if p.Owner == owner {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id string, st domain.PreviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.recs[id]
	if !ok || p.Status.IsTerminal() {
		return domain.ErrNotFound
	}
	if !p.Status.CanTransitionTo(st) {
		return nil
	}
	p.Status = st
	return nil
}

func (s *memStore) FinishLive(ctx context.Context, id, liveURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.recs[id]
	if !ok || p.Status.IsTerminal() {
		return false, nil
	}
	p.Status = domain.StatusLive
	p.LiveURL = liveURL
	return true, nil
}

func (s *memStore) FinishFailed(ctx context.Context, id, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.recs[id]
	if !ok || p.Status.IsTerminal() {
		return false, nil
	}
	p.Status = domain.StatusFailed
	p.ErrorMessage = errMsg
	return true, nil
}

type memQueue struct {
	mu         sync.Mutex
	entries    map[string]string // job id -> waiting|active
	enqueueErr error
	counts     queue.Counts
	paused     bool
	pingErr    error
	cancelHook func()
}

func newMemQueue() *memQueue {
	return &memQueue{entries: make(map[string]string)}
}

func (q *memQueue) Enqueue(ctx context.Context, p queue.Payload, jobID string) (queue.EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	if _, ok := q.entries[jobID]; ok {
		return queue.EnqueueDuplicate, nil
	}
	q.entries[jobID] = "waiting"
	q.counts.Waiting++
	return queue.EnqueueAccepted, nil
}

func (q *memQueue) Cancel(ctx context.Context, jobID string) (queue.CancelResult, error) {
	if q.cancelHook != nil {
		q.cancelHook()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	state, ok := q.entries[jobID]
	if !ok {
		return queue.CancelNotFound, nil
	}
	if state == "active" {
		return queue.CancelActive, nil
	}
	delete(q.entries, jobID)
	q.counts.Waiting--
	return queue.CancelRemoved, nil
}

func (q *memQueue) Counts(ctx context.Context) (queue.Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts, nil
}

func (q *memQueue) IsPaused(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused, nil
}

func (q *memQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pingErr
}

func (q *memQueue) IsQueued(ctx context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[jobID]
	return ok, nil
}

type okPinger struct{ err error }

func (p okPinger) Ping(ctx context.Context) error { return p.err }

func newTestServer(t *testing.T, store *memStore, q *memQueue) http.Handler {
	t.Helper()
	projector := status.NewProjector(store, q, 0)
	app := handlers.NewApp(store, q, projector, okPinger{}, 2, zerolog.Nop())
	return httpapi.NewRouter(app, httpapi.Options{Logger: zerolog.Nop()})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestSubmitCreatesJob(t *testing.T) {
	store := newMemStore()
	q := newMemQueue()
	h := newTestServer(t, store, q)

	rec, body := doJSON(t, h, http.MethodPost, "/api/preview", map[string]string{"prompt": "todo app", "userId": "u1"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}

	jobID, _ := body["jobId"].(string)
	if !regexp.MustCompile(`^preview_\d+_[a-z0-9]+$`).MatchString(jobID) {
		t.Fatalf("jobId %q does not match expected pattern", jobID)
	}
	if body["statusUrl"] != "/api/preview/"+jobID+"/status" {
		t.Errorf("statusUrl = %v", body["statusUrl"])
	}

	// The record is immediately observable in the building state.
	rec2, body2 := doJSON(t, h, http.MethodGet, "/api/preview/"+jobID+"/status", nil)
	if rec2.Code != http.StatusOK {
		t.Fatalf("status poll = %d, want 200", rec2.Code)
	}
	if body2["status"] != string(domain.StatusBuilding) {
		t.Errorf("polled status = %v, want building", body2["status"])
	}
	if body2["queuePosition"] == nil {
		t.Error("queued job reports no position")
	}
}

func TestSubmitRejectsMissingPrompt(t *testing.T) {
	h := newTestServer(t, newMemStore(), newMemQueue())

	rec, body := doJSON(t, h, http.MethodPost, "/api/preview", map[string]string{"prompt": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if body["error"] != "validation_error" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestSubmitAnonymousOwnerDefault(t *testing.T) {
	store := newMemStore()
	h := newTestServer(t, store, newMemQueue())

	_, body := doJSON(t, h, http.MethodPost, "/api/preview", map[string]string{"prompt": "todo app"})
	jobID, _ := body["jobId"].(string)

	rec, err := store.GetByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if rec.Owner != domain.AnonymousOwner {
		t.Errorf("owner = %q, want %q", rec.Owner, domain.AnonymousOwner)
	}
}

func TestSubmitQueueDownRollsBackRecord(t *testing.T) {
	store := newMemStore()
	q := newMemQueue()
	q.enqueueErr = errors.New("connection refused")
	h := newTestServer(t, store, q)

	rec, body := doJSON(t, h, http.MethodPost, "/api/preview", map[string]string{"prompt": "todo app"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body["error"] != "queue_unavailable" {
		t.Errorf("error = %v", body["error"])
	}

	store.mu.Lock()
	n := len(store.recs)
	store.mu.Unlock()
	if n != 0 {
		t.Errorf("%d records stranded after failed enqueue", n)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	h := newTestServer(t, newMemStore(), newMemQueue())

	rec, body := doJSON(t, h, http.MethodGet, "/api/preview/preview_1_missing/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body["error"] != "not_found" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestStatusTerminalJobHasNoQueueFields(t *testing.T) {
	store := newMemStore()
	q := newMemQueue()
	p := domain.NewPreview("todo app", "u1")
	p.Status = domain.StatusLive
	p.LiveURL = "https://preview.netlify.app"
	_ = store.Create(context.Background(), p)
	h := newTestServer(t, store, q)

	rec, body := doJSON(t, h, http.MethodGet, "/api/preview/"+p.ID+"/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != string(domain.StatusLive) {
		t.Errorf("status = %v", body["status"])
	}
	if body["liveUrl"] != "https://preview.netlify.app" {
		t.Errorf("liveUrl = %v", body["liveUrl"])
	}
	if _, present := body["queuePosition"]; present {
		t.Error("terminal job still reports queuePosition")
	}
}

func TestCancelWaitingJob(t *testing.T) {
	store := newMemStore()
	q := newMemQueue()
	h := newTestServer(t, store, q)

	_, body := doJSON(t, h, http.MethodPost, "/api/preview", map[string]string{"prompt": "todo app", "userId": "u1"})
	jobID, _ := body["jobId"].(string)

	rec, cancelBody := doJSON(t, h, http.MethodDelete, "/api/preview/"+jobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d, want 200", rec.Code)
	}
	if cancelBody["removed"] != true {
		t.Errorf("removed = %v, want true", cancelBody["removed"])
	}

	stored, _ := store.GetByID(context.Background(), jobID)
	if stored.Status != domain.StatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
	if stored.ErrorMessage != domain.ErrJobCanceled.Error() {
		t.Errorf("error = %q, want cancellation sentinel", stored.ErrorMessage)
	}
}

func TestCancelActiveJobDoesNotRemoveEntry(t *testing.T) {
	store := newMemStore()
	q := newMemQueue()
	h := newTestServer(t, store, q)

	_, body := doJSON(t, h, http.MethodPost, "/api/preview", map[string]string{"prompt": "todo app"})
	jobID, _ := body["jobId"].(string)
	q.mu.Lock()
	q.entries[jobID] = "active"
	q.mu.Unlock()

	rec, cancelBody := doJSON(t, h, http.MethodDelete, "/api/preview/"+jobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d, want 200", rec.Code)
	}
	if cancelBody["removed"] != false {
		t.Errorf("removed = %v, want false for an active entry", cancelBody["removed"])
	}

	stored, _ := store.GetByID(context.Background(), jobID)
	if stored.Status != domain.StatusFailed {
		t.Errorf("status = %s, cancellation must mark the record failed", stored.Status)
	}
}

func TestCancelLosingRaceToCompletionConflicts(t *testing.T) {
	store := newMemStore()
	q := newMemQueue()
	h := newTestServer(t, store, q)

	_, body := doJSON(t, h, http.MethodPost, "/api/preview", map[string]string{"prompt": "todo app"})
	jobID, _ := body["jobId"].(string)

	// The worker finishes the job after the handler's terminal-state check
	// but before the cancellation write lands.
	q.cancelHook = func() {
		if _, err := store.FinishLive(context.Background(), jobID, "https://done.netlify.app"); err != nil {
			t.Fatalf("simulate completion: %v", err)
		}
	}

	rec, cancelBody := doJSON(t, h, http.MethodDelete, "/api/preview/"+jobID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel = %d, want 409 when the job already finished", rec.Code)
	}
	if cancelBody["error"] != "already_finished" {
		t.Errorf("error = %v", cancelBody["error"])
	}

	stored, _ := store.GetByID(context.Background(), jobID)
	if stored.Status != domain.StatusLive {
		t.Errorf("status = %s, completed job must not be reported canceled", stored.Status)
	}
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	store := newMemStore()
	p := domain.NewPreview("todo app", "u1")
	p.Status = domain.StatusLive
	_ = store.Create(context.Background(), p)
	h := newTestServer(t, store, newMemQueue())

	rec, body := doJSON(t, h, http.MethodDelete, "/api/preview/"+p.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel = %d, want 409", rec.Code)
	}
	if body["error"] != "already_finished" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestCancelUnknownJob(t *testing.T) {
	h := newTestServer(t, newMemStore(), newMemQueue())

	rec, _ := doJSON(t, h, http.MethodDelete, "/api/preview/preview_1_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel = %d, want 404", rec.Code)
	}
}

func TestListByOwner(t *testing.T) {
	store := newMemStore()
	for _, prompt := range []string{"todo app", "blog"} {
		_ = store.Create(context.Background(), domain.NewPreview(prompt, "u1"))
	}
	_ = store.Create(context.Background(), domain.NewPreview("other", "u2"))
	h := newTestServer(t, store, newMemQueue())

	rec, body := doJSON(t, h, http.MethodGet, "/api/previews/u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	items, _ := body["items"].([]any)
	if len(items) != 2 {
		t.Errorf("items = %d, want 2", len(items))
	}
}

func TestQueueStats(t *testing.T) {
	q := newMemQueue()
	q.counts = queue.Counts{Waiting: 3, Active: 2, Completed: 10, Failed: 1}
	q.paused = true
	h := newTestServer(t, newMemStore(), q)

	rec, body := doJSON(t, h, http.MethodGet, "/api/queue/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d", rec.Code)
	}
	if body["isPaused"] != true {
		t.Errorf("isPaused = %v", body["isPaused"])
	}
	if body["workers"] != float64(2) {
		t.Errorf("workers = %v", body["workers"])
	}
	counts, _ := body["counts"].(map[string]any)
	if counts["waiting"] != float64(3) || counts["failed"] != float64(1) {
		t.Errorf("counts = %v", counts)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, newMemStore(), newMemQueue())

	rec, body := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestHealthDegradedWhenQueueDown(t *testing.T) {
	q := newMemQueue()
	q.pingErr = errors.New("connection refused")
	h := newTestServer(t, newMemStore(), q)

	rec, body := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health = %d, want 503", rec.Code)
	}
	if body["queue"] != false {
		t.Errorf("queue = %v, want false", body["queue"])
	}
}
