package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"FinFuse/internal/domain/models"
	"FinFuse/internal/middleware"
	"FinFuse/internal/repository"
	"FinFuse/internal/service/execution"
	"FinFuse/internal/usecase"
	"FinFuse/pkg/cache"
	xhttp "FinFuse/pkg/http"
	"FinFuse/pkg/logger"
	"FinFuse/pkg/metrics"
	"FinFuse/pkg/queue"
	"FinFuse/pkg/scheduler"

	"github.com/labstack/echo/v4"
)

type apiFixture struct {
	e     *echo.Echo
	store *repository.MemorySignalStore
	mgr   *queue.Manager
	jobs  *usecase.JobService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	lgr := logger.NewNop()
	store := repository.NewMemorySignalStore()
	archive, events, rec := repository.NopArchive{}, repository.NopPublisher{}, metrics.Nop{}
	life := usecase.NewLifecycle(store, archive, events, rec, lgr)
	agg := usecase.NewAggregator(store, archive, events, rec, lgr, nil)
	mgr := queue.NewManager(lgr, scheduler.New())
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })

	signals := usecase.NewSignalService(store, archive, events, rec, life, lgr)
	pipe := middleware.NewIngestPipeline(signals, rec, lgr)
	decisions := usecase.NewDecisionService(store, agg, life, mgr, c, archive, rec, lgr, usecase.DecisionConfig{})
	exec := usecase.NewTradeExecutor(store, life, execution.NewPaperAdapter(lgr, 0), rec, lgr, 0)
	jobs := usecase.NewJobService(mgr, exec)
	mon := usecase.NewMonitor(mgr, store, events, rec, lgr)

	e := echo.New()
	e.HTTPErrorHandler = xhttp.ErrorHandler(lgr)
	NewRouter(
		NewSignalsHandler(lgr, pipe, signals),
		NewDecisionsHandler(decisions),
		NewJobsHandler(jobs, mon),
	).RegisterRoutes(e)
	return &apiFixture{e: e, store: store, mgr: mgr, jobs: jobs}
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec.Code, env
}

func submit(t *testing.T, f *apiFixture, body string) models.Signal {
	t.Helper()
	code, env := f.do(t, http.MethodPost, "/api/signals", body)
	if code != http.StatusCreated {
		t.Fatalf("submit status %d: %s", code, env.Data)
	}
	var sig models.Signal
	if err := json.Unmarshal(env.Data, &sig); err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	return sig
}

func TestSignalRoutes(t *testing.T) {
	f := newAPIFixture(t)
	sig := submit(t, f, `{"symbol":"btc","action":"buy","confidence":82,"source":"technical","price":"64000"}`)
	if sig.Symbol != "BTC" || sig.Status != models.StatusPending || sig.Version != 1 {
		t.Fatalf("unexpected signal %+v", sig)
	}

	if code, _ := f.do(t, http.MethodGet, "/api/signals/"+sig.ID, ""); code != http.StatusOK {
		t.Fatalf("get status %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/signals/missing", ""); code != http.StatusNotFound {
		t.Fatalf("missing signal status %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/signals?symbol=BTC&status=pending", ""); code != http.StatusOK {
		t.Fatalf("list status %d", code)
	}

	if code, _ := f.do(t, http.MethodPost, "/api/signals/"+sig.ID+"/cancel", `{}`); code != http.StatusBadRequest {
		t.Fatalf("cancel without reason status %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/signals/"+sig.ID+"/cancel", `{"reason":"stale idea"}`); code != http.StatusOK {
		t.Fatalf("cancel status %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/signals/"+sig.ID+"/cancel", `{"reason":"again"}`); code != http.StatusConflict {
		t.Fatalf("second cancel status %d, want 409", code)
	}
}

func TestSubmitRejectsInvalidSignals(t *testing.T) {
	f := newAPIFixture(t)
	for _, body := range []string{
		`{"symbol":"BTC","action":"buy","confidence":120,"source":"technical"}`,
		`{"symbol":"BTC","action":"buy","confidence":50,"source":"composite"}`,
		`{"symbol":"BTC","action":"buy","confidence":50,"source":"technical","timeframe":"2h"}`,
	} {
		if code, _ := f.do(t, http.MethodPost, "/api/signals", body); code != http.StatusBadRequest {
			t.Fatalf("%s: status %d, want 400", body, code)
		}
	}
	if pending, _ := f.store.ListPending(context.Background()); len(pending) != 0 {
		t.Fatalf("invalid signals stored")
	}
}

func TestDecisionRoutes(t *testing.T) {
	f := newAPIFixture(t)
	if code, _ := f.do(t, http.MethodGet, "/api/decisions/BTC", ""); code != http.StatusNotFound {
		t.Fatalf("no decision yet: status %d", code)
	}
	submit(t, f, `{"symbol":"BTC","action":"buy","confidence":90,"source":"technical"}`)
	submit(t, f, `{"symbol":"BTC","action":"buy","confidence":85,"source":"pattern"}`)

	code, env := f.do(t, http.MethodPost, "/api/decisions/btc", "")
	if code != http.StatusOK {
		t.Fatalf("decision status %d", code)
	}
	var res models.FusionResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Dispatched || res.JobID == "" || res.Action != models.ActionBuy {
		t.Fatalf("unexpected decision %+v", res)
	}

	if code, _ := f.do(t, http.MethodGet, "/api/decisions/BTC", ""); code != http.StatusOK {
		t.Fatalf("cached decision status %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/jobs/"+res.JobID, ""); code != http.StatusOK {
		t.Fatalf("job status %d", code)
	}
	code, env = f.do(t, http.MethodGet, "/api/queues/trade/counts", "")
	var counts queue.Counts
	_ = json.Unmarshal(env.Data, &counts)
	if code != http.StatusOK || counts.Queued != 1 {
		t.Fatalf("counts status %d: %+v", code, counts)
	}
}

func TestJobRoutes(t *testing.T) {
	f := newAPIFixture(t)
	code, env := f.do(t, http.MethodPost, "/api/jobs", `{"lane":"analysis","payload":{"symbol":"ETH","source":"technical"},"priority":5,"idempotencyKey":"k1"}`)
	if code != http.StatusAccepted {
		t.Fatalf("enqueue status %d: %s", code, env.Data)
	}
	var job queue.Job
	if err := json.Unmarshal(env.Data, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Lane != queue.LaneAnalysis || job.Priority != 5 || job.State != queue.StateQueued {
		t.Fatalf("unexpected job %+v", job)
	}

	_, env = f.do(t, http.MethodPost, "/api/jobs", `{"lane":"analysis","payload":{"symbol":"ETH"},"idempotencyKey":"k1"}`)
	var again queue.Job
	_ = json.Unmarshal(env.Data, &again)
	if again.ID != job.ID {
		t.Fatalf("idempotent enqueue returned %s, want %s", again.ID, job.ID)
	}

	if code, _ := f.do(t, http.MethodPost, "/api/jobs", `{"lane":"nope","payload":{"a":1}}`); code != http.StatusBadRequest {
		t.Fatalf("unknown lane status %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/queues/nope/counts", ""); code != http.StatusBadRequest {
		t.Fatalf("unknown lane counts status %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/jobs/missing", ""); code != http.StatusNotFound {
		t.Fatalf("missing job status %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/outcome", `{"success":true}`); code != http.StatusConflict {
		t.Fatalf("outcome without waiting worker status %d, want 409", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/status", ""); code != http.StatusOK {
		t.Fatalf("status endpoint %d", code)
	}
}

type stubDeadLetters struct {
	lane  queue.Lane
	limit int64
}

func (s *stubDeadLetters) List(_ context.Context, lane queue.Lane, limit int64) ([]queue.DeadLetter, error) {
	s.lane, s.limit = lane, limit
	return []queue.DeadLetter{{Job: queue.Job{ID: "job-9", Lane: lane, State: queue.StateExhausted}, Error: "adapter failure"}}, nil
}

func TestDeadLetterRoute(t *testing.T) {
	f := newAPIFixture(t)
	if code, _ := f.do(t, http.MethodGet, "/api/queues/trade/dead-letters", ""); code != http.StatusNotFound {
		t.Fatalf("dead letters without a store status %d, want 404", code)
	}

	dl := &stubDeadLetters{}
	f.jobs.SetDeadLetters(dl)
	if code, _ := f.do(t, http.MethodGet, "/api/queues/bogus/dead-letters", ""); code != http.StatusBadRequest {
		t.Fatalf("bad lane status %d, want 400", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/queues/trade/dead-letters?limit=5000", ""); code != http.StatusBadRequest {
		t.Fatalf("oversized limit status %d, want 400", code)
	}

	code, env := f.do(t, http.MethodGet, "/api/queues/trade/dead-letters?limit=5", "")
	if code != http.StatusOK {
		t.Fatalf("dead letters status %d", code)
	}
	var items []queue.DeadLetter
	if err := json.Unmarshal(env.Data, &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].Job.ID != "job-9" || dl.lane != queue.LaneTrade || dl.limit != 5 {
		t.Fatalf("unexpected listing %+v lane=%s limit=%d", items, dl.lane, dl.limit)
	}
}
