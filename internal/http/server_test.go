package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/canary"
	"github.com/fyrsmithlabs/rolloutd/internal/eventlog"
	"github.com/fyrsmithlabs/rolloutd/internal/feedback"
	"github.com/fyrsmithlabs/rolloutd/internal/guard"
	"github.com/fyrsmithlabs/rolloutd/internal/lifecycle"
	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"github.com/fyrsmithlabs/rolloutd/internal/risk"
	"github.com/fyrsmithlabs/rolloutd/internal/tasks"
	"github.com/fyrsmithlabs/rolloutd/internal/timeline"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *Server
	audit  *eventlog.Log
	smoke  *canary.StaticSmokeRunner
}

func setupTestServer(t *testing.T, cfg *Config) *testEnv {
	t.Helper()

	classifier, err := risk.NewClassifier(risk.DefaultConfig())
	require.NoError(t, err)
	validator, err := guard.NewValidator(guard.DefaultRules())
	require.NoError(t, err)
	evaluator, err := feedback.NewEvaluator(feedback.DefaultConfig())
	require.NoError(t, err)
	audit, err := eventlog.New(context.Background(), eventlog.NewMemoryStore())
	require.NoError(t, err)
	sup := tasks.NewSupervisor(nil)
	sched := tasks.NewScheduler(sup)

	manager, err := lifecycle.NewManager(lifecycle.DefaultConfig(), lifecycle.Deps{
		Classifier: classifier,
		Guard:      validator,
		Evaluator:  evaluator,
		Audit:      audit,
		Tasks:      sup,
	})
	require.NoError(t, err)

	canaryCfg := canary.DefaultConfig()
	canaryCfg.SmokeDelay = time.Hour
	canaryCfg.CleanupDelay = time.Hour
	reg := prometheus.NewRegistry()
	smoke := canary.NewStaticSmokeRunner(nil)
	orch, err := canary.NewOrchestrator(canaryCfg, canary.Deps{
		Backend:   canary.NewLocalBackend("canary/", nil),
		Validator: canary.NewStaticValidator(nil),
		Smoke:     smoke,
		Audit:     audit,
		Tasks:     sup,
		Scheduler: sched,
		Admission: manager,
		Metrics:   canary.NewMetrics(reg),
	})
	require.NoError(t, err)

	s, err := NewServer(Deps{
		Lifecycle: manager,
		Canary:    orch,
		Guard:     validator,
		Audit:     audit,
		Gatherer:  reg,
		Logger:    logging.NewNop(),
	}, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		sched.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Close(ctx)
		_ = audit.Close()
	})
	return &testEnv{server: s, audit: audit, smoke: smoke}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(ActorHeader, "alice")
	rec := httptest.NewRecorder()
	e.server.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func uiSubmission() lifecycle.SubmitRequest {
	return lifecycle.SubmitRequest{
		Title:  "Tighten button padding",
		Type:   "style",
		Scope:  []string{"ui"},
		KPIKey: "conversion",
		Files: []lifecycle.FileChange{
			{Path: "src/components/Button.tsx", Action: "modify"},
		},
	}
}

func (e *testEnv) submit(t *testing.T, req lifecycle.SubmitRequest) *lifecycle.Proposal {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/proposals", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*lifecycle.Proposal](t, rec)
}

func TestNewServer(t *testing.T) {
	t.Run("returns error when components are missing", func(t *testing.T) {
		_, err := NewServer(Deps{Logger: logging.NewNop()}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "are required")
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		env := setupTestServer(t, nil)
		assert.Equal(t, "localhost", env.server.config.Host)
		assert.Equal(t, 8085, env.server.config.Port)
		assert.Equal(t, 15*time.Second, env.server.config.SSEHeartbeat)
	})
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t, nil)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestProposalLifecycle(t *testing.T) {
	env := setupTestServer(t, nil)
	p := env.submit(t, uiSubmission())

	assert.Equal(t, lifecycle.StatusPending, p.Status)
	assert.Equal(t, "alice", p.SubmittedBy)
	assert.Equal(t, risk.LevelLow, p.RiskAssessment.Level)

	rec := env.do(t, http.MethodGet, "/api/v1/proposals/"+p.ID+"/risk", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rr := decode[RiskResponse](t, rec)
	assert.True(t, rr.Eligibility.Eligible)

	rec = env.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[lifecycle.Result](t, rec)
	assert.Equal(t, lifecycle.StatusApproved, res.Status)
	assert.Equal(t, p.CorrelationID, res.CorrelationID)
	assert.True(t, res.Changed)

	observed := 112.0
	rec = env.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/apply", ApplyRequest{
		ApplyOptions: lifecycle.ApplyOptions{Observed: &observed},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[lifecycle.Result](t, rec)
	assert.Equal(t, lifecycle.StatusApplied, res.Status)
	require.NotNil(t, res.Feedback)
	assert.Equal(t, feedback.OutcomeImproved, res.Feedback.Outcome)

	rec = env.do(t, http.MethodGet, "/api/v1/proposals?status=applied", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ProposalList](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, p.ID, list.Proposals[0].ID)

	rec = env.do(t, http.MethodGet, "/api/v1/proposals?status=pending", nil)
	assert.Equal(t, 0, decode[ProposalList](t, rec).Count)

	rec = env.do(t, http.MethodGet, "/api/v1/feedback/conversion", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fb := decode[FeedbackResponse](t, rec)
	require.Len(t, fb.Records, 1)
	assert.Equal(t, 12.0, fb.Records[0].Delta)
	assert.Zero(t, fb.Regressions)
}

func TestRequestEditAndResubmit(t *testing.T) {
	env := setupTestServer(t, nil)
	p := env.submit(t, uiSubmission())

	rec := env.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/request-edit", ActionRequest{Note: "rename it"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, lifecycle.StatusEdited, decode[lifecycle.Result](t, rec).Status)

	title := "Tighten primary button padding"
	rec = env.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/resubmit", ResubmitRequest{
		EditRequest: lifecycle.EditRequest{Title: &title},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, lifecycle.StatusPending, decode[lifecycle.Result](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/api/v1/proposals/"+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, title, decode[*lifecycle.Proposal](t, rec).Title)
}

func TestErrorMapping(t *testing.T) {
	env := setupTestServer(t, nil)

	t.Run("validation failure is 400 with fields", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/proposals", lifecycle.SubmitRequest{Type: "style"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, CodeValidation, resp.Code)
		assert.NotEmpty(t, resp.Fields)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/proposals", strings.NewReader("{"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		env.server.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeBadRequest, decode[ErrorResponse](t, rec).Code)
	})

	t.Run("guard violation is 403 with violations", func(t *testing.T) {
		req := uiSubmission()
		req.Files = append(req.Files, lifecycle.FileChange{Path: "secrets/api.key", Action: "modify"})
		p := env.submit(t, req)

		rec := env.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/approve", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, CodeGuardBlocked, resp.Code)
		require.Len(t, resp.Violations, 1)
		assert.Equal(t, guard.RuleNeverTouch, resp.Violations[0].Rule)
	})

	t.Run("high risk is 409 with reason code", func(t *testing.T) {
		files := make([]lifecycle.FileChange, 0, 20)
		for i := 0; i < 19; i++ {
			files = append(files, lifecycle.FileChange{Path: fmt.Sprintf("src/components/Widget%d.tsx", i), Action: "modify"})
		}
		files = append(files, lifecycle.FileChange{Path: "server/auth/session.ts", Action: "modify"})
		p := env.submit(t, lifecycle.SubmitRequest{
			Title:       "Harden login",
			Description: "Harden password storage for the login form",
			Type:        "security",
			Files:       files,
		})

		rec := env.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/approve", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, CodeRiskIneligible, resp.Code)
		assert.Equal(t, risk.ReasonHighRisk, resp.ReasonCode)
	})

	t.Run("invalid transition is 409", func(t *testing.T) {
		p := env.submit(t, uiSubmission())
		rec := env.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/decline", ActionRequest{Reason: "no"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/request-edit", ActionRequest{Note: "too late"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, CodeInvalidTransition, decode[ErrorResponse](t, rec).Code)

		rec = env.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/approve", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[lifecycle.Result](t, rec)
		assert.False(t, res.Changed)
		assert.Equal(t, lifecycle.StatusDeclined, res.Status)
	})

	t.Run("unknown proposal is 404", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/proposals/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, CodeNotFound, decode[ErrorResponse](t, rec).Code)
	})

	t.Run("unknown status filter is 400", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/proposals?status=shipped", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown route is 404", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSubmitRateLimit(t *testing.T) {
	env := setupTestServer(t, &Config{Host: "localhost", Port: 8085, SubmitRate: 0.001, SubmitBurst: 1})

	env.submit(t, uiSubmission())
	rec := env.do(t, http.MethodPost, "/api/v1/proposals", uiSubmission())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, decode[ErrorResponse](t, rec).Code)

	// reads are not limited
	rec = env.do(t, http.MethodGet, "/api/v1/proposals", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardEndpoints(t *testing.T) {
	env := setupTestServer(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/guard/validate", GuardValidateRequest{
		Files: []guard.FileOperation{
			{Path: "src/components/Button.tsx", Operation: guard.OpModify},
			{Path: "deploy/app.yaml", Operation: guard.OpModify},
			{Path: "../etc/passwd", Operation: guard.OpModify},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decode[guard.BatchResult](t, rec)
	assert.True(t, batch.HasViolations)
	assert.True(t, batch.RequiresReview)
	require.Len(t, batch.Violations, 1)
	assert.Equal(t, guard.RulePathTraversal, batch.Violations[0].Rule)
	assert.Equal(t, []string{"deploy/app.yaml"}, batch.ReviewPaths())

	rec = env.do(t, http.MethodPost, "/api/v1/guard/check", guard.FileOperation{Path: ".env", Operation: guard.OpModify})
	require.Equal(t, http.StatusOK, rec.Code)
	verdict := decode[guard.Verdict](t, rec)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, guard.RuleNeverTouch, verdict.Rule)

	rec = env.do(t, http.MethodPost, "/api/v1/guard/validate", GuardValidateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCanaryFlow(t *testing.T) {
	env := setupTestServer(t, nil)
	p := env.submit(t, uiSubmission())
	start := canary.StartRequest{
		ProposalID: p.ID,
		Changes:    []canary.Change{{Path: "src/components/Button.tsx", Action: "modify"}},
	}

	rec := env.do(t, http.MethodPost, "/api/v1/canaries", start)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeNotAdmitted, decode[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/canaries", start)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decode[*canary.Run](t, rec)
	assert.Equal(t, canary.StatusSmokeTesting, run.Status)
	assert.Positive(t, run.TimeRemaining)

	rec = env.do(t, http.MethodPost, "/api/v1/canaries/"+run.ID+"/promote", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeInvalidState, decode[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/v1/canaries/"+run.ID+"/smoke-test", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, canary.StatusReady, decode[*canary.Run](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/api/v1/canaries/"+run.ID+"/promote", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, canary.StatusPromoted, decode[*canary.Run](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/api/v1/canaries/"+run.ID+"/rollback", ActionRequest{Reason: "too late"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/canaries/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[*canary.Run](t, rec)
	assert.Equal(t, canary.StatusPromoted, got.Status)
	assert.Zero(t, got.TimeRemaining)

	rec = env.do(t, http.MethodGet, "/api/v1/canaries", nil)
	assert.Equal(t, 1, decode[CanaryList](t, rec).Count)

	rec = env.do(t, http.MethodGet, "/api/v1/canaries/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCanaryRollback(t *testing.T) {
	env := setupTestServer(t, nil)
	p := env.submit(t, uiSubmission())
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/approve", nil).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/canaries", canary.StartRequest{
		ProposalID: p.ID,
		Changes:    []canary.Change{{Path: "src/components/Button.tsx"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decode[*canary.Run](t, rec)

	rec = env.do(t, http.MethodPost, "/api/v1/canaries/"+run.ID+"/rollback", ActionRequest{Reason: "error budget burn"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[*canary.Run](t, rec)
	assert.Equal(t, canary.StatusRolledBack, got.Status)
	assert.Equal(t, "error budget burn", got.RollbackReason)

	rec = env.do(t, http.MethodGet, "/api/v1/rollbacks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[RollbackList](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "alice", list.Rollbacks[0].Actor)
	assert.False(t, list.Rollbacks[0].Degraded)

	rec = env.do(t, http.MethodPost, "/api/v1/canaries", canary.StartRequest{ProposalID: p.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents(t *testing.T) {
	env := setupTestServer(t, nil)
	env.submit(t, uiSubmission())
	env.submit(t, uiSubmission())

	rec := env.do(t, http.MethodGet, "/api/v1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[EventList](t, rec)
	require.NotEmpty(t, all.Entries)
	assert.Equal(t, env.audit.LastID(), all.LastID)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/events?since=%d", all.Entries[0].ID), nil)
	rest := decode[EventList](t, rec)
	assert.Len(t, rest.Entries, len(all.Entries)-1)
	for i, e := range rest.Entries {
		assert.Equal(t, all.Entries[i+1].ID, e.ID)
	}

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/events?since=%d", all.LastID), nil)
	empty := decode[EventList](t, rec)
	assert.Empty(t, empty.Entries)
	assert.Equal(t, all.LastID, empty.LastID)

	rec = env.do(t, http.MethodGet, "/api/v1/events?since=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStream(t *testing.T) {
	env := setupTestServer(t, &Config{Host: "localhost", Port: 8085, SSEHeartbeat: 20 * time.Millisecond})
	first := env.submit(t, uiSubmission())
	cursor := env.audit.LastID()

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", fmt.Sprint(cursor-1))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	second := env.submit(t, uiSubmission())

	var (
		ids        []uint64
		types      []string
		heartbeats int
		subjects   []string
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() && (len(subjects) < 2 || heartbeats == 0) {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ": heartbeat"):
			heartbeats++
		case strings.HasPrefix(line, "id: "):
			var id uint64
			_, err := fmt.Sscanf(line, "id: %d", &id)
			require.NoError(t, err)
			ids = append(ids, id)
		case strings.HasPrefix(line, "event: "):
			types = append(types, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			var e eventlog.Entry
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
			if e.Type == timeline.ProposalSubmitted {
				subjects = append(subjects, e.SubjectID)
			}
		}
	}
	cancel()

	require.NotEmpty(t, ids)
	assert.Equal(t, cursor, ids[0])
	for i := 1; i < len(ids); i++ {
		assert.Equal(t, ids[i-1]+1, ids[i])
	}
	assert.Contains(t, types, timeline.ProposalSubmitted)
	assert.Equal(t, []string{first.ID, second.ID}, subjects)
	assert.Positive(t, heartbeats)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	p := env.submit(t, uiSubmission())
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/approve", nil).Code)
	rec := env.do(t, http.MethodPost, "/api/v1/canaries", canary.StartRequest{
		ProposalID: p.ID,
		Changes:    []canary.Change{{Path: "src/components/Button.tsx"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rolloutd_canary_runs{status="smoke-testing"} 1`)
}
