package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/baseline"
	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/directory"
	"github.com/mikey/misdelivery-guard/internal/keywords"
	"github.com/mikey/misdelivery-guard/internal/scoring"
	"github.com/mikey/misdelivery-guard/internal/topic"
)

const serverRulesJSON = `{
	"normal_threshold": 2,
	"topics": {
		"finance": {
			"single_keywords": ["invoice", "payment"],
			"phrases": ["wire transfer"]
		}
	}
}`

const serverBaselineJSON = `{
	"meta": {"days": 35, "user_count": 1, "message_count": 4},
	"users": {
		"u1": {
			"known_participants": ["u2"],
			"known_external_domains": [],
			"hour_histogram": {},
			"weekend_rate": 0,
			"recipient_mean": 1,
			"recipient_std": 0,
			"attachment_rate": 0,
			"attachment_types": {},
			"topic_histogram": {"normal": 4},
			"rare_topics": [],
			"topic_recipient_counts": {"normal": {"u2": 4}},
			"topic_external_domain_counts": {}
		}
	}
}`

type listerFunc func(ctx context.Context) ([]core.GraphUser, error)

func (f listerFunc) ListUsers(ctx context.Context) ([]core.GraphUser, error) { return f(ctx) }

type stubGraph struct{}

func (stubGraph) ListUsers(context.Context) ([]core.GraphUser, error) { return nil, nil }
func (stubGraph) ListUserChats(context.Context, string) ([]core.Chat, error) {
	return nil, nil
}
func (stubGraph) ListChatMessagesSince(context.Context, string, string) ([]core.Message, error) {
	return nil, nil
}

type failingExplainer struct{}

func (failingExplainer) Explain(context.Context, *core.ExplainRequest) (*core.Explanation, error) {
	return nil, errors.New("model unavailable")
}

type serverFixture struct {
	server    *Server
	store     *baseline.Store
	rulesPath string
}

func newFixture(t *testing.T, explainer core.Explainer) *serverFixture {
	t.Helper()
	logger := zap.NewNop()
	dir := t.TempDir()

	baselinePath := filepath.Join(dir, "baseline.json")
	if err := os.WriteFile(baselinePath, []byte(serverBaselineJSON), 0o644); err != nil {
		t.Fatalf("write baseline: %v", err)
	}
	store := baseline.NewStore(baselinePath, logger)
	store.Reload()

	rulesPath := filepath.Join(dir, "topic_keywords.json")
	if err := os.WriteFile(rulesPath, []byte(serverRulesJSON), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	rules, err := topic.ParseRules([]byte(serverRulesJSON))
	if err != nil {
		t.Fatalf("parse rules: %v", err)
	}
	classifier := topic.NewClassifier(rules, topic.PolicyThreshold)

	identities := directory.New(listerFunc(func(context.Context) ([]core.GraphUser, error) {
		return []core.GraphUser{
			{ID: "u1", DisplayName: "Anita Desai", Mail: "anita@company.com"},
			{ID: "u2", DisplayName: "Rahul Verma", Mail: "rahul@company.com"},
		}, nil
	}), logger)
	if err := identities.Reload(context.Background()); err != nil {
		t.Fatalf("directory reload: %v", err)
	}

	termStore, err := keywords.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("term store: %v", err)
	}
	t.Cleanup(func() { termStore.Close() })
	if err := termStore.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	scorer := scoring.NewScorer(classifier, identities, "company.com", logger)
	service := NewService(scorer, store, explainer, logger)
	builder := baseline.NewBuilder(stubGraph{}, classifier, nil, nil, core.NewBuildStatus(), baseline.BuilderOptions{
		OutputPath:       filepath.Join(dir, "built.json"),
		KeywordStatsPath: filepath.Join(dir, "keyword_stats.json"),
	}, logger)

	server := New(service, builder, store, identities, termStore, classifier, Options{
		ListenAddr:  "127.0.0.1:0",
		RulesPath:   rulesPath,
		DefaultDays: 35,
	}, logger)

	return &serverFixture{server: server, store: store, rulesPath: rulesPath}
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCheckRoutineDraftAllows(t *testing.T) {
	fixture := newFixture(t, nil)

	rec := doJSON(t, fixture.server.Handler(), http.MethodPost, "/v1/pre-send/check",
		`{"senderUserId":"u1","to":[{"userId":"u2","email":"rahul@company.com"}],"messageText":"lunch tomorrow?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp checkResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Decision != core.DecisionAllow || resp.Score != 0 {
		t.Errorf("decision = %s score = %d", resp.Decision, resp.Score)
	}
	if !strings.Contains(resp.Explanation, "No strong misdelivery signals") {
		t.Errorf("explanation = %q", resp.Explanation)
	}
}

func TestCheckRequiresSender(t *testing.T) {
	fixture := newFixture(t, nil)

	rec := doJSON(t, fixture.server.Handler(), http.MethodPost, "/v1/pre-send/check",
		`{"to":[{"email":"rahul@company.com"}],"messageText":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCheckFallsBackWhenExplainerFails(t *testing.T) {
	fixture := newFixture(t, failingExplainer{})

	rec := doJSON(t, fixture.server.Handler(), http.MethodPost, "/v1/pre-send/check",
		`{"senderUserId":"unknown-sender","to":[{"email":"someone@partner.io"}],"messageText":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp checkResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Decision != core.DecisionWarn {
		t.Errorf("decision = %s, want WARN for missing baseline", resp.Decision)
	}
	if !strings.Contains(resp.Explanation, "No historical baseline") {
		t.Errorf("explanation = %q, want fallback text", resp.Explanation)
	}
	if resp.Signals.UserPrompt == "" {
		t.Error("user prompt missing from signals")
	}
}

func TestSenderProfileLookup(t *testing.T) {
	fixture := newFixture(t, nil)
	handler := fixture.server.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/v1/baseline/u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var profile core.SenderProfile
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(profile.KnownParticipants) != 1 || profile.KnownParticipants[0] != "u2" {
		t.Errorf("profile = %+v", profile)
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/baseline/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestBuildStatusAndTrigger(t *testing.T) {
	fixture := newFixture(t, nil)
	handler := fixture.server.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/v1/baseline/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status core.BuildStatusSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.State != core.BuildStateIdle {
		t.Errorf("state = %s, want idle", status.State)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/baseline/build", `{"days":7}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = doJSON(t, handler, http.MethodGet, "/v1/baseline/status", "")
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if status.State == core.BuildStateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("build never completed, state = %s error = %s", status.State, status.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReloadEndpointsAndHealth(t *testing.T) {
	fixture := newFixture(t, nil)
	handler := fixture.server.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/v1/baseline/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("baseline reload status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/v1/users/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("users reload status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var health struct {
		Status         string `json:"status"`
		BaselineUsers  int    `json:"baseline_users"`
		DirectoryUsers int    `json:"directory_users"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.BaselineUsers != 1 || health.DirectoryUsers != 2 {
		t.Errorf("health = %+v", health)
	}
}

func TestKeywordReviewAddUpdatesRulesAndPersists(t *testing.T) {
	fixture := newFixture(t, nil)
	handler := fixture.server.Handler()

	seed := `{"items":[
		{"topic":"finance","term":"remittance","termType":"keyword","action":"ignore"}
	]}`
	rec := doJSON(t, handler, http.MethodPost, "/v1/keywords/review", seed)
	if rec.Code != http.StatusOK {
		t.Fatalf("review status = %d", rec.Code)
	}

	add := `{"items":[
		{"topic":"finance","term":"settlement batch","termType":"phrase","action":"add"}
	]}`
	rec = doJSON(t, handler, http.MethodPost, "/v1/keywords/review", add)
	if rec.Code != http.StatusOK {
		t.Fatalf("review status = %d", rec.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["updated"] != 1 {
		t.Errorf("updated = %d, want 1", resp["updated"])
	}

	// The added phrase alone must now classify as finance (phrase weight 2).
	check := `{"senderUserId":"u1","to":[{"userId":"u2","email":"rahul@company.com"}],"messageText":"settlement batch attached"}`
	rec = doJSON(t, handler, http.MethodPost, "/v1/pre-send/check", check)
	var checkResp checkResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &checkResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if checkResp.Topic != "finance" {
		t.Errorf("topic = %s, want finance after rule addition", checkResp.Topic)
	}

	persisted, err := os.ReadFile(fixture.rulesPath)
	if err != nil {
		t.Fatalf("read rules: %v", err)
	}
	if !strings.Contains(string(persisted), "settlement batch") {
		t.Error("added phrase not persisted to rules file")
	}
}

func TestKeywordExportReflectsReviewState(t *testing.T) {
	fixture := newFixture(t, nil)
	handler := fixture.server.Handler()

	review := `{"items":[
		{"topic":"finance","term":"remittance","termType":"keyword","action":"ignore"}
	]}`
	rec := doJSON(t, handler, http.MethodPost, "/v1/keywords/review", review)
	if rec.Code != http.StatusOK {
		t.Fatalf("review status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/keywords/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	var snapshot core.KeywordSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	entry, ok := snapshot.Topics["finance"].Keywords["remittance"]
	if !ok {
		t.Fatalf("exported topics = %+v", snapshot.Topics)
	}
	if !entry.Ignored || entry.ReasonForIgnore != core.IgnoreReasonSuppressed {
		t.Errorf("entry = %+v, want ignored with suppression reason", entry)
	}
}

func TestKeywordSuggestionsRequireTopic(t *testing.T) {
	fixture := newFixture(t, nil)
	handler := fixture.server.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/v1/keywords/suggestions", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/v1/keywords/suggestions?topic=finance", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
