package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/httpx"
)

func testClient() *httpx.Client {
	return httpx.New(httpx.Options{MaxRetries: 0}, zap.NewNop())
}

func TestExplainerReturnsGeneratedText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/explain" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req core.ExplainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Decision != core.DecisionWarn {
			t.Errorf("decision = %q", req.Decision)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"explanation": "  This may be the wrong recipient.  ",
			"user_prompt": "Double-check before sending.",
		})
	}))
	defer server.Close()

	explainer := NewExplainer(server.URL, testClient(), zap.NewNop())
	result, err := explainer.Explain(context.Background(), &core.ExplainRequest{Decision: core.DecisionWarn})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if result.Explanation != "This may be the wrong recipient." {
		t.Errorf("Explanation = %q", result.Explanation)
	}
	if result.UserPrompt != "Double-check before sending." {
		t.Errorf("UserPrompt = %q", result.UserPrompt)
	}
}

func TestExplainerEmptyExplanationIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"explanation": "   "})
	}))
	defer server.Close()

	explainer := NewExplainer(server.URL, testClient(), zap.NewNop())
	if _, err := explainer.Explain(context.Background(), &core.ExplainRequest{}); err == nil {
		t.Fatal("expected error for empty explanation")
	}
}

func TestMinerNormalizesAllCountShapes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/keywords/extract" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"topics": {
				"finance": {
					"keywords": {"Budget": 3, "": 4, "zero": 0},
					"phrases": ["wire transfer", "wire transfer"]
				},
				"legal": {
					"keywords": [{"term": "NDA", "count": 2}, {"term": "clause"}],
					"phrases": {}
				}
			}
		}`))
	}))
	defer server.Close()

	miner := NewMiner(server.URL, testClient(), zap.NewNop())
	mined := miner.Extract(context.Background(), []string{"msg"})

	if got := mined["finance"].Keywords["budget"]; got != 3 {
		t.Errorf("budget = %d, want 3 (lowercased)", got)
	}
	if len(mined["finance"].Keywords) != 1 {
		t.Errorf("keywords = %v, blanks and zero counts must drop", mined["finance"].Keywords)
	}
	if got := mined["finance"].Phrases["wire transfer"]; got != 2 {
		t.Errorf("wire transfer = %d, want 2 (list entries count once each)", got)
	}
	if got := mined["legal"].Keywords["nda"]; got != 2 {
		t.Errorf("nda = %d, want 2", got)
	}
	if got := mined["legal"].Keywords["clause"]; got != 1 {
		t.Errorf("clause = %d, want 1 (missing count defaults to 1)", got)
	}
}

func TestMinerFailureYieldsEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	miner := NewMiner(server.URL, testClient(), zap.NewNop())
	mined := miner.Extract(context.Background(), []string{"msg"})
	if len(mined) != 0 {
		t.Errorf("mined = %v, want empty", mined)
	}
}

func TestMinerSkipsEmptyBatch(t *testing.T) {
	miner := NewMiner("http://unused.invalid", testClient(), zap.NewNop())
	if mined := miner.Extract(context.Background(), nil); len(mined) != 0 {
		t.Errorf("mined = %v, want empty", mined)
	}
}
