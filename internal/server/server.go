package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/baseline"
	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/directory"
	"github.com/mikey/misdelivery-guard/internal/topic"
)

// Server is the HTTP front-end.
type Server struct {
	service     *Service
	builder     *baseline.Builder
	store       *baseline.Store
	directory   *directory.Directory
	termStore   core.TermStore
	classifier  *topic.Classifier
	rulesPath   string
	defaultDays int
	logger      *zap.Logger

	http *http.Server
}

// Options configure the HTTP server.
type Options struct {
	ListenAddr  string
	RulesPath   string
	DefaultDays int
}

// New wires the HTTP server over its collaborators.
func New(
	service *Service,
	builder *baseline.Builder,
	store *baseline.Store,
	dir *directory.Directory,
	termStore core.TermStore,
	classifier *topic.Classifier,
	opts Options,
	logger *zap.Logger,
) *Server {
	s := &Server{
		service:     service,
		builder:     builder,
		store:       store,
		directory:   dir,
		termStore:   termStore,
		classifier:  classifier,
		rulesPath:   opts.RulesPath,
		defaultDays: opts.DefaultDays,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/pre-send/check", s.handleCheck)
	mux.HandleFunc("POST /v1/baseline/build", s.handleBuild)
	mux.HandleFunc("GET /v1/baseline/status", s.handleBuildStatus)
	mux.HandleFunc("GET /v1/baseline/{userID}", s.handleSenderProfile)
	mux.HandleFunc("POST /v1/baseline/reload", s.handleBaselineReload)
	mux.HandleFunc("POST /v1/users/reload", s.handleUsersReload)
	mux.HandleFunc("GET /v1/keywords/topics", s.handleKeywordTopics)
	mux.HandleFunc("GET /v1/keywords/suggestions", s.handleKeywordSuggestions)
	mux.HandleFunc("POST /v1/keywords/review", s.handleKeywordReview)
	mux.HandleFunc("GET /v1/keywords/export", s.handleKeywordExport)
	mux.HandleFunc("GET /v1/health", s.handleHealth)

	s.http = &http.Server{
		Addr:         opts.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler exposes the routing table, used by tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("address", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type checkResponse struct {
	core.ScoringResult
	Explanation string `json:"explanation"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var draft core.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if draft.SenderUserID == "" {
		writeError(w, http.StatusBadRequest, "senderUserId is required")
		return
	}

	result := s.service.Check(r.Context(), &draft)
	explanation, userPrompt := s.service.Explain(r.Context(), result)
	result.Signals.UserPrompt = userPrompt

	writeJSON(w, http.StatusOK, checkResponse{
		ScoringResult: *result,
		Explanation:   explanation,
	})
}

type buildRequest struct {
	Days int `json:"days"`
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if r.Body != nil {
		// An empty body means "use the configured window".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	days := req.Days
	if days <= 0 {
		days = s.defaultDays
	}

	if s.builder.Status().Running() {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "already_running"})
		return
	}

	go func() {
		if _, err := s.builder.Build(context.Background(), days); err != nil {
			if !errors.Is(err, baseline.ErrBuildInProgress) {
				s.logger.Error("Background baseline build failed", zap.Error(err))
			}
			return
		}
		s.store.Reload()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleBuildStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.builder.Status().Snapshot())
}

func (s *Server) handleSenderProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	profile := s.store.GetSenderProfile(userID)
	if profile == nil {
		writeError(w, http.StatusNotFound, "no baseline for user")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleBaselineReload(w http.ResponseWriter, r *http.Request) {
	s.store.Reload()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"users":  s.store.UserCount(),
	})
}

func (s *Server) handleUsersReload(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.Reload(r.Context()); err != nil {
		s.logger.Error("Identity directory reload failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "directory reload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"users":  s.directory.Count(),
	})
}

func (s *Server) handleKeywordTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.termStore.ListTopics(r.Context())
	if err != nil {
		s.logger.Error("Failed to list keyword topics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list topics")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"topics": topics})
}

func (s *Server) handleKeywordSuggestions(w http.ResponseWriter, r *http.Request) {
	topicName := r.URL.Query().Get("topic")
	if topicName == "" {
		writeError(w, http.StatusBadRequest, "topic query parameter is required")
		return
	}
	suggestions, err := s.termStore.ListSuggestions(r.Context(), topicName)
	if err != nil {
		s.logger.Error("Failed to list keyword suggestions",
			zap.String("topic", topicName),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list suggestions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic":       topicName,
		"suggestions": suggestions,
	})
}

type reviewRequest struct {
	Items []core.ReviewItem `json:"items"`
}

func (s *Server) handleKeywordReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.termStore.ApplyReview(r.Context(), req.Items)
	if err != nil {
		s.logger.Error("Keyword review failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "review failed")
		return
	}

	added := 0
	for _, item := range req.Items {
		if item.Action != "add" || item.Topic == "" || item.Term == "" {
			continue
		}
		s.classifier.AddTerm(item.Topic, item.Term, item.TermType)
		added++
	}
	if added > 0 {
		if err := s.persistRules(); err != nil {
			s.logger.Error("Failed to persist topic rules after review", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) handleKeywordExport(w http.ResponseWriter, r *http.Request) {
	meta := s.store.Meta()
	snapshot, err := s.termStore.ExportSnapshot(r.Context(), meta.Days, meta.MessageCount, 0)
	if err != nil {
		s.logger.Error("Keyword export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"baseline_users":  s.store.UserCount(),
		"directory_users": s.directory.Count(),
		"build":           s.builder.Status().Snapshot(),
	})
}

// persistRules writes the live rule set back to the rules file so review
// additions survive restarts.
func (s *Server) persistRules() error {
	if s.rulesPath == "" {
		return nil
	}
	encoded, err := json.MarshalIndent(s.classifier.Rules(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.rulesPath, encoded, 0o644)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
