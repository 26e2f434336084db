package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/chat-anonymizer/internal/anonymizer"
	"github.com/raaihank/chat-anonymizer/internal/audit"
	"github.com/raaihank/chat-anonymizer/internal/cache"
	"github.com/raaihank/chat-anonymizer/internal/chat"
	"github.com/raaihank/chat-anonymizer/internal/config"
	"github.com/raaihank/chat-anonymizer/internal/links"
	"github.com/raaihank/chat-anonymizer/internal/mapping"
	"github.com/raaihank/chat-anonymizer/internal/stats"
	"github.com/raaihank/chat-anonymizer/internal/websocket"
)

// MappingPair is one user supplied substitution. An empty Kind is inferred
// from the original.
type MappingPair struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Kind        string `json:"kind,omitempty"`
}

// AnonymizeRequest is the body of POST /api/v1/anonymize. Empty settings
// fall back to the server configuration.
type AnonymizeRequest struct {
	Export   json.RawMessage `json:"export"`
	Mappings []MappingPair   `json:"mappings,omitempty"`
	Bulk     string          `json:"bulk,omitempty"`

	Mode          string `json:"mode,omitempty"`
	EmailDomain   string `json:"email_domain,omitempty"`
	SchemaPolicy  string `json:"schema_policy,omitempty"`
	LinkagePolicy string `json:"linkage_policy,omitempty"`
	LinkMode      string `json:"link_mode,omitempty"`

	// nil uses the configured categories, an empty list disables links
	LinkCategories []string `json:"link_categories"`
}

// AnonymizeResponse is the result of one anonymization run
type AnonymizeResponse struct {
	RunID        string                       `json:"run_id"`
	Export       json.RawMessage              `json:"export"`
	Linkage      map[string]string            `json:"linkage"`
	Conflicts    []anonymizer.LinkageConflict `json:"linkage_conflicts,omitempty"`
	Skipped      []int                        `json:"skipped"`
	Policy       string                       `json:"policy"`
	Replacements int                          `json:"replacements"`
	Collisions   []mapping.Collision          `json:"collisions,omitempty"`
	Bulk         *mapping.BulkResult          `json:"bulk,omitempty"`
	Stats        *stats.Stats                 `json:"stats"`
	Cached       bool                         `json:"cached"`
	DurationMs   int64                        `json:"duration_ms"`
}

// MappingsCheckRequest is the body of POST /api/v1/mappings/check
type MappingsCheckRequest struct {
	Mappings []MappingPair `json:"mappings,omitempty"`
	Bulk     string        `json:"bulk,omitempty"`
}

// MappingError reports a rejected entry of the mappings list
type MappingError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// MappingsCheckResponse reports what a mapping set would look like
type MappingsCheckResponse struct {
	Entries    int                 `json:"entries"`
	Errors     []MappingError      `json:"errors,omitempty"`
	Bulk       *mapping.BulkResult `json:"bulk,omitempty"`
	Collisions []mapping.Collision `json:"collisions,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Load()
	info := map[string]any{
		"name":            "chat-anonymizer",
		"version":         Version,
		"schema_policy":   cfg.Anonymization.SchemaPolicy,
		"linkage_policy":  cfg.Anonymization.LinkagePolicy,
		"link_mode":       cfg.Anonymization.LinkMode,
		"link_categories": links.Categories(),
		"mode":            cfg.Anonymization.Mode,
		"websocket":       cfg.WebSocket.Enabled,
		"rate_limit":      cfg.RateLimit.Enabled,
		"cache":           s.cache != nil,
		"audit":           s.runs != nil,
	}
	if cfg.WebSocket.Enabled {
		info["websocket_stats"] = s.wsHub.GetStats()
	}
	if sc, ok := s.cache.(interface{ Stats() cache.Stats }); ok {
		info["cache_stats"] = sc.Stats()
	}
	writeJSON(w, http.StatusOK, info)
}

// handleAnonymize runs one export through the engine
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	var req AnonymizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Export) == 0 {
		writeError(w, http.StatusBadRequest, "export is required")
		return
	}

	doc, err := chat.Parse(req.Export)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := s.config.Load()
	run, err := resolveRun(cfg, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	store := run.store
	mode, _ := mapping.ParseMode(run.mode)
	if mode != mapping.ModeManual {
		names, emails := chat.Entities(doc.Records)
		store, err = mapping.Generate(names, emails, store, mode, run.emailDomain)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	runID := newRunID()
	log = log.WithRunID(runID)
	run.opts.Progress = s.wsHub.Reporter(runID)

	engine, err := anonymizer.New(run.opts, log)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rs, err := engine.Compile(store, run.rules)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	collisions := store.Collisions()
	var cacheKey string
	if s.cache != nil {
		cacheKey = s.cache.Key(req.Export, rs.Fingerprint(), string(run.opts.SchemaPolicy), string(run.opts.LinkagePolicy))
		if entry, ok := s.cache.Get(r.Context(), cacheKey); ok {
			resp, err := cachedResponse(runID, entry, run.opts)
			if err == nil {
				resp.Collisions = collisions
				resp.Bulk = run.bulk
				s.wsHub.RunCompleted(websocket.RunCompletedEvent{
					RunID:        runID,
					Records:      len(doc.Records),
					Skipped:      len(resp.Skipped),
					Replacements: resp.Replacements,
					Collisions:   len(collisions),
					Cached:       true,
				})
				log.Info("Served anonymization from cache", zap.Int("records", len(doc.Records)))
				writeJSON(w, http.StatusOK, resp)
				return
			}
			log.Warn("Ignoring unreadable cache entry", zap.Error(err))
		}
	}

	startedAt := time.Now()
	result, err := engine.Run(r.Context(), doc.Records, rs)
	if err != nil {
		s.wsHub.RunCompleted(websocket.RunCompletedEvent{RunID: runID, Records: len(doc.Records), Error: err.Error()})
		switch {
		case errors.Is(err, chat.ErrSchema):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			log.Warn("Anonymization canceled", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "anonymization canceled")
		default:
			log.Error("Anonymization failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "anonymization failed")
		}
		return
	}
	result.Collisions = collisions

	output, err := doc.Export(result.Records)
	if err != nil {
		log.Error("Failed to export anonymized records", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export anonymized records")
		return
	}

	resp := &AnonymizeResponse{
		RunID:        runID,
		Export:       output,
		Linkage:      result.Linkage.Map(),
		Conflicts:    result.Linkage.Conflicts(),
		Skipped:      nonNil(result.Skipped),
		Policy:       string(result.Policy),
		Replacements: result.Replacements,
		Collisions:   collisions,
		Bulk:         run.bulk,
		Stats:        stats.Compute(result.Records, result.Linkage),
		DurationMs:   result.Duration.Milliseconds(),
	}

	if s.cache != nil {
		entry := &cache.Entry{
			Output:       output,
			Format:       "json",
			Linkage:      resp.Linkage,
			Skipped:      result.Skipped,
			Replacements: result.Replacements,
		}
		if err := s.cache.Set(r.Context(), cacheKey, entry); err != nil {
			log.Warn("Failed to cache result", zap.Error(err))
		}
	}
	if s.runs != nil {
		if err := s.runs.Record(r.Context(), audit.NewRun(runID, startedAt, run.opts, result)); err != nil {
			log.Warn("Failed to record run", zap.Error(err))
		}
	}

	s.wsHub.RunCompleted(websocket.RunCompletedEvent{
		RunID:        runID,
		Records:      len(result.Records),
		Skipped:      len(result.Skipped),
		Replacements: result.Replacements,
		Collisions:   len(collisions),
		DurationMs:   resp.DurationMs,
	})
	writeJSON(w, http.StatusOK, resp)
}

// runSettings is an anonymize request resolved against the configuration
type runSettings struct {
	opts        anonymizer.Options
	rules       []links.Rule
	store       *mapping.Store
	bulk        *mapping.BulkResult
	mode        string
	emailDomain string
}

func resolveRun(cfg *config.Config, req *AnonymizeRequest) (*runSettings, error) {
	settings := cfg.Anonymization
	if req.SchemaPolicy != "" {
		settings.SchemaPolicy = req.SchemaPolicy
	}
	if req.LinkagePolicy != "" {
		settings.LinkagePolicy = req.LinkagePolicy
	}
	if req.LinkMode != "" {
		settings.LinkMode = req.LinkMode
	}
	if req.LinkCategories != nil {
		settings.LinkCategories = req.LinkCategories
	}
	if req.Mode != "" {
		settings.Mode = req.Mode
	}
	if req.EmailDomain != "" {
		settings.EmailDomain = req.EmailDomain
	}

	opts, err := settings.EngineOptions()
	if err != nil {
		return nil, err
	}
	rules, err := settings.LinkRules()
	if err != nil {
		return nil, err
	}
	if _, err := mapping.ParseMode(settings.Mode); err != nil {
		return nil, err
	}

	store, errs, bulk := buildStore(req.Mappings, req.Bulk)
	if len(errs) > 0 {
		return nil, fmt.Errorf("mapping %d: %s", errs[0].Index, errs[0].Error)
	}

	return &runSettings{
		opts:        opts,
		rules:       rules,
		store:       store,
		bulk:        bulk,
		mode:        settings.Mode,
		emailDomain: settings.EmailDomain,
	}, nil
}

// buildStore loads explicit pairs first, then bulk lines
func buildStore(pairs []MappingPair, bulk string) (*mapping.Store, []MappingError, *mapping.BulkResult) {
	store := mapping.NewStore()
	var errs []MappingError
	for i, p := range pairs {
		var kind mapping.Kind
		if p.Kind != "" {
			k, err := mapping.ParseKind(p.Kind)
			if err != nil {
				errs = append(errs, MappingError{Index: i, Error: err.Error()})
				continue
			}
			kind = k
		}
		if err := store.Add(p.Original, p.Replacement, kind); err != nil {
			errs = append(errs, MappingError{Index: i, Error: err.Error()})
		}
	}

	var bulkResult *mapping.BulkResult
	if bulk != "" {
		res := store.BulkAdd(bulk)
		bulkResult = &res
	}
	return store, errs, bulkResult
}

func cachedResponse(runID string, entry *cache.Entry, opts anonymizer.Options) (*AnonymizeResponse, error) {
	doc, err := chat.Parse(entry.Output)
	if err != nil {
		return nil, err
	}
	linkage := anonymizer.LinkageFromMap(entry.Linkage)
	return &AnonymizeResponse{
		RunID:        runID,
		Export:       entry.Output,
		Linkage:      linkage.Map(),
		Skipped:      nonNil(entry.Skipped),
		Policy:       string(opts.SchemaPolicy),
		Replacements: entry.Replacements,
		Stats:        stats.Compute(doc.Records, linkage),
		Cached:       true,
	}, nil
}

// handleMappingsCheck validates a mapping set without running it
func (s *Server) handleMappingsCheck(w http.ResponseWriter, r *http.Request) {
	var req MappingsCheckRequest
	if !decodeBody(w, r, &req) {
		return
	}

	store, errs, bulk := buildStore(req.Mappings, req.Bulk)
	writeJSON(w, http.StatusOK, MappingsCheckResponse{
		Entries:    store.Len(),
		Errors:     errs,
		Bulk:       bulk,
		Collisions: store.Collisions(),
	})
}

// handleRuns lists recent runs from the audit log
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "audit log is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func newRunID() string {
	return "run_" + generateRequestID()
}

func nonNil(skipped []int) []int {
	if skipped == nil {
		return []int{}
	}
	return skipped
}
