package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tidwall/gjson"

	"github.com/raaihank/chat-anonymizer/internal/audit"
	"github.com/raaihank/chat-anonymizer/internal/cache"
	"github.com/raaihank/chat-anonymizer/internal/config"
	"github.com/raaihank/chat-anonymizer/internal/logger"
)

const sampleExport = `{
  "messages": [
    {
      "creator": {"name": "Jane Doe", "email": "jane@x.com", "user_type": "Human"},
      "created_date": "Monday, January 2, 2023 at 10:04:05 AM UTC",
      "text": "hi John Smith, see https://github.com/acme/repo",
      "quoted_message_metadata": {
        "creator": {"name": "John Smith", "email": "john@x.com"},
        "text": "ping jane@x.com"
      }
    },
    {
      "created_date": "Tuesday, January 3, 2023 at 9:00:00 PM UTC",
      "text": "system message"
    },
    {
      "creator": {"name": "John Smith", "email": "john@x.com", "user_type": "Human"},
      "created_date": "Tuesday, January 3, 2023 at 9:05:00 PM UTC",
      "text": "thanks Jane Doe"
    }
  ]
}`

var sampleMappings = []MappingPair{
	{Original: "Jane Doe", Replacement: "Person A"},
	{Original: "John Smith", Replacement: "Person B"},
	{Original: "jane@x.com", Replacement: "a@example.com"},
	{Original: "john@x.com", Replacement: "b@example.com", Kind: "email"},
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry
}

func (c *memoryCache) Key(input []byte, fingerprint string, variant ...string) string {
	return string(input) + "|" + fingerprint + "|" + strings.Join(variant, "|")
}

func (c *memoryCache) Get(_ context.Context, key string) (*cache.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *memoryCache) Set(_ context.Context, key string, entry *cache.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]*cache.Entry)
	}
	c.entries[key] = entry
	return nil
}

type memoryRunLog struct {
	mu   sync.Mutex
	runs []audit.Run
}

func (l *memoryRunLog) Record(_ context.Context, run *audit.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	run.ID = int64(len(l.runs) + 1)
	l.runs = append(l.runs, *run)
	return nil
}

func (l *memoryRunLog) Recent(_ context.Context, limit int) ([]audit.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []audit.Run{}
	for i := len(l.runs) - 1; i >= 0 && (limit == 0 || len(out) < limit); i-- {
		out = append(out, l.runs[i])
	}
	return out, nil
}

func newTestServer(t *testing.T, mutate func(*config.Config), opts ...Option) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg, logger.NewNop(), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid response body %q: %v", rec.Body.String(), err)
	}
	return v
}

func anonymizeRequest() AnonymizeRequest {
	return AnonymizeRequest{Export: json.RawMessage(sampleExport), Mappings: sampleMappings}
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || gjson.Get(rec.Body.String(), "status").String() != "healthy" {
		t.Errorf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/info", nil)
	info := gjson.Parse(rec.Body.String())
	if info.Get("version").String() != Version || info.Get("cache").Bool() || info.Get("audit").Bool() {
		t.Errorf("unexpected info: %s", rec.Body.String())
	}
	if !info.Get("link_categories").IsArray() {
		t.Error("info should list link categories")
	}
}

func TestAnonymize(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/anonymize", anonymizeRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("response should carry a request id")
	}

	resp := decode[AnonymizeResponse](t, rec)
	out := string(resp.Export)
	for _, leaked := range []string{"Jane Doe", "John Smith", "jane@x.com", "john@x.com", "github.com/acme"} {
		if strings.Contains(out, leaked) {
			t.Errorf("export still contains %q: %s", leaked, out)
		}
	}
	if got := gjson.Get(out, "messages.0.creator.name").String(); got != "Person A" {
		t.Errorf("creator name = %q, want Person A", got)
	}
	if got := gjson.Get(out, "messages.0.creator.user_type").String(); got != "Human" {
		t.Errorf("unknown fields must survive, user_type = %q", got)
	}

	wantLinkage := map[string]string{"Person A": "jane@x.com", "Person B": "john@x.com"}
	if diff := cmp.Diff(wantLinkage, resp.Linkage); diff != "" {
		t.Errorf("linkage mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1}, resp.Skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
	if resp.Policy != "skip" || resp.Cached || !strings.HasPrefix(resp.RunID, "run_") {
		t.Errorf("unexpected run metadata: %+v", resp)
	}
	if resp.Stats == nil || resp.Stats.TotalMessages != 3 {
		t.Fatalf("unexpected stats: %+v", resp.Stats)
	}
	if resp.Replacements == 0 {
		t.Error("replacements should be counted")
	}
}

func TestAnonymizeAutomaticMode(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/anonymize", AnonymizeRequest{
		Export:         json.RawMessage(sampleExport),
		Mode:           "automatic",
		EmailDomain:    "corp.test",
		LinkCategories: []string{},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	out := string(decode[AnonymizeResponse](t, rec).Export)

	if got := gjson.Get(out, "messages.0.creator.name").String(); got != "Person 1" {
		t.Errorf("creator name = %q, want Person 1", got)
	}
	if got := gjson.Get(out, "messages.2.creator.email").String(); got != "person2@corp.test" {
		t.Errorf("creator email = %q, want person2@corp.test", got)
	}
	// links were disabled for this request
	if !strings.Contains(out, "https://github.com/acme/repo") {
		t.Errorf("link should be untouched: %s", out)
	}
}

func TestAnonymizeSchemaAbort(t *testing.T) {
	s := newTestServer(t, nil)

	req := anonymizeRequest()
	req.SchemaPolicy = "abort"
	rec := do(t, s, http.MethodPost, "/api/v1/anonymize", req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "Jane Doe") {
		t.Error("error responses must not echo original values")
	}
}

func TestAnonymizeBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "{"},
		{"missing export", AnonymizeRequest{}},
		{"not a chat export", AnonymizeRequest{Export: json.RawMessage(`{"foo": 1}`)}},
		{"bad schema policy", AnonymizeRequest{Export: json.RawMessage(sampleExport), SchemaPolicy: "maybe"}},
		{"bad mode", AnonymizeRequest{Export: json.RawMessage(sampleExport), Mode: "sometimes"}},
		{"unknown link category", AnonymizeRequest{Export: json.RawMessage(sampleExport), LinkCategories: []string{"MYSPACE"}}},
		{"duplicate mapping", AnonymizeRequest{
			Export: json.RawMessage(sampleExport),
			Mappings: []MappingPair{
				{Original: "Jane", Replacement: "P1"},
				{Original: "jane", Replacement: "P2"},
			},
		}},
		{"bad kind", AnonymizeRequest{
			Export:   json.RawMessage(sampleExport),
			Mappings: []MappingPair{{Original: "Jane", Replacement: "P1", Kind: "alias"}},
		}},
	}

	s := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/v1/anonymize", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status %d, want 400: %s", rec.Code, rec.Body.String())
			}
			if gjson.Get(rec.Body.String(), "error").String() == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestAnonymizeBodyLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 64 })

	rec := do(t, s, http.MethodPost, "/api/v1/anonymize", anonymizeRequest())
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status %d, want 413", rec.Code)
	}
}

func TestAnonymizeUsesCache(t *testing.T) {
	c := &memoryCache{}
	s := newTestServer(t, nil, WithCache(c))

	first := decode[AnonymizeResponse](t, do(t, s, http.MethodPost, "/api/v1/anonymize", anonymizeRequest()))
	if first.Cached || len(c.entries) != 1 {
		t.Fatalf("first run should populate the cache: cached=%v entries=%d", first.Cached, len(c.entries))
	}

	second := decode[AnonymizeResponse](t, do(t, s, http.MethodPost, "/api/v1/anonymize", anonymizeRequest()))
	if !second.Cached {
		t.Fatal("second run should be served from cache")
	}
	if string(first.Export) != string(second.Export) {
		t.Error("cached export differs")
	}
	if diff := cmp.Diff(first.Linkage, second.Linkage); diff != "" {
		t.Errorf("cached linkage mismatch (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Stats, second.Stats); diff != "" {
		t.Errorf("cached stats mismatch (-first +second):\n%s", diff)
	}

	// a different policy is a different cache entry
	req := anonymizeRequest()
	req.LinkagePolicy = "mapped"
	third := decode[AnonymizeResponse](t, do(t, s, http.MethodPost, "/api/v1/anonymize", req))
	if third.Cached {
		t.Error("linkage policy must be part of the cache key")
	}
	if third.Linkage["Person A"] != "a@example.com" {
		t.Errorf("mapped policy should link anonymized emails: %v", third.Linkage)
	}
}

func TestAnonymizeRecordsRuns(t *testing.T) {
	runs := &memoryRunLog{}
	s := newTestServer(t, nil, WithRunLog(runs))

	resp := decode[AnonymizeResponse](t, do(t, s, http.MethodPost, "/api/v1/anonymize", anonymizeRequest()))
	if len(runs.runs) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(runs.runs))
	}
	got := runs.runs[0]
	if got.RunID != resp.RunID || got.Records != 3 || got.Skipped != 1 || got.Policy != "skip" || got.RuleFingerprint == "" {
		t.Errorf("unexpected run: %+v", got)
	}

	rec := do(t, s, http.MethodGet, "/api/v1/runs?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if n := gjson.Get(rec.Body.String(), "runs.#").Int(); n != 1 {
		t.Errorf("expected 1 run, got %d", n)
	}

	if rec := do(t, s, http.MethodGet, "/api/v1/runs?limit=x", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status %d, want 400", rec.Code)
	}
}

func TestRunsDisabled(t *testing.T) {
	s := newTestServer(t, nil)
	if rec := do(t, s, http.MethodGet, "/api/v1/runs", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}

func TestMappingsCheck(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/mappings/check", MappingsCheckRequest{
		Mappings: []MappingPair{
			{Original: "Jane Doe", Replacement: "Person A"},
			{Original: "jane doe", Replacement: "Person X"},
			{Original: "Jack", Replacement: "Person A"},
		},
		Bulk: "Bob=Person B\nnot a mapping\n",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[MappingsCheckResponse](t, rec)
	if resp.Entries != 3 {
		t.Errorf("entries = %d, want 3", resp.Entries)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Index != 1 {
		t.Errorf("expected the duplicate to be rejected: %+v", resp.Errors)
	}
	if resp.Bulk == nil || resp.Bulk.Added != 1 || len(resp.Bulk.Errors) != 1 {
		t.Errorf("unexpected bulk result: %+v", resp.Bulk)
	}
	if len(resp.Collisions) != 1 || resp.Collisions[0].Replacement != "Person A" {
		t.Errorf("unexpected collisions: %+v", resp.Collisions)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.RequestsPerSecond = 0.001
		c.RateLimit.Burst = 1
	})

	if rec := do(t, s, http.MethodGet, "/api/v1/runs", nil); rec.Code == http.StatusTooManyRequests {
		t.Fatal("first request should pass")
	}
	rec := do(t, s, http.MethodGet, "/api/v1/runs", nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("status %d, want 429 with Retry-After", rec.Code)
	}

	// health checks are not limited
	if rec := do(t, s, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health status %d", rec.Code)
	}
}

func TestUpdateConfig(t *testing.T) {
	s := newTestServer(t, nil)

	cfg := config.GetDefaults()
	cfg.Anonymization.SchemaPolicy = "abort"
	s.UpdateConfig(cfg)

	rec := do(t, s, http.MethodPost, "/api/v1/anonymize", anonymizeRequest())
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("reloaded schema policy not applied: status %d", rec.Code)
	}
}

func TestDashboardRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/", "/dashboard"} {
		rec := do(t, s, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
			t.Errorf("%s: status %d, content type %q", path, rec.Code, rec.Header().Get("Content-Type"))
		}
	}

	s = newTestServer(t, func(cfg *config.Config) { cfg.WebSocket.Enabled = false })
	if rec := do(t, s, http.MethodGet, "/dashboard", nil); rec.Code != http.StatusNotFound {
		t.Errorf("dashboard should be off without websocket, got %d", rec.Code)
	}
}
