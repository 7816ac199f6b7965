package api

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/debug"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/health"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/logging"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/oml"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/parser"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/session"
	"github.com/tidwall/gjson"
)

const statusRules = "name: /example/status\ntype: regex\npattern: '^(?P<status>\\d+) (?P<reason>\\w+)$'\nfields: {status: digit}\n"

func newTestHandler(t *testing.T, mutate func(*Config)) (*Handler, *metrics.Collector) {
	t.Helper()

	collector := metrics.NewCollector()
	store := session.NewStore(session.Config{}, logging.Nop())
	controller, err := debug.New(debug.Config{
		Store:       store,
		Parser:      parser.NewEngine(),
		Transformer: oml.NewEngine(),
		Metrics:     collector,
	})
	if err != nil {
		t.Fatalf("debug.New() error = %v", err)
	}

	checker := health.NewChecker(time.Second)
	checker.Register("sessions", health.SessionCapacity(store.Len, 0))

	cfg := Config{
		Controller: controller,
		Health:     checker,
		Metrics:    collector,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h, err := NewHandler(cfg)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	return h, collector
}

func do(h http.Handler, method, target string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewHandler(t *testing.T) {
	if _, err := NewHandler(Config{}); err == nil {
		t.Error("expected error without controller")
	}

	h, _ := newTestHandler(t, nil)
	if h.config.MetricsPath != "/metrics" || h.config.MaxBodySize != 10*1024*1024 {
		t.Errorf("defaults not applied: %+v", h.config)
	}
	if h.limiters != nil {
		t.Error("rate limiter should be disabled by default")
	}
}

func TestParseAndTransform(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := do(h, http.MethodPost, "/api/debug/parse", map[string]string{"rules": statusRules, "logs": "200 OK"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("parse status = %d, body = %s", w.Code, w.Body)
	}

	body := w.Body.String()
	if got := gjson.Get(body, "session_id").String(); got != session.DefaultKey {
		t.Errorf("session_id = %q", got)
	}
	if got := gjson.Get(body, "fields.#").Int(); got != 2 {
		t.Errorf("fields = %s", gjson.Get(body, "fields"))
	}
	if got := gjson.Get(body, "fields.0.value").String(); got != "200" {
		t.Errorf("fields.0.value = %q", got)
	}
	if got := gjson.Get(body, "canonical_text").String(); got != `{"status":200,"reason":"OK"}` {
		t.Errorf("canonical_text = %s", got)
	}

	w = do(h, http.MethodPost, "/api/debug/transform", map[string]string{"oml": "http_status = take(status);", "encoding": "kv"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transform status = %d, body = %s", w.Code, w.Body)
	}
	body = w.Body.String()
	if got := gjson.Get(body, "encoding").String(); got != "kv" {
		t.Errorf("encoding = %q", got)
	}
	if got := gjson.Get(body, "canonical_text").String(); got != "http_status=200" {
		t.Errorf("canonical_text = %q", got)
	}
	if got := gjson.Get(body, "format_json").String(); got != `{"http_status":200}` {
		t.Errorf("format_json = %q", got)
	}

	w = do(h, http.MethodGet, "/api/debug/record", nil, nil)
	if w.Code != http.StatusOK || gjson.Get(w.Body.String(), "fields.0.name").String() != "http_status" {
		t.Errorf("record = %d %s", w.Code, w.Body)
	}
}

func TestSessionResolution(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	parse := map[string]string{"rules": statusRules, "logs": "201 Created"}

	w := do(h, http.MethodPost, "/api/debug/parse", parse, map[string]string{SessionHeader: "from-header"})
	if got := gjson.Get(w.Body.String(), "session_id").String(); got != "from-header" {
		t.Errorf("header session = %q", got)
	}

	parse["session_id"] = "from-body"
	w = do(h, http.MethodPost, "/api/debug/parse", parse, map[string]string{SessionHeader: "from-header"})
	if got := gjson.Get(w.Body.String(), "session_id").String(); got != "from-body" {
		t.Errorf("body session = %q", got)
	}

	w = do(h, http.MethodGet, "/api/debug/record?session_id=from-body", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("record(from-body) status = %d", w.Code)
	}
	w = do(h, http.MethodGet, "/api/debug/record", nil, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("record(default) status = %d, want 409", w.Code)
	}
}

func TestErrorResponses(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	tests := []struct {
		name     string
		method   string
		target   string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"transform before parse", http.MethodPost, "/api/debug/transform", map[string]string{"oml": "a = take();"}, http.StatusConflict, "no_parse_result"},
		{"parse no match", http.MethodPost, "/api/debug/parse", map[string]string{"rules": statusRules, "logs": "nope"}, http.StatusBadRequest, "parse_failed"},
		{"empty rules", http.MethodPost, "/api/debug/parse", map[string]string{"logs": "200 OK"}, http.StatusBadRequest, "invalid_request"},
		{"malformed json", http.MethodPost, "/api/debug/parse", "{", http.StatusBadRequest, "invalid_request"},
		{"bad encoding", http.MethodGet, "/api/debug/record?encoding=xml", nil, http.StatusBadRequest, "invalid_request"},
		{"knowledge query", http.MethodPost, "/api/debug/knowledge/query", map[string]interface{}{"connection_id": 1, "table": "t", "sql": "select 1"}, http.StatusNotImplemented, "not_implemented"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, tt.method, tt.target, tt.body, nil)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body)
			}
			body := w.Body.String()
			if gjson.Get(body, "success").Bool() {
				t.Error("success should be false")
			}
			if got := gjson.Get(body, "error.code").String(); got != tt.wantErr {
				t.Errorf("error.code = %q, want %q", got, tt.wantErr)
			}
			if gjson.Get(body, "error.message").String() == "" {
				t.Error("error.message is empty")
			}
		})
	}

	w := do(h, http.MethodGet, "/api/debug/parse", nil, nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET parse status = %d, want 405", w.Code)
	}
}

func TestTransformFailureKeepsRecord(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	do(h, http.MethodPost, "/api/debug/parse", map[string]string{"rules": statusRules, "logs": "200 OK"}, nil)
	w := do(h, http.MethodPost, "/api/debug/transform", map[string]string{"oml": "a = take(missing);"}, nil)
	if w.Code != http.StatusBadRequest || gjson.Get(w.Body.String(), "error.code").String() != "transform_failed" {
		t.Fatalf("transform = %d %s", w.Code, w.Body)
	}

	w = do(h, http.MethodGet, "/api/debug/record", nil, nil)
	if got := gjson.Get(w.Body.String(), "canonical_text").String(); got != `{"status":200,"reason":"OK"}` {
		t.Errorf("record after failure = %s", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := do(h, http.MethodPost, "/api/debug/session", nil, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("new session status = %d", w.Code)
	}
	key := gjson.Get(w.Body.String(), "session_id").String()
	if len(key) != 36 {
		t.Fatalf("session_id = %q, want a uuid", key)
	}

	do(h, http.MethodPost, "/api/debug/parse", map[string]string{"session_id": key, "rules": statusRules, "logs": "200 OK"}, nil)

	w = do(h, http.MethodDelete, "/api/debug/session?session_id="+key, nil, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	w = do(h, http.MethodGet, "/api/debug/record?session_id="+key, nil, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("record after delete status = %d, want 409", w.Code)
	}
}

func TestVersionHealthMetrics(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := do(h, http.MethodGet, "/api/version", nil, nil)
	body := w.Body.String()
	if w.Code != http.StatusOK || gjson.Get(body, "component_version").String() == "" || gjson.Get(body, "engine_version").String() == "" {
		t.Errorf("version = %d %s", w.Code, body)
	}

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/sessions"} {
		if w := do(h, http.MethodGet, path, nil, nil); w.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, w.Code)
		}
	}

	w = do(h, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "logdebug_http_requests_total") {
		t.Errorf("metrics missing http counter: %d", w.Code)
	}
}

func TestRequestMetrics(t *testing.T) {
	h, collector := newTestHandler(t, nil)

	do(h, http.MethodPost, "/api/debug/transform", map[string]string{"oml": "a = take();"}, nil)
	do(h, http.MethodGet, "/nowhere", nil, nil)

	value := func(method, route, code string) float64 {
		var m dto.Metric
		if err := collector.HTTPRequests.WithLabelValues(method, route, code).Write(&m); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		return m.GetCounter().GetValue()
	}

	if got := value("POST", "POST /api/debug/transform", "409"); got != 1 {
		t.Errorf("transform 409 = %v, want 1", got)
	}
	if got := value("GET", "unmatched", "404"); got != 1 {
		t.Errorf("unmatched 404 = %v, want 1", got)
	}
}

func TestMaxBodySize(t *testing.T) {
	h, _ := newTestHandler(t, func(c *Config) { c.MaxBodySize = 64 })

	w := do(h, http.MethodPost, "/api/debug/parse", map[string]string{"rules": statusRules, "logs": strings.Repeat("x", 200)}, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h, collector := newTestHandler(t, func(c *Config) { c.RateLimit = 1 })

	var limited int
	for i := 0; i < 5; i++ {
		w := do(h, http.MethodGet, "/api/version", nil, nil)
		if w.Code == http.StatusTooManyRequests {
			limited++
			if got := gjson.Get(w.Body.String(), "error.code").String(); got != "rate_limited" {
				t.Errorf("error.code = %q", got)
			}
		}
	}
	if limited == 0 {
		t.Error("expected some requests to be rate limited")
	}

	// health is never limited
	if w := do(h, http.MethodGet, "/health/live", nil, nil); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}

	var m dto.Metric
	if err := collector.HTTPRateLimited.WithLabelValues("GET /api/version").Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if int(m.GetCounter().GetValue()) != limited {
		t.Errorf("rate limited counter = %v, want %d", m.GetCounter().GetValue(), limited)
	}
}

func TestClientLimitersPrune(t *testing.T) {
	l := newClientLimiters(1, time.Minute)
	start := time.Now()

	l.allow("10.0.0.1", start)
	l.allow("10.0.0.2", start)
	if l.len() != 2 {
		t.Fatalf("len = %d, want 2", l.len())
	}

	l.allow("10.0.0.3", start.Add(2*time.Minute))
	if l.len() != 1 {
		t.Errorf("len after prune = %d, want 1", l.len())
	}
}

func TestCompression(t *testing.T) {
	h, _ := newTestHandler(t, func(c *Config) { c.Compress = true })

	long := strings.Repeat("a", 4096)
	w := do(h, http.MethodPost, "/api/debug/parse",
		map[string]string{"rules": "type: kv\n", "logs": "msg=" + long},
		map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", w.Header().Get("Content-Encoding"))
	}

	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip body: %v", err)
	}
	if got := gjson.GetBytes(data, "fields.0.value").String(); got != long {
		t.Errorf("decompressed value has length %d", len(got))
	}
}

func TestRecoverer(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	panicky := h.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	w := httptest.NewRecorder()
	panicky.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "kaboom") {
		t.Error("panic value leaked to client")
	}
}
