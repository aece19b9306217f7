package v1

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/csassistant/internal/adapter/llm"
	"github.com/xiaot623/csassistant/internal/config"
	"github.com/xiaot623/csassistant/internal/knowledge"
	"github.com/xiaot623/csassistant/internal/selector"
	"github.com/xiaot623/csassistant/internal/service"
	"github.com/xiaot623/csassistant/tests/helpers"
)

// pendingScheduler holds replies until fire is called.
type pendingScheduler struct {
	mu    sync.Mutex
	funcs []func()
}

type pendingTimer struct{}

func (pendingTimer) Stop() bool { return true }

func (s *pendingScheduler) AfterFunc(_ time.Duration, f func()) service.Timer {
	s.mu.Lock()
	s.funcs = append(s.funcs, f)
	s.mu.Unlock()
	return pendingTimer{}
}

func (s *pendingScheduler) fire() {
	s.mu.Lock()
	funcs := s.funcs
	s.funcs = nil
	s.mu.Unlock()
	for _, f := range funcs {
		f()
	}
}

func newTestHandler(t *testing.T, opts ...service.Option) (*Handler, *service.Service, *pendingScheduler) {
	t.Helper()

	kb := knowledge.Default()
	sel := selector.New(kb)
	sch := &pendingScheduler{}
	cfg := &config.Config{ThinkingMin: time.Second, ThinkingMax: time.Second}
	opts = append([]service.Option{service.WithScheduler(sch)}, opts...)
	svc := service.New(helpers.NewTestSQLiteStore(t), kb, sel, llm.NewLocalClient(sel), cfg, opts...)
	return NewHandler(svc, nil, nil), svc, sch
}

// request builds an echo context for the handler under test. params
// alternates names and values.
func request(method, target, body string, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	if len(names) > 0 {
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	return c, rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)

	c, rec := request(http.MethodGet, "/health", "")
	if err := h.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]interface{}
	decode(t, rec, &resp)
	if resp["status"] != "healthy" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestGetTopics(t *testing.T) {
	h, _, _ := newTestHandler(t)

	c, rec := request(http.MethodGet, "/v1/topics", "")
	if err := h.GetTopics(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var resp struct {
		Catalog        []map[string]string `json:"catalog"`
		Topics         []string            `json:"topics"`
		QuickQuestions []string            `json:"quick_questions"`
	}
	decode(t, rec, &resp)
	if len(resp.Catalog) != 12 || len(resp.Topics) != 6 || len(resp.QuickQuestions) != 5 {
		t.Fatalf("unexpected topics: %+v", resp)
	}
}
