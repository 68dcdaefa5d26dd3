package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"relaybot/internal/domain"
	"relaybot/internal/obs"
	"relaybot/internal/retry"
)

// scriptedCompleter returns the scripted results in order and counts calls.
type scriptedCompleter struct {
	mu      sync.Mutex
	results []scriptedResult
	calls   int
	lastReq domain.CompletionRequest
}

type scriptedResult struct {
	text string
	err  error
}

func (s *scriptedCompleter) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReq = req
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i].text, s.results[i].err
}

func (s *scriptedCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingSleeper captures requested delays without sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func newTestClient(c domain.Completer, opts ...ClientOption) (*Client, *recordingSleeper) {
	cl := NewClient(c, ClientConfig{
		Model:       "gpt-4o-mini",
		MaxTokens:   150,
		Temperature: 0.7,
		Retry:       retry.Config{MaxAttempts: 3, BaseDelay: time.Second},
	}, opts...)
	s := &recordingSleeper{}
	cl.sleepFunc = s.Sleep
	return cl, s
}

var hello = []domain.Message{domain.UserMessage("hello")}

func TestClient_GetResponse_WhenRateLimitedTwice_ShouldSucceedWithLinearDelays(t *testing.T) {
	rl := &APIError{StatusCode: 429, Status: "429 Too Many Requests"}
	comp := &scriptedCompleter{results: []scriptedResult{{err: rl}, {err: rl}, {text: " hi there \n"}}}
	cl, sleeper := newTestClient(comp)

	text, err := cl.GetResponse(context.Background(), hello)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hi there" {
		t.Errorf("want trimmed text, got %q", text)
	}
	if comp.Calls() != 3 {
		t.Errorf("want 3 attempts, got %d", comp.Calls())
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeper.delays) != 2 || sleeper.delays[0] != want[0] || sleeper.delays[1] != want[1] {
		t.Errorf("want delays %v, got %v", want, sleeper.delays)
	}
}

func TestClient_GetResponse_WhenTimeouts_ShouldDoubleBackoff(t *testing.T) {
	to := errors.New("request timed out")
	comp := &scriptedCompleter{results: []scriptedResult{{err: to}}}
	cl, sleeper := newTestClient(comp)

	_, err := cl.GetResponse(context.Background(), hello)
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Fatalf("want ServiceUnavailable, got %v", err)
	}
	if !errors.Is(err, domain.ErrTimeout) {
		t.Error("last transient kind should be kept as the cause")
	}
	if comp.Calls() != 3 {
		t.Errorf("want 3 attempts, got %d", comp.Calls())
	}
	if len(sleeper.delays) != 2 || sleeper.delays[0] != 2*time.Second || sleeper.delays[1] != 4*time.Second {
		t.Errorf("want [2s 4s], got %v", sleeper.delays)
	}
}

func TestClient_GetResponse_WhenAuthFails_ShouldNotRetry(t *testing.T) {
	comp := &scriptedCompleter{results: []scriptedResult{{err: &APIError{StatusCode: 401, Status: "401 Unauthorized"}}}}
	cl, sleeper := newTestClient(comp)

	_, err := cl.GetResponse(context.Background(), hello)
	if domain.KindOf(err) != domain.KindAuthFailed {
		t.Fatalf("want AuthFailed, got %v", err)
	}
	if comp.Calls() != 1 {
		t.Errorf("want exactly 1 attempt, got %d", comp.Calls())
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("terminal errors must not back off, got %v", sleeper.delays)
	}
	if domain.UserMessageOf(err) != "Authentication failed" {
		t.Errorf("unexpected user message %q", domain.UserMessageOf(err))
	}
}

func TestClient_GetResponse_WhenInvalidRequest_ShouldNotRetry(t *testing.T) {
	comp := &scriptedCompleter{results: []scriptedResult{{err: errors.New("invalid model")}}}
	cl, _ := newTestClient(comp)

	_, err := cl.GetResponse(context.Background(), hello)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("want InvalidRequest, got %v", err)
	}
	if comp.Calls() != 1 {
		t.Errorf("want 1 attempt, got %d", comp.Calls())
	}
}

func TestClient_GetResponse_WhenUnknownError_ShouldRetryWithBaseBackoff(t *testing.T) {
	comp := &scriptedCompleter{results: []scriptedResult{{err: errors.New("connection reset by peer")}, {text: "ok"}}}
	cl, sleeper := newTestClient(comp)

	text, err := cl.GetResponse(context.Background(), hello)
	if err != nil || text != "ok" {
		t.Fatalf("want ok, got %q %v", text, err)
	}
	if len(sleeper.delays) != 1 || sleeper.delays[0] != time.Second {
		t.Errorf("want [1s], got %v", sleeper.delays)
	}
}

func TestClient_GetResponse_WhenEmptyReply_ShouldNotRetry(t *testing.T) {
	comp := &scriptedCompleter{results: []scriptedResult{{text: "   \n\t"}}}
	cl, _ := newTestClient(comp)

	_, err := cl.GetResponse(context.Background(), hello)
	if !errors.Is(err, domain.ErrEmptyResponse) {
		t.Fatalf("want EmptyResponse, got %v", err)
	}
	if comp.Calls() != 1 {
		t.Errorf("want 1 attempt, got %d", comp.Calls())
	}
}

func TestClient_GetResponse_WhenInputInvalid_ShouldMakeNoAttempt(t *testing.T) {
	tests := []struct {
		name string
		msgs []domain.Message
	}{
		{"empty", nil},
		{"bad role", []domain.Message{{Role: "tool", Content: "x"}}},
		{"blank content", []domain.Message{domain.UserMessage("   ")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := &scriptedCompleter{results: []scriptedResult{{text: "never"}}}
			cl, _ := newTestClient(comp)
			_, err := cl.GetResponse(context.Background(), tt.msgs)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("want InvalidInput, got %v", err)
			}
			if comp.Calls() != 0 {
				t.Errorf("want 0 attempts, got %d", comp.Calls())
			}
		})
	}
}

func TestClient_GetResponse_WhenCallerCancelsDuringBackoff_ShouldStop(t *testing.T) {
	comp := &scriptedCompleter{results: []scriptedResult{{err: errors.New("rate limited")}}}
	cl, _ := newTestClient(comp)
	ctx, cancel := context.WithCancel(context.Background())
	cl.sleepFunc = func(ctx context.Context, d time.Duration) error {
		cancel()
		return retry.Sleep(ctx, d)
	}

	_, err := cl.GetResponse(ctx, hello)
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Fatalf("want ServiceUnavailable, got %v", err)
	}
	if comp.Calls() != 1 {
		t.Errorf("want 1 attempt before cancellation, got %d", comp.Calls())
	}
}

func TestClient_GetResponse_ShouldSendConfiguredParameters(t *testing.T) {
	comp := &scriptedCompleter{results: []scriptedResult{{text: "ok"}}}
	cl, _ := newTestClient(comp)

	if _, err := cl.GetResponse(context.Background(), hello); err != nil {
		t.Fatal(err)
	}
	req := comp.lastReq
	if req.Model != "gpt-4o-mini" || req.MaxTokens != 150 || req.Temperature != 0.7 {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Timeout != DefaultTimeout {
		t.Errorf("want default per-attempt timeout, got %v", req.Timeout)
	}
}

func TestClient_WithClassifier_ShouldOverrideDefault(t *testing.T) {
	comp := &scriptedCompleter{results: []scriptedResult{{err: errors.New("rate limited")}}}
	cl, _ := newTestClient(comp, WithClassifier(func(error) domain.ErrorKind { return domain.KindAuthFailed }))

	_, err := cl.GetResponse(context.Background(), hello)
	if !errors.Is(err, domain.ErrAuthFailed) || comp.Calls() != 1 {
		t.Errorf("custom classifier ignored: %v after %d calls", err, comp.Calls())
	}
}

func TestClient_GetResponse_ShouldRecordMetrics(t *testing.T) {
	m := obs.NewMetrics(prometheus.NewRegistry())
	comp := &scriptedCompleter{results: []scriptedResult{{err: errors.New("rate")}, {text: "ok"}}}
	cl, _ := newTestClient(comp, WithMetrics(m))

	if _, err := cl.GetResponse(context.Background(), hello); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.APIAttempts); got != 2 {
		t.Errorf("attempts: want 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("requests ok: want 1, got %v", got)
	}
}

func TestClient_ModelInfo(t *testing.T) {
	cl, _ := newTestClient(&scriptedCompleter{results: []scriptedResult{{text: "x"}}})
	info := cl.ModelInfo()
	if info.Model != "gpt-4o-mini" || info.MaxTokens != 150 || info.Temperature != 0.7 || info.MaxRetries != 3 {
		t.Errorf("unexpected model info %+v", info)
	}
}

func TestNewClient_WhenCompleterNil_ShouldPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewClient(nil, ClientConfig{})
}

func TestNewClient_WhenRetryConfigInvalid_ShouldUseDefaults(t *testing.T) {
	for _, rc := range []retry.Config{{MaxAttempts: 0, BaseDelay: time.Second}, {MaxAttempts: 2, BaseDelay: -time.Second}} {
		cl := NewClient(&scriptedCompleter{}, ClientConfig{Model: "m", Retry: rc})
		if cl.cfg.Retry != retry.DefaultConfig() {
			t.Errorf("%+v: want defaults, got %+v", rc, cl.cfg.Retry)
		}
	}
	cl := NewClient(&scriptedCompleter{}, ClientConfig{Model: "m", Retry: retry.Config{MaxAttempts: 5, BaseDelay: 0}})
	if cl.ModelInfo().MaxRetries != 5 {
		t.Errorf("valid config must be kept, got %+v", cl.cfg.Retry)
	}
}
