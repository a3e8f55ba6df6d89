package responses

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/deskrelay/internal/backoff"
	"github.com/haasonsaas/deskrelay/internal/observability"
)

const turnJSON = `{
  "id": "resp_2",
  "status": "completed",
  "output": [
    {"type": "reasoning", "id": "rs_1", "summary": [{"type": "summary_text", "text": "Clicking search"}]},
    {"type": "computer_call", "id": "cu_1", "call_id": "call_1", "status": "completed",
     "action": {"type": "click", "x": 10, "y": 20, "button": "left"},
     "pending_safety_checks": [{"id": "sc_1", "code": "malicious_instructions", "message": "check"}]},
    {"type": "computer_call", "id": "cu_2", "call_id": "call_2", "action": {"type": "wait"}}
  ]
}`

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.APIKey = "sk-test"
	cfg.BaseURL = url
	cfg.Backoff = backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}
	return cfg
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		t.Errorf("read body: %v", err)
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Errorf("decode body: %v", err)
	}
	return body
}

func TestStartSendsInstructionAndTool(t *testing.T) {
	var body map[string]any
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		headers = r.Header.Clone()
		body = decodeBody(t, r)
		_, _ = io.WriteString(w, turnJSON)
	}))
	defer server.Close()

	cfg := testConfig(server.URL + "/v1/")
	cfg.Organization = "org-1"
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	turn, err := client.Start(context.Background(), "open example.com")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if turn.ID != "resp_2" || len(turn.Output) != 3 {
		t.Fatalf("turn = %+v", turn)
	}

	if got := headers.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}
	if got := headers.Get("OpenAI-Organization"); got != "org-1" {
		t.Errorf("OpenAI-Organization = %q", got)
	}
	if body["model"] != DefaultModel || body["truncation"] != "auto" {
		t.Errorf("model/truncation = %v/%v", body["model"], body["truncation"])
	}
	if _, ok := body["previous_response_id"]; ok {
		t.Error("first request must not carry previous_response_id")
	}
	tools, _ := body["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools = %v", body["tools"])
	}
	tool := tools[0].(map[string]any)
	if tool["type"] != "computer_use_preview" || tool["display_width"] != float64(1024) ||
		tool["display_height"] != float64(768) || tool["environment"] != "browser" {
		t.Errorf("tool = %v", tool)
	}
	input := body["input"].([]any)[0].(map[string]any)
	content := input["content"].([]any)[0].(map[string]any)
	if input["role"] != "user" || content["type"] != "input_text" || content["text"] != "open example.com" {
		t.Errorf("input = %v", input)
	}
}

func TestContinueSendsScreenshot(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body = decodeBody(t, r)
		_, _ = io.WriteString(w, `{"id":"resp_3","output":[]}`)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	png := []byte{0x89, 'P', 'N', 'G'}
	turn, err := client.Continue(context.Background(), ContinueRequest{
		PreviousResponseID:       "resp_2",
		CallID:                   "call_1",
		Screenshot:               png,
		AcknowledgedSafetyChecks: []SafetyCheck{{ID: "sc_1", Code: "malicious_instructions"}},
	})
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if turn.ID != "resp_3" {
		t.Errorf("turn.ID = %q", turn.ID)
	}

	if body["previous_response_id"] != "resp_2" {
		t.Errorf("previous_response_id = %v", body["previous_response_id"])
	}
	item := body["input"].([]any)[0].(map[string]any)
	if item["type"] != "computer_call_output" || item["call_id"] != "call_1" {
		t.Errorf("input item = %v", item)
	}
	output := item["output"].(map[string]any)
	wantURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	if output["type"] != "input_image" || output["image_url"] != wantURL {
		t.Errorf("output = %v", output)
	}
	checks := item["acknowledged_safety_checks"].([]any)
	if len(checks) != 1 || checks[0].(map[string]any)["id"] != "sc_1" {
		t.Errorf("acknowledged_safety_checks = %v", checks)
	}
}

func TestContinueRequiresIdentifiers(t *testing.T) {
	client, err := NewClient(testConfig("http://127.0.0.1:0"))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := client.Continue(context.Background(), ContinueRequest{CallID: "call_1"}); err == nil {
		t.Error("expected error without previous response id")
	}
	if _, err := client.Continue(context.Background(), ContinueRequest{PreviousResponseID: "resp_1"}); err == nil {
		t.Error("expected error without call id")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("NewClient() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestNewClientFillsDefaults(t *testing.T) {
	client, err := NewClient(Config{APIKey: "sk-x", MaxRetries: -3, RequestTimeout: -time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.Model() != DefaultModel || client.Tool() != DefaultToolSpec() {
		t.Errorf("defaults not applied: %q %+v", client.Model(), client.Tool())
	}
	if client.config.MaxRetries != 0 || client.config.RequestTimeout != 0 || client.config.Truncation != DefaultTruncation {
		t.Errorf("config = %+v", client.config)
	}
	if client.endpoint != "https://api.openai.com/v1/responses" {
		t.Errorf("endpoint = %q", client.endpoint)
	}
}

func TestRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit_error","code":"rate_limit_exceeded"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"resp_ok","output":[]}`)
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	client, err := NewClient(testConfig(server.URL), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	turn, err := client.Start(context.Background(), "go")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if turn.ID != "resp_ok" || calls.Load() != 3 {
		t.Errorf("turn = %+v after %d calls", turn, calls.Load())
	}
	if got := testutil.ToFloat64(metrics.AgentRequestCounter.WithLabelValues("error")); got != 2 {
		t.Errorf("error requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.AgentRequestCounter.WithLabelValues("success")); got != 1 {
		t.Errorf("success requests = %v, want 1", got)
	}
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 1
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	_, err = client.Start(context.Background(), "go")
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatusCode != http.StatusBadGateway {
		t.Fatalf("Start() error = %v, want 502 APIError", err)
	}
	if !strings.Contains(apiErr.Message, "upstream broke") {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	_, err = client.Start(context.Background(), "go")
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Start() error = %v, want APIError", err)
	}
	if apiErr.HTTPStatusCode != http.StatusUnauthorized || apiErr.Type != "invalid_request_error" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRequestTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = io.WriteString(w, `{"id":"resp_late","output":[]}`)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.RequestTimeout = 50 * time.Millisecond
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	turn, err := client.Start(context.Background(), "go")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if turn.ID != "resp_late" {
		t.Errorf("turn.ID = %q", turn.ID)
	}
}

func TestFailedTurn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"resp_bad","status":"failed","error":{"code":"server_error","message":"model crashed"},"output":[]}`)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	_, err = client.Start(context.Background(), "go")
	if !errors.Is(err, ErrTurnFailed) || !strings.Contains(err.Error(), "model crashed") {
		t.Errorf("Start() error = %v", err)
	}
}

func TestCancelledContextStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Start(ctx, "go"); !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", errors.Join(ErrTransport, errors.New("connection reset")), true},
		{"deadline", context.DeadlineExceeded, true},
		{"408", &openai.APIError{HTTPStatusCode: 408}, true},
		{"409", &openai.APIError{HTTPStatusCode: 409}, true},
		{"429", &openai.APIError{HTTPStatusCode: 429}, true},
		{"500", &openai.APIError{HTTPStatusCode: 500}, true},
		{"400", &openai.APIError{HTTPStatusCode: 400}, false},
		{"401", &openai.APIError{HTTPStatusCode: 401}, false},
		{"decode", errors.New("decode response: bad json"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTurnHelpers(t *testing.T) {
	var turn Turn
	if err := json.Unmarshal([]byte(turnJSON), &turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}

	call, ok := turn.FirstComputerCall()
	if !ok || call.CallID != "call_1" {
		t.Fatalf("FirstComputerCall() = %+v, %v", call, ok)
	}
	if len(call.PendingSafetyChecks) != 1 || call.PendingSafetyChecks[0].ID != "sc_1" {
		t.Errorf("PendingSafetyChecks = %+v", call.PendingSafetyChecks)
	}
	if !strings.Contains(string(call.Action), `"click"`) {
		t.Errorf("Action = %s", call.Action)
	}
	if got := turn.Output[0].Text(); got != "Clicking search" {
		t.Errorf("reasoning Text() = %q", got)
	}
	if got := call.Text(); !strings.Contains(got, `"call_id": "call_1"`) {
		t.Errorf("computer call Text() = %q, want raw item", got)
	}

	message := OutputItem{Type: ItemMessage, Content: []ContentPart{{Type: "output_text", Text: "Task complete"}}}
	if got := message.Text(); got != "Task complete" {
		t.Errorf("message Text() = %q", got)
	}

	var empty *Turn
	if _, ok := empty.FirstComputerCall(); ok {
		t.Error("nil turn reported a computer call")
	}
}
