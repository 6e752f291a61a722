package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rugintel/sentinel/internal/config"
	"github.com/rugintel/sentinel/internal/storage"
	"github.com/rugintel/sentinel/internal/widget"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// useClient points newAPIClient at ts for the duration of the test.
func useClient(t *testing.T, ts *testServer) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

func executeRoot(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	oldStderr := stderr
	stderr = &out
	t.Cleanup(func() {
		stderr = oldStderr
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func sampleInteractions(n int) []storage.Interaction {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	out := make([]storage.Interaction, n)
	for i := range out {
		out[i] = storage.Interaction{
			ID:         fmt.Sprintf("ix-%03d", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			UserQuery:  fmt.Sprintf("question %d", i),
			Response:   "answer",
			Model:      "gemini-1.5-flash",
			Status:     storage.StatusOK,
			StatusCode: 200,
		}
	}
	return out
}

func TestAPIClient_SendsBearer(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	resp, err := ts.client().get(context.Background(), "/interactions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []storage.Interaction
	if err := decodeJSON(resp, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ts.requests) != 1 || ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("requests = %+v", ts.requests)
	}
}

func TestAPIClient_RequiresToken(t *testing.T) {
	c := &apiClient{baseURL: "http://127.0.0.1:1", httpClient: http.DefaultClient}
	if _, err := c.get(context.Background(), "/interactions"); err == nil || !strings.Contains(err.Error(), "api.token") {
		t.Errorf("err = %v, want api.token hint", err)
	}
}

func TestDecodeJSON_ErrorBody(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Interaction recording is disabled"}`))
	})

	resp, err := ts.client().get(context.Background(), "/interactions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = decodeJSON(resp, &[]storage.Interaction{})
	if err == nil || !strings.Contains(err.Error(), "404: Interaction recording is disabled") {
		t.Errorf("err = %v", err)
	}
}

func TestExportInteractions_YAML(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sampleInteractions(2))
	})

	var out bytes.Buffer
	n, err := exportInteractions(context.Background(), ts.client(), &out, "yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d, want 2", n)
	}

	var decoded []storage.Interaction
	if err := yaml.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out.String())
	}
	if len(decoded) != 2 || decoded[1].UserQuery != "question 1" || decoded[0].StatusCode != 200 {
		t.Errorf("decoded = %+v", decoded)
	}
	if !strings.Contains(out.String(), "user_query: question 0") {
		t.Errorf("expected snake_case keys:\n%s", out.String())
	}
}

func TestExportInteractions_PaginatesJSON(t *testing.T) {
	all := sampleInteractions(exportPageSize + 3)
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := min(offset+limit, len(all))
		if offset > len(all) {
			offset = len(all)
		}
		json.NewEncoder(w).Encode(all[offset:end])
	})

	var out bytes.Buffer
	n, err := exportInteractions(context.Background(), ts.client(), &out, "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(all) {
		t.Errorf("exported %d, want %d", n, len(all))
	}
	if len(ts.requests) != 2 {
		t.Errorf("made %d requests, want 2", len(ts.requests))
	}

	var decoded []storage.Interaction
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(decoded) != len(all) {
		t.Errorf("decoded %d records", len(decoded))
	}
}

func TestExportInteractions_EmptyIsList(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	var out bytes.Buffer
	if _, err := exportInteractions(context.Background(), ts.client(), &out, "json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "[]" {
		t.Errorf("output = %q, want []", out.String())
	}
}

func TestAskCommand_Remote(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chatbot" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"response":"**RugIntel** is a subnet."}`))
	})
	useClient(t, ts)

	out, err := executeRoot(t, "", "ask", "What", "is", "RugIntel?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "**RugIntel** is a subnet.") {
		t.Errorf("output = %q", out)
	}

	var body map[string]string
	json.Unmarshal([]byte(ts.requests[0].Body), &body)
	if body["message"] != "What is RugIntel?" {
		t.Errorf("sent message = %q", body["message"])
	}
}

func TestAskCommand_RemoteHTML(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"**bold**"}`))
	})
	useClient(t, ts)
	t.Cleanup(func() { askCmd.Flags().Set("html", "false") })

	out, err := executeRoot(t, "", "ask", "--html", "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `<p class="mb-2"><strong>bold</strong></p>`) {
		t.Errorf("output = %q", out)
	}
}

func TestAskCommand_ServerError(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"Failed to get response from Gemini API"}`))
	})
	useClient(t, ts)

	_, err := executeRoot(t, "", "ask", "q")
	if err == nil || !strings.Contains(err.Error(), "HTTP 429") {
		t.Errorf("err = %v, want HTTP 429", err)
	}
}

func TestAskCommand_RequiresQuestion(t *testing.T) {
	if _, err := executeRoot(t, "", "ask"); err == nil {
		t.Error("expected error without a question")
	}
}

func TestRenderCommand(t *testing.T) {
	out, err := executeRoot(t, "**Alert**\n- one\n- two\n", "render")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := strings.Join([]string{
		`<p class="mb-2"><strong>Alert</strong></p>`,
		`<ul class="list-disc ml-6 mt-2 space-y-1">`,
		`<li>one</li>`,
		`<li>two</li>`,
		`</ul>`,
	}, "\n") + "\n"
	if out != want {
		t.Errorf("output =\n%s\nwant\n%s", out, want)
	}
}

type scriptedAsker struct {
	answers map[string]string
}

func (a scriptedAsker) Ask(_ context.Context, message string) (string, error) {
	if ans, ok := a.answers[message]; ok {
		return ans, nil
	}
	return "", fmt.Errorf("no answer for %q", message)
}

func TestRunChat(t *testing.T) {
	session := widget.NewSession(scriptedAsker{answers: map[string]string{"hello": "Hi there."}})
	in := strings.NewReader("hello\n\nunknown\n/reset\n/quit\nnever sent\n")

	var out bytes.Buffer
	if err := runChat(context.Background(), in, &out, session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := out.String()
	if strings.Count(got, widget.Greeting) != 2 {
		t.Errorf("expected greeting at start and after /reset:\n%s", got)
	}
	if !strings.Contains(got, "Hi there.") {
		t.Errorf("missing answer:\n%s", got)
	}
	if !strings.Contains(got, widget.Apology) {
		t.Errorf("missing apology for failed question:\n%s", got)
	}
	if strings.Contains(got, "never sent") {
		t.Errorf("input after /quit must be ignored:\n%s", got)
	}
	if msgs := session.Messages(); len(msgs) != 1 {
		t.Errorf("session has %d messages after reset, want 1", len(msgs))
	}
}

func TestRunChat_EndOfInput(t *testing.T) {
	session := widget.NewSession(scriptedAsker{})
	var out bytes.Buffer
	if err := runChat(context.Background(), strings.NewReader(""), &out, session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfigSet_RejectsUnknownKey(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if _, err := executeRoot(t, "", "config", "set", "nope.key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestConfigSetAndShow(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("SENTINEL_GEMINI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := executeRoot(t, "", "config", "set", "server.port", "4100"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("port = %d, want 4100", cfg.Server.Port)
	}

	out, err := executeRoot(t, "", "--no-color", "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "server.port = 4100") {
		t.Errorf("show output missing port:\n%s", out)
	}
}

func TestConfigUnset(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("SENTINEL_SERVER_PORT", "")

	if _, err := executeRoot(t, "", "config", "set", "server.port", "4100"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	if _, err := executeRoot(t, "", "config", "unset", "server.port"); err != nil {
		t.Fatalf("config unset: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("port = %d, want default 3000", cfg.Server.Port)
	}
	if _, err := executeRoot(t, "", "config", "unset", "gemini.api_key"); err == nil {
		t.Error("expected error for secret key")
	}
}

func TestBaseURL(t *testing.T) {
	cfg := config.Config{Server: config.ServerConfig{Host: "0.0.0.0", Port: 3000}}
	if got := baseURL(cfg); got != "http://127.0.0.1:3000" {
		t.Errorf("baseURL = %q", got)
	}
	cfg.Server.Host = "localhost"
	if got := baseURL(cfg); got != "http://localhost:3000" {
		t.Errorf("baseURL = %q", got)
	}
	if got := serverAddr(cfg); got != "localhost:3000" {
		t.Errorf("serverAddr = %q", got)
	}
}

func TestTruncateAndShortID(t *testing.T) {
	if got := truncate("héllo world", 5); got != "héllo..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := shortID("0123456789"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}
