package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rugintel/sentinel/internal/composer"
	"github.com/rugintel/sentinel/internal/gemini"
	"github.com/rugintel/sentinel/internal/knowledge"
	"github.com/rugintel/sentinel/internal/pipeline"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type countingGenerator struct {
	configured bool
	text       string
	calls      atomic.Int32
}

func (g *countingGenerator) Generate(_ context.Context, _ gemini.GenerationRequest) (gemini.GenerationResult, error) {
	g.calls.Add(1)
	return gemini.GenerationResult{Text: g.text}, nil
}

func (g *countingGenerator) Configured() bool { return g.configured }
func (g *countingGenerator) Model() string    { return "test-model" }

func testKnowledge() knowledge.Source {
	fsys := fstest.MapFS{
		"scope/rules.md":  {Data: []byte("Only answer RugIntel questions.")},
		"docs/layers.md":  {Data: []byte("RugIntel has 12 intelligence layers.")},
		"docs/ignore.txt": {Data: []byte("not loaded")},
	}
	scope, _ := fs.Sub(fsys, "scope")
	docs, _ := fs.Sub(fsys, "docs")
	return knowledge.RootSource{
		Loader: knowledge.NewLoader(knowledge.WithLogger(discardLogger)),
		Roots: []knowledge.Root{
			{Origin: knowledge.OriginScope, Path: "scope", FS: scope},
			{Origin: knowledge.OriginDoc, Path: "docs", FS: docs},
		},
	}
}

func newTestAnswerer(gen pipeline.Generator) *pipeline.Answerer {
	return pipeline.NewAnswerer(testKnowledge(), composer.NewAssembler(0, discardLogger), gen,
		pipeline.WithLogger(discardLogger))
}

func newTestRouter(gen pipeline.Generator) http.Handler {
	return NewRouter(Deps{Chat: newTestAnswerer(gen), Logger: discardLogger})
}

// newGeminiBackedRouter wires a real gemini client against a fake upstream.
func newGeminiBackedRouter(t *testing.T, upstream http.HandlerFunc, opts ...gemini.Option) http.Handler {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)
	opts = append([]gemini.Option{gemini.WithBaseURL(srv.URL), gemini.WithLogger(discardLogger)}, opts...)
	return newTestRouter(gemini.NewClient("test-key", opts...))
}

func postChatbot(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(bytes.NewReader(rr.Body.Bytes())).Decode(&body); err != nil {
		t.Fatalf("decoding body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	h := newTestRouter(&countingGenerator{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := decodeBody(t, rr); body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestChatbotStatus(t *testing.T) {
	h := newTestRouter(&countingGenerator{})

	for _, path := range []string{"/chatbot-status", "/api/chatbot-status"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", path, rr.Code)
		}
		body := decodeBody(t, rr)
		if body["status"] != "ok" || body["message"] != "RugIntel Chatbot API is reachable via GET" {
			t.Errorf("%s: body = %v", path, body)
		}
	}
}

func TestChatbot_Success(t *testing.T) {
	gen := &countingGenerator{configured: true, text: "**RugIntel** protects you."}
	h := newTestRouter(gen)

	for _, path := range []string{"/chatbot", "/api/chatbot"} {
		rr := postChatbot(h, path, `{"message":"What is RugIntel?"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body = %s", path, rr.Code, rr.Body.String())
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if body := decodeBody(t, rr); body["response"] != "**RugIntel** protects you." {
			t.Errorf("%s: body = %v", path, body)
		}
	}
	if n := gen.calls.Load(); n != 2 {
		t.Errorf("generator calls = %d, want 2", n)
	}
}

func TestChatbot_MissingMessage(t *testing.T) {
	gen := &countingGenerator{configured: true}
	h := newTestRouter(gen)

	for _, body := range []string{
		`{}`, `{"message":""}`, `{"message":"   "}`,
		`{"message":123}`, `{"message":null}`, `{"message":["hi"]}`, `{"message":{"text":"hi"}}`,
	} {
		rr := postChatbot(h, "/api/chatbot", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rr.Code)
		}
		got := decodeBody(t, rr)
		if got["error"] != "Message is required" {
			t.Errorf("%s: error = %v", body, got["error"])
		}
		if _, ok := got["details"]; ok {
			t.Errorf("%s: unexpected details: %v", body, got)
		}
	}
	if n := gen.calls.Load(); n != 0 {
		t.Errorf("generator calls = %d, want 0", n)
	}
}

func TestChatbot_NotConfigured(t *testing.T) {
	gen := &countingGenerator{configured: false}
	rr := postChatbot(newTestRouter(gen), "/api/chatbot", `{"message":"hi"}`)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	want := "Gemini API key not configured. Please set SENTINEL_GEMINI_API_KEY (or GEMINI_API_KEY)"
	if body := decodeBody(t, rr); body["error"] != want {
		t.Errorf("error = %v, want %q", body["error"], want)
	}
	if n := gen.calls.Load(); n != 0 {
		t.Errorf("generator calls = %d, want 0", n)
	}
}

func TestChatbot_MalformedJSON(t *testing.T) {
	gen := &countingGenerator{configured: true}
	rr := postChatbot(newTestRouter(gen), "/api/chatbot", `{"message":`)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "Internal server error" {
		t.Errorf("error = %v", body["error"])
	}
	if d, _ := body["details"].(string); d == "" {
		t.Errorf("expected details string, got %v", body["details"])
	}
	if n := gen.calls.Load(); n != 0 {
		t.Errorf("generator calls = %d, want 0", n)
	}
}

func TestChatbot_UpstreamRateLimited(t *testing.T) {
	upstreamBody := `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`
	h := newGeminiBackedRouter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, upstreamBody)
	})

	rr := postChatbot(h, "/api/chatbot", `{"message":"hi"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}

	var body struct {
		Error   string          `json:"error"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.Error != "Failed to get response from Gemini API" {
		t.Errorf("error = %q", body.Error)
	}
	var details struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body.Details, &details); err != nil {
		t.Fatalf("details not upstream JSON: %s", body.Details)
	}
	if details.Error.Code != 429 || details.Error.Message != "Resource has been exhausted" {
		t.Errorf("details = %s", body.Details)
	}
}

func TestChatbot_UpstreamWithoutCandidatesDegrades(t *testing.T) {
	h := newGeminiBackedRouter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[]}`)
	})

	rr := postChatbot(h, "/api/chatbot", `{"message":"hi"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body := decodeBody(t, rr); body["response"] != gemini.FallbackText {
		t.Errorf("response = %v, want fallback text", body["response"])
	}
}

func TestChatbot_PromptCarriesKnowledge(t *testing.T) {
	var prompt string
	h := newGeminiBackedRouter(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		prompt = string(raw)
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	})

	rr := postChatbot(h, "/api/chatbot", `{"message":"How many layers?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	for _, want := range []string{"SCOPE: rules.md", "DOCUMENTATION: layers.md", "How many layers?"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("upstream prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "not loaded") {
		t.Error("non-matching extension leaked into the prompt")
	}
}

func TestChatbot_UpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	h := newGeminiBackedRouter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, gemini.WithTimeout(50*time.Millisecond), gemini.WithRetry(false))
	defer close(release)

	rr := postChatbot(h, "/api/chatbot", `{"message":"hi"}`)
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "Internal server error" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newTestRouter(&countingGenerator{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}
