package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rugintel/sentinel/internal/gemini"
	"github.com/rugintel/sentinel/internal/pipeline"
)

const maxRequestBodySize = 1 << 20 // 1MB

const (
	msgMessageRequired = "Message is required"
	msgNotConfigured   = "Gemini API key not configured. Please set SENTINEL_GEMINI_API_KEY (or GEMINI_API_KEY)"
	msgUpstreamFailed  = "Failed to get response from Gemini API"
	msgInternal        = "Internal server error"
	msgStatus          = "RugIntel Chatbot API is reachable via GET"
)

// Message stays untyped so a non-string value is a missing message, not a
// decode failure.
type chatbotRequest struct {
	Message any `json:"message"`
}

type chatbotResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleChatbotStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": msgStatus,
	})
}

func handleChatbot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatbotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			deps.Logger.Error("chatbot: invalid request body", "error", err)
			httpError(w, http.StatusInternalServerError, msgInternal, err.Error())
			return
		}

		message, _ := req.Message.(string)
		ans, err := deps.Chat.Answer(r.Context(), message)
		if err != nil {
			writeAnswerError(w, deps, err)
			return
		}

		if ans.Degraded {
			deps.Logger.Warn("chatbot: upstream returned no candidate text", "model", ans.Model)
		}
		writeJSON(w, http.StatusOK, chatbotResponse{Response: ans.Text})
	}
}

func writeAnswerError(w http.ResponseWriter, deps Deps, err error) {
	var upstream *gemini.UpstreamError
	switch {
	case errors.Is(err, pipeline.ErrEmptyMessage):
		httpError(w, http.StatusBadRequest, msgMessageRequired, nil)
	case errors.Is(err, pipeline.ErrNotConfigured):
		deps.Logger.Error("chatbot: gemini API key not configured")
		httpError(w, http.StatusInternalServerError, msgNotConfigured, nil)
	case errors.As(err, &upstream):
		deps.Logger.Error("chatbot: gemini API error", "status", upstream.StatusCode, "body", string(upstream.Body))
		httpError(w, upstream.StatusCode, msgUpstreamFailed, upstream.Body)
	default:
		deps.Logger.Error("chatbot: request failed", "error", err)
		httpError(w, pipeline.StatusCode(err), msgInternal, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// httpError writes {"error": msg, "details": details}; nil details are omitted.
func httpError(w http.ResponseWriter, code int, msg string, details any) {
	resp := errorResponse{Error: msg}
	if raw, ok := details.(json.RawMessage); ok {
		if len(raw) > 0 {
			resp.Details = raw
		}
	} else if details != nil {
		resp.Details = details
	}
	writeJSON(w, code, resp)
}
