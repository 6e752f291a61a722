package gemini

import (
	"encoding/json"
	"strings"
)

// SamplingConfig holds the generation parameters sent with every request.
type SamplingConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// DefaultSampling is the fixed sampling configuration of the chat assistant.
var DefaultSampling = SamplingConfig{
	Temperature:     0.7,
	TopK:            40,
	TopP:            0.95,
	MaxOutputTokens: 1024,
}

// GenerationRequest is one completion call. It is rendered into a single
// text part in the order: system instruction, context, user question.
type GenerationRequest struct {
	SystemInstruction string
	Context           string
	UserQuestion      string
	Sampling          SamplingConfig
}

// Text renders the request as the single prompt string sent upstream.
func (r GenerationRequest) Text() string {
	var sb strings.Builder
	sb.WriteString(r.SystemInstruction)
	sb.WriteString("\n\nCONTEXT (Knowledge Base & Scope):\n")
	sb.WriteString(r.Context)
	sb.WriteString("\n\n---\n\nUSER QUESTION: ")
	sb.WriteString(r.UserQuestion)
	return sb.String()
}

// GenerationResult is the text extracted from a completion response.
type GenerationResult struct {
	Text string
	// Degraded is set when the response lacked candidate text and Text holds
	// the fallback placeholder.
	Degraded bool
}

// Wire types of the generateContent endpoint.

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateContentRequest struct {
	Contents         []content      `json:"contents"`
	GenerationConfig SamplingConfig `json:"generationConfig"`
}

type candidate struct {
	Content *struct {
		Parts []struct {
			Text *string `json:"text"`
		} `json:"parts"`
	} `json:"content"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

// firstText returns the text of the first part of the first candidate.
func (r generateContentResponse) firstText() (string, bool) {
	if len(r.Candidates) == 0 {
		return "", false
	}
	c := r.Candidates[0].Content
	if c == nil || len(c.Parts) == 0 || c.Parts[0].Text == nil {
		return "", false
	}
	return *c.Parts[0].Text, true
}

func newWireRequest(req GenerationRequest) generateContentRequest {
	return generateContentRequest{
		Contents:         []content{{Parts: []part{{Text: req.Text()}}}},
		GenerationConfig: req.Sampling,
	}
}

// rawBody returns body as JSON, quoting it as a string when it is not
// valid JSON so it can always be embedded in an error response.
func rawBody(body []byte) json.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	b, _ := json.Marshal(string(body))
	return b
}
