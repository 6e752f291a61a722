// Package pipeline runs one chat question through knowledge loading,
// context assembly, prompt building and generation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rugintel/sentinel/internal/composer"
	"github.com/rugintel/sentinel/internal/gemini"
	"github.com/rugintel/sentinel/internal/knowledge"
	"github.com/rugintel/sentinel/internal/storage"
)

var (
	// ErrEmptyMessage is returned for a missing or blank question.
	ErrEmptyMessage = errors.New("message is required")
	// ErrNotConfigured is returned when no generation API key is set.
	ErrNotConfigured = errors.New("generation API key not configured")
)

// Generator produces an answer for a composed request.
type Generator interface {
	Generate(ctx context.Context, req gemini.GenerationRequest) (gemini.GenerationResult, error)
	Configured() bool
	Model() string
}

// Recorder persists completed exchanges.
type Recorder interface {
	SaveInteraction(ctx context.Context, i storage.Interaction) (storage.Interaction, error)
}

// Answer is the outcome of one successful question.
type Answer struct {
	Text          string
	Degraded      bool
	Model         string
	ContextChars  int
	InteractionID string
	Duration      time.Duration
}

// Answerer wires a knowledge source, an assembler and a generator together.
type Answerer struct {
	source    knowledge.Source
	assembler *composer.Assembler
	gen       Generator
	recorder  Recorder
	logger    *slog.Logger
}

// Option configures an Answerer.
type Option func(*Answerer)

// WithRecorder stores every answered or failed question.
func WithRecorder(r Recorder) Option {
	return func(a *Answerer) { a.recorder = r }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Answerer) { a.logger = logger }
}

// NewAnswerer creates an Answerer.
func NewAnswerer(src knowledge.Source, asm *composer.Assembler, gen Generator, opts ...Option) *Answerer {
	a := &Answerer{
		source:    src,
		assembler: asm,
		gen:       gen,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Context loads the knowledge base and returns the assembled context block.
func (a *Answerer) Context(ctx context.Context) (string, error) {
	docs, err := a.source.Documents(ctx)
	if err != nil {
		return "", fmt.Errorf("loading knowledge: %w", err)
	}
	return a.assembler.Assemble(docs), nil
}

// Answer validates message, rebuilds the context from the knowledge base
// and asks the generator. Validation and configuration failures return
// before any knowledge is read or any upstream call is made.
func (a *Answerer) Answer(ctx context.Context, message string) (Answer, error) {
	if strings.TrimSpace(message) == "" {
		return Answer{}, ErrEmptyMessage
	}
	if !a.gen.Configured() {
		return Answer{}, ErrNotConfigured
	}

	start := time.Now()
	ans, err := a.answer(ctx, message)
	ans.Duration = time.Since(start)
	ans.Model = a.gen.Model()

	if a.recorder != nil {
		ans.InteractionID = a.record(ctx, message, ans, err)
	}
	if err != nil {
		return Answer{}, err
	}
	return ans, nil
}

func (a *Answerer) answer(ctx context.Context, message string) (Answer, error) {
	contextBlock, err := a.Context(ctx)
	if err != nil {
		return Answer{}, err
	}

	req, err := composer.BuildRequest(contextBlock, message)
	if err != nil {
		return Answer{}, err
	}

	a.logger.Debug("sending question",
		"model", a.gen.Model(),
		"context_chars", len([]rune(contextBlock)),
		"prompt_tokens_est", composer.EstimateTokens(req.Text()),
	)

	res, err := a.gen.Generate(ctx, req)
	if err != nil {
		return Answer{}, err
	}
	return Answer{
		Text:         res.Text,
		Degraded:     res.Degraded,
		ContextChars: len([]rune(contextBlock)),
	}, nil
}

func (a *Answerer) record(ctx context.Context, message string, ans Answer, err error) string {
	i := storage.Interaction{
		UserQuery:  message,
		Response:   ans.Text,
		Model:      ans.Model,
		Status:     storage.StatusOK,
		StatusCode: StatusCode(err),
		DurationMs: ans.Duration.Milliseconds(),
	}
	switch {
	case err != nil:
		i.Status = storage.StatusError
		i.Response = err.Error()
	case ans.Degraded:
		i.Status = storage.StatusDegraded
	}

	saved, serr := a.recorder.SaveInteraction(context.WithoutCancel(ctx), i)
	if serr != nil {
		a.logger.Warn("failed to record interaction", "error", serr)
		return ""
	}
	return saved.ID
}

// StatusCode maps an Answer error to the HTTP status reported to callers.
func StatusCode(err error) int {
	var upstream *gemini.UpstreamError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.As(err, &upstream):
		return upstream.StatusCode
	case errors.Is(err, gemini.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
