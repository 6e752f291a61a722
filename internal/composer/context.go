package composer

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rugintel/sentinel/internal/knowledge"
)

// FallbackContext is used when the knowledge base yields no documents.
const FallbackContext = "RugIntel is a decentralized intelligence subnet on Bittensor for Solana rugpull prediction."

const truncatedMarker = "\n[truncated]"

// Assembler concatenates knowledge documents into the context block that
// is injected into every prompt.
type Assembler struct {
	// MaxChars caps the assembled context in characters (runes).
	// Zero or negative means unlimited.
	MaxChars int
	logger   *slog.Logger
}

// NewAssembler creates an Assembler with the given character cap.
func NewAssembler(maxChars int, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{MaxChars: maxChars, logger: logger}
}

// Assemble orders docs scope-first (discovery order preserved within each
// origin) and joins them under per-document header lines. The result is
// never empty: with no documents FallbackContext is returned, and with
// documents at least the leading runes of the first one are kept.
//
// When the cap is exceeded, the first document that does not fit is cut to
// the remaining budget and every later document is dropped.
func (a *Assembler) Assemble(docs []knowledge.Document) string {
	ordered := make([]knowledge.Document, len(docs))
	copy(ordered, docs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Origin < ordered[j].Origin
	})

	var sb strings.Builder
	remaining := a.MaxChars
	limited := a.MaxChars > 0
	for i, d := range ordered {
		header := formatHeader(d)
		if !limited {
			sb.WriteString(header)
			sb.WriteString(d.Content)
			continue
		}

		size := utf8.RuneCountInString(header) + utf8.RuneCountInString(d.Content)
		if size <= remaining {
			sb.WriteString(header)
			sb.WriteString(d.Content)
			remaining -= size
			continue
		}

		budget := remaining - utf8.RuneCountInString(header) - utf8.RuneCountInString(truncatedMarker)
		switch {
		case budget > 0:
			sb.WriteString(header)
			sb.WriteString(truncateRunes(d.Content, budget))
			sb.WriteString(truncatedMarker)
		case sb.Len() == 0:
			// Cap is below one header; keep its leading runes.
			sb.WriteString(truncateRunes(header+d.Content, remaining))
		}
		a.logger.Warn("knowledge context exceeds cap, truncating",
			"max_chars", a.MaxChars,
			"truncated", d.Filename,
			"dropped_docs", len(ordered)-i-1,
		)
		break
	}

	if len(ordered) == 0 {
		a.logger.Warn("no knowledge documents found, using default context")
		return FallbackContext
	}
	return sb.String()
}

func formatHeader(d knowledge.Document) string {
	return fmt.Sprintf("\n\n--- %s: %s ---\n", d.Origin, d.Filename)
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
