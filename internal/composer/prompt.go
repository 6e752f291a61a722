package composer

import (
	"errors"
	"strings"

	"github.com/rugintel/sentinel/internal/gemini"
)

// ErrEmptyQuestion is returned when the user question is blank.
var ErrEmptyQuestion = errors.New("question must not be empty")

// Persona is the fixed system instruction of the assistant. It restricts
// answers to the RugIntel domain and limits formatting to the markdown
// subset the chat widget can render.
const Persona = `You are the RugIntel Sentinel, an AI assistant specialized in the RugIntel Bittensor Subnet and Solana security.

IMPORTANT INSTRUCTIONS:
- Use the context provided below to answer questions accurately.
- Focus strictly on RugIntel, its 12 intelligence layers, the Bittensor integration, and how users can protect their assets.
- If the question is outside the context (e.g., general life advice, non-RugIntel coding, politics), politely indicate that you only assist with RugIntel inquiries and then provide a brief overview of "What is RugIntel".
- Be professional, authoritative yet helpful, and cybersecurity-oriented.
- Provide a helpful, accurate, and well-structured response based on the context. If the question is irrelevant, follow the fallback protocol to explain RugIntel.`

// FormattingDirectives tells the model which markdown constructs it may use.
const FormattingDirectives = `FORMATTING:
- Format responses in clear, readable markdown.
- Use only **bold**, *italic*, and bullet points ("* " or "- " at the start of a line).
- Do not use headings, links, code blocks, tables, or HTML.`

// BuildRequest merges the persona, formatting directives, the assembled
// context and the verbatim question into one generation request using the
// fixed sampling parameters.
func BuildRequest(contextBlock, question string) (gemini.GenerationRequest, error) {
	if strings.TrimSpace(question) == "" {
		return gemini.GenerationRequest{}, ErrEmptyQuestion
	}
	return gemini.GenerationRequest{
		SystemInstruction: Persona + "\n\n" + FormattingDirectives,
		Context:           contextBlock,
		UserQuestion:      question,
		Sampling:          gemini.DefaultSampling,
	}, nil
}
