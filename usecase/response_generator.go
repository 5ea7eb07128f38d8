package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexariza/voicebot/domain/entities"
	"github.com/nexariza/voicebot/domain/repositories"
)

// FallbackResponse is spoken whenever the language model cannot answer
const FallbackResponse = "I apologize, but I'm experiencing technical difficulties. Please try again later."

const defaultGenerateTimeout = 30 * time.Second

// DefaultPersona introduces the assistant to the language model
const DefaultPersona = `You are Nexariza's AI voice assistant. Nexariza is a premium AI solutions provider specializing in:
- Custom AI development (GPT, Gemini, Computer Vision)
- AI-powered web applications
- Voice bots and chatbots
- Business automation with AI
- Competitive pricing with location-based adaptation`

const replyInstruction = "Provide a helpful, professional response about Nexariza's services. Keep responses conversational and under 150 words for voice output."

// Responder produces assistant replies. Implementations never fail.
type Responder interface {
	Generate(ctx context.Context, prompt string) string
	Summarize(ctx context.Context, transcript []entities.Message) string
}

// ResponseGenerator turns prompts into assistant text using a language model,
// replacing every failure with FallbackResponse
type ResponseGenerator struct {
	llm     repositories.LargeLanguageModel
	timeout time.Duration
	logger  *zap.Logger
}

// Ensure ResponseGenerator implements the Responder interface
var _ Responder = (*ResponseGenerator)(nil)

// NewResponseGenerator creates a response generator. A zero timeout uses the default.
func NewResponseGenerator(llm repositories.LargeLanguageModel, timeout time.Duration, logger *zap.Logger) *ResponseGenerator {
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	return &ResponseGenerator{
		llm:     llm,
		timeout: timeout,
		logger:  logger,
	}
}

// Generate returns the model's reply verbatim, or FallbackResponse
func (g *ResponseGenerator) Generate(ctx context.Context, prompt string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Language model panicked", zap.Any("panic", r))
			reply = FallbackResponse
		}
	}()

	if g.llm == nil {
		g.logger.Error("No language model configured")
		return FallbackResponse
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	text, err := g.llm.Generate(ctx, prompt)
	if err != nil {
		g.logger.Error("Failed to generate response",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)))
		return FallbackResponse
	}
	if strings.TrimSpace(text) == "" {
		g.logger.Warn("Language model returned an empty response")
		return FallbackResponse
	}

	g.logger.Info("Response generated",
		zap.Int("promptLength", len(prompt)),
		zap.Int("responseLength", len(text)),
		zap.Duration("elapsed", time.Since(start)))

	return text
}

// Summarize asks the model for a summary of the whole transcript
func (g *ResponseGenerator) Summarize(ctx context.Context, transcript []entities.Message) string {
	return g.Generate(ctx, BuildSummaryPrompt(transcript))
}

// FormatTranscript renders messages one per line, prefixed by origin
func FormatTranscript(messages []entities.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Origin.Label(), m.Text))
	}
	return strings.Join(lines, "\n")
}

// BuildSummaryPrompt embeds the full transcript, in order, in one prompt
func BuildSummaryPrompt(messages []entities.Message) string {
	return "Generate a concise summary of this consultation:\n" +
		FormatTranscript(messages) +
		"\n\nInclude key topics discussed, requirements mentioned, and any recommendations provided."
}

// BuildReplyPrompt builds the prompt for the next assistant turn: persona,
// the last turns messages of history, then the user's input
func BuildReplyPrompt(persona string, history []entities.Message, userText string, turns int) string {
	if persona == "" {
		persona = DefaultPersona
	}

	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")

	if turns > 0 && len(history) > 0 {
		if len(history) > turns {
			history = history[len(history)-turns:]
		}
		b.WriteString("Conversation so far:\n")
		b.WriteString(FormatTranscript(history))
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "User input: %q\n\n", userText)
	b.WriteString(replyInstruction)
	return b.String()
}

// SummaryFileName names the downloadable summary for the given day
func SummaryFileName(t time.Time) string {
	return fmt.Sprintf("nexariza-consultation-summary-%s.txt", t.UTC().Format("2006-01-02"))
}
