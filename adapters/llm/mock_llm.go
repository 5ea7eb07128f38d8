package llm

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/nexariza/voicebot/domain/repositories"
)

// MockLLM answers with canned consultation replies chosen by keyword. It is
// used when no provider key is configured.
type MockLLM struct {
	mu      sync.Mutex
	err     error
	prompts []string
}

// Ensure MockLLM implements the LargeLanguageModel interface
var _ repositories.LargeLanguageModel = (*MockLLM)(nil)

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

// FailWith makes subsequent Generate calls return err. Pass nil to recover.
func (m *MockLLM) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Prompts returns every prompt received so far
func (m *MockLLM) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	err := m.err
	m.mu.Unlock()

	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if strings.HasPrefix(prompt, summaryMarker) {
		return mockSummary(prompt), nil
	}
	return MockReply(userInput(prompt)), nil
}

// MockReply picks a canned answer for a user utterance
func MockReply(text string) string {
	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	switch {
	case hasWord(words, "hello", "hi", "hey"):
		return "Hello! I'm Nexariza's AI assistant. How can I help you with your AI project today?"
	case hasWord(words, "price", "pricing", "cost", "costs", "quote", "budget"):
		return "Our pricing is very competitive and location-adapted. Would you like me to calculate a personalized quote for your project?"
	case hasWord(words, "service", "services", "help") || strings.Contains(lower, "what do you"):
		return "We offer AI solutions including chatbots, computer vision, NLP, and custom AI development. What type of AI solution are you looking for?"
	default:
		return "That's interesting! Could you tell me more about your specific AI requirements so I can provide better assistance?"
	}
}

func hasWord(words []string, candidates ...string) bool {
	for _, w := range words {
		for _, c := range candidates {
			if w == c {
				return true
			}
		}
	}
	return false
}

// userInput extracts the quoted user input from a reply prompt. Prompts
// without one, such as summaries, are matched as a whole.
func userInput(prompt string) string {
	idx := strings.LastIndex(prompt, userInputMarker)
	if idx < 0 {
		return prompt
	}
	rest := prompt[idx+len(userInputMarker):]
	if end := strings.IndexByte(rest, '\n'); end >= 0 {
		rest = rest[:end]
	}
	return strings.Trim(strings.TrimSpace(rest), `"`)
}

const (
	userInputMarker = "User input:"
	summaryMarker   = "Generate a concise summary"
)

// mockSummary lists the topics the user raised in a summary prompt
func mockSummary(prompt string) string {
	var topics []string
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "User:"); ok {
			topics = append(topics, strings.TrimSpace(rest))
		}
	}
	if len(topics) == 0 {
		return "Consultation summary: the client has not raised any topics yet."
	}
	return "Consultation summary: the client asked about " + strings.Join(topics, "; ") + "."
}
