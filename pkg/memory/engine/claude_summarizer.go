package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/synaptiq/engram/pkg/memory/model"
)

const claudeSummaryPrompt = "Condense the following memory notes about one person into a single " +
	"factual paragraph. Keep concrete preferences and facts, drop filler, do not invent anything."

// ClaudeSummarizer produces digests through Anthropic's Messages API. It
// reads ANTHROPIC_API_KEY from the environment when no key is given.
type ClaudeSummarizer struct {
	Client    *anthropic.Client
	Model     string
	MaxTokens int
}

// NewClaudeSummarizer constructs a model-backed summarizer.
func NewClaudeSummarizer(apiKey, modelName string) (*ClaudeSummarizer, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("claude summarizer: no api key")
	}
	if modelName == "" {
		modelName = "claude-3-5-haiku-latest"
	}
	cl := anthropic.NewClient(
		anthropicopt.WithAPIKey(apiKey),
	)
	return &ClaudeSummarizer{
		Client:    &cl,
		Model:     modelName,
		MaxTokens: 512,
	}, nil
}

func (s *ClaudeSummarizer) Summarize(ctx context.Context, records []model.MemoryRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	var prompt strings.Builder
	prompt.WriteString(claudeSummaryPrompt)
	prompt.WriteString("\n\n")
	for _, rec := range records {
		text := strings.TrimSpace(rec.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&prompt, "- %s\n", text)
	}

	msg, err := s.Client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.Model),
		MaxTokens: int64(s.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.String())),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude summarize: %w", err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
