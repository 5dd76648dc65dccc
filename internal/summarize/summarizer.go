// Package summarize narrows the working topic between rounds by compressing
// a round's open questions into a single focused follow-up topic.
package summarize

import (
	"context"

	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/inference"
	"github.com/colloquyhq/colloquy/internal/metrics"
	"github.com/colloquyhq/colloquy/internal/prompts"
	"github.com/colloquyhq/colloquy/internal/textnorm"
	"github.com/colloquyhq/colloquy/internal/util"
)

const systemPrompt = "You are a research assistant that creates focused, specific research topics."

const (
	narrowTemperature = 0.7
	narrowMaxTokens   = 200
)

// Summarizer produces the next round's topic via the inference gateway
type Summarizer struct {
	llm inference.Client
	log *zap.Logger
}

// NewSummarizer creates a summarizer backed by the given inference client
func NewSummarizer(llm inference.Client, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{llm: llm, log: logger.Named("summarize")}
}

// Narrow compresses a round's questions into a tighter follow-up topic.
// Every failure path returns the topic it was given, so the pipeline never
// stalls because narrowing misbehaved.
func (s *Summarizer) Narrow(ctx context.Context, questions []string, topic string) string {
	resp, err := s.llm.Complete(ctx, inference.CompletionRequest{
		Messages: []inference.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompts.Summary(questions, topic)},
		},
		Temperature: narrowTemperature,
		MaxTokens:   narrowMaxTokens,
	})
	if err != nil {
		metrics.RecordTopicNarrowing("fallback")
		s.log.Warn("Topic narrowing failed, keeping current topic",
			zap.Error(err),
			zap.Int("questions", len(questions)),
		)
		return topic
	}

	narrowed := textnorm.Normalize(resp.Content)
	if narrowed == "" {
		metrics.RecordTopicNarrowing("fallback")
		s.log.Warn("Topic narrowing produced empty text, keeping current topic")
		return topic
	}

	metrics.RecordTopicNarrowing("narrowed")
	s.log.Info("Narrowed topic", zap.String("topic", util.TruncateString(narrowed, 120)))
	return narrowed
}
