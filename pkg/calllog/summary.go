package calllog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const summarySystemPrompt = "You are an assistant that summarizes phone calls for a moving company. " +
	"Write a short narrative summary of the call: who called, what they needed, " +
	"and what was agreed. Plain text, a few sentences."

const structuredSystemPrompt = "You extract structured data from moving-company call transcripts. " +
	"Respond with a single JSON object with exactly these keys: " +
	`"name", "purpose", "where_from", "where_to", "lift", "how_many_rooms", "extra_info". ` +
	"Use an empty string for anything the caller did not mention. No markdown, no commentary."

func transcriptText(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Speaker, e.Text)
	}
	return b.String()
}

func (l *Logger) generateSummary(ctx context.Context, entries []Entry) string {
	if l.completer == nil {
		return placeholderFailed
	}
	text, err := l.completer.Complete(ctx, CompletionRequest{
		System:      summarySystemPrompt,
		Prompt:      "Summarize this call:\n\n" + transcriptText(entries),
		MaxTokens:   l.summaryMaxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		l.logger.Warn("summary generation failed", "error", err)
		return placeholderFailed
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return placeholderFailed
	}
	return text
}

func (l *Logger) extractStructured(ctx context.Context, entries []Entry) StructuredData {
	if l.completer == nil {
		return StructuredData{}
	}
	text, err := l.completer.Complete(ctx, CompletionRequest{
		System:      structuredSystemPrompt,
		Prompt:      "Extract the fields from this call:\n\n" + transcriptText(entries),
		MaxTokens:   l.structuredMaxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		l.logger.Warn("structured extraction failed", "error", err)
		return StructuredData{}
	}

	var out StructuredData
	if err := json.Unmarshal([]byte(stripJSONFences(text)), &out); err != nil {
		l.logger.Warn("structured extraction returned invalid json", "error", err)
		return StructuredData{}
	}
	return out
}

// stripJSONFences drops a surrounding ```json ... ``` block if the
// model added one despite instructions.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
