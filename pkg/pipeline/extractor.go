package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"voicenote-processor/pkg/agent"
	"voicenote-processor/pkg/models"
)

// FallbackExtractionSummary is the last-resort summary when neither the model
// nor the caller produced one.
const FallbackExtractionSummary = "Unable to extract items from this voice note."

const extractionSystemPrompt = `You turn a user's voice note into structured records for a personal assistant.

You MUST respond by calling the tool "output-extracted-items" exactly once. Do not answer in plain text.

RULES:
1. Tasks are things the user needs to do. Reminders are things the user wants to be alerted about at a time.
2. Health notes capture symptoms, medication, sleep, food, mood and exercise.
3. Whenever a specific clock time is mentioned, set dueTime (tasks) or the time part of reminderTime (reminders)
   in 24-hour HH:MM. If only a date is known, leave dueTime empty. Never invent a time.
4. Use the literal dates given in the context for "today", "tomorrow" and "next week". Do not compute them.
5. Only propose contentPredictions when the user clearly wants something written; confidence is 0.0-1.0.
6. Empty categories are fine. Return empty arrays for collections with nothing in them.`

// ExtractOptions carries caller-supplied context for one extraction.
type ExtractOptions struct {
	UserSummary string
	DisplayName string
}

type Extractor struct {
	agent agent.Agent
	tool  mcp.Tool
}

func NewExtractor(a agent.Agent) *Extractor {
	return &Extractor{agent: a, tool: extractionTool()}
}

// BuildExtractionPrompt renders the user prompt. Output depends only on its
// arguments.
func BuildExtractionPrompt(transcript string, tc TemporalContext, displayName string) string {
	var b strings.Builder

	b.WriteString("CONTEXT\n")
	fmt.Fprintf(&b, "- Current date: %s (%s)\n", tc.Today, tc.Weekday)
	fmt.Fprintf(&b, "- Current time: %s\n", tc.CurrentTime)
	fmt.Fprintf(&b, "- Timezone: %s\n", tc.Timezone)
	fmt.Fprintf(&b, "- Tomorrow: %s\n", tc.Tomorrow)
	fmt.Fprintf(&b, "- Next week: %s\n", tc.NextWeek)
	if displayName != "" {
		fmt.Fprintf(&b, "- User: %s\n", displayName)
	}

	b.WriteString("\nLANGUAGE\n")
	fmt.Fprintf(&b, "The user's language is %s (%s). Write every natural-language field (titles, descriptions, tags, "+
		"summary) in %s. Do not translate to English.\n", tc.LanguageName, tc.LanguageNativeName, tc.LanguageName)

	b.WriteString("\nSUMMARY FORMAT\n")
	b.WriteString("- Start directly with the content. No preamble such as \"Here is a summary\" or \"The user said\".\n")
	b.WriteString("- Use short bullet points grouped by topic when there is more than one topic.\n")
	b.WriteString("- Mention dates and times exactly as resolved above.\n")

	b.WriteString("\nVOICE NOTE TRANSCRIPT\n---\n")
	b.WriteString(transcript)
	b.WriteString("\n---\n")
	return b.String()
}

// Extract never fails outward: a broken or missing tool call degrades to an
// empty bundle that still carries a summary.
func (e *Extractor) Extract(ctx context.Context, transcript string, tc TemporalContext, opts ExtractOptions) models.ExtractedItems {
	resp, err := e.agent.Run(ctx, agent.Request{
		System:    extractionSystemPrompt,
		Prompt:    BuildExtractionPrompt(transcript, tc, opts.DisplayName),
		Tools:     []mcp.Tool{e.tool},
		ForceTool: ExtractionToolName,
	})
	if err != nil {
		log.Printf("Extractor: agent call failed, using fallback: %v", err)
		resp = agent.Response{}
	}

	items := resolveExtraction(resp, opts.UserSummary)
	log.Printf("Extractor: tasks=%d reminders=%d healthNotes=%d notes=%d predictions=%d",
		len(items.Tasks), len(items.Reminders), len(items.HealthNotes), len(items.GeneralNotes), len(items.ContentPredictions))
	return items
}

type extractionSource string

const (
	sourceNamedTool extractionSource = "named_tool"
	sourceFirstTool extractionSource = "first_tool"
	sourceFallback  extractionSource = "fallback"
)

// selectToolCall is the decision table for where structured output comes from.
//
//	tool call named output-extracted-items present -> that call
//	any other tool call present                    -> the first one
//	no tool calls                                  -> fallback
func selectToolCall(calls []agent.ToolCall) (agent.ToolCall, extractionSource) {
	for _, c := range calls {
		if c.Name == ExtractionToolName {
			return c, sourceNamedTool
		}
	}
	if len(calls) > 0 {
		return calls[0], sourceFirstTool
	}
	return agent.ToolCall{}, sourceFallback
}

func resolveExtraction(resp agent.Response, userSummary string) models.ExtractedItems {
	var items models.ExtractedItems

	call, source := selectToolCall(resp.ToolCalls)
	if source != sourceFallback {
		parsed, notes, err := decodeExtractedItems(call.Arguments)
		for _, n := range notes {
			log.Printf("Extractor: dropped item: %s", n)
		}
		if err != nil {
			log.Printf("Extractor: %s tool call %q unusable: %v", source, call.Name, err)
			source = sourceFallback
		} else {
			items = parsed
		}
	}
	if source == sourceFallback {
		items = models.EmptyItems("")
	}

	items.Summary = firstNonEmpty(items.Summary, resp.Text, userSummary, FallbackExtractionSummary)

	// user edits beat model output, verbatim
	if strings.TrimSpace(userSummary) != "" {
		items.Summary = userSummary
	}
	return items
}
