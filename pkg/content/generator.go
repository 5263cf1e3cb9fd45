// Package content expands a voice note into long-form documents.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"voicenote-processor/pkg/agent"
	"voicenote-processor/pkg/models"
)

const generatorSystemPrompt = `You write finished documents for the user from their own voice notes.
Write in the user's language. Match the requested content type and platform conventions.
Do not invent facts that are not in the notes or the user's context.

Reply with a JSON object:
{"title": "...", "content": "markdown body", "previewText": "one or two sentences", "tags": ["..."], "language": "xx"}`

// previewRunes bounds the preview when the model does not supply one.
const previewRunes = 200

// Generator writes documents with the agent runtime.
type Generator struct {
	agent agent.Agent
}

func NewGenerator(a agent.Agent) *Generator {
	return &Generator{agent: a}
}

func (g *Generator) Generate(ctx context.Context, user models.UserContext, voice models.VoiceContext, req models.ContentRequest) (models.GeneratedContent, error) {
	text, err := agent.Complete(ctx, g.agent, generatorSystemPrompt, BuildPrompt(user, voice, req), true)
	if err != nil {
		return models.GeneratedContent{}, fmt.Errorf("content agent: %w", err)
	}

	var out models.GeneratedContent
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return models.GeneratedContent{}, fmt.Errorf("decoding generated content: %w", err)
	}
	out.Content = strings.TrimSpace(out.Content)
	if out.Content == "" {
		return models.GeneratedContent{}, fmt.Errorf("generated content is empty")
	}
	if strings.TrimSpace(out.Title) == "" {
		out.Title = req.SuggestedTitle
	}
	if strings.TrimSpace(out.PreviewText) == "" {
		out.PreviewText = preview(out.Content)
	}
	if out.Language == "" {
		out.Language = user.Profile.Language
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return out, nil
}

// BuildPrompt renders what the generator sees about the request, the user
// and the voice note.
func BuildPrompt(user models.UserContext, voice models.VoiceContext, req models.ContentRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "REQUEST\n- Type: %s\n- Description: %s\n", req.ContentType, req.Description)
	if req.TargetPlatform != "" {
		fmt.Fprintf(&b, "- Platform: %s\n", req.TargetPlatform)
	}
	if req.SuggestedTitle != "" {
		fmt.Fprintf(&b, "- Suggested title: %s\n", req.SuggestedTitle)
	}

	b.WriteString("\nUSER\n")
	if user.Profile.DisplayName != "" {
		fmt.Fprintf(&b, "- Name: %s\n", user.Profile.DisplayName)
	}
	fmt.Fprintf(&b, "- Language: %s\n- Timezone: %s\n", user.Profile.Language, user.Profile.Timezone)
	if len(user.OpenTasks) > 0 {
		b.WriteString("- Open tasks:\n")
		for _, t := range user.OpenTasks {
			fmt.Fprintf(&b, "  - %s\n", t.Title)
		}
	}

	b.WriteString("\nVOICE NOTE\n---\n")
	b.WriteString(firstNonEmpty(voice.Transcript, voice.Recording.Transcription))
	b.WriteString("\n---\n")
	if voice.Recording.AISummary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", voice.Recording.AISummary)
	}
	if voice.ItemsSummary != "" {
		fmt.Fprintf(&b, "Extracted: %s\n", voice.ItemsSummary)
	}

	if len(voice.RecentNotes) > 0 {
		b.WriteString("\nRECENT NOTES\n")
		for _, n := range voice.RecentNotes {
			fmt.Fprintf(&b, "- %s: %s\n", n.CreatedAt.Format("2006-01-02"), firstNonEmpty(n.AISummary, n.Transcription))
		}
	}
	return b.String()
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= previewRunes {
		return s
	}
	return strings.TrimSpace(string(r[:previewRunes])) + "…"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
