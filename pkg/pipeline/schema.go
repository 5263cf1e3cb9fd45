package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"voicenote-processor/pkg/models"
)

// ExtractionToolName is the only channel through which structured items leave
// the agent.
const ExtractionToolName = "output-extracted-items"

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var tagsProp = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

var priorityProp = map[string]any{
	"type": "string",
	"enum": []string{"urgent", "high", "medium", "low"},
}

func extractionTool() mcp.Tool {
	return mcp.NewTool(ExtractionToolName,
		mcp.WithDescription("Return every task, reminder, health note, general note and content opportunity found in the voice note, plus a summary."),
		mcp.WithArray("tasks",
			mcp.Required(),
			mcp.Description("Actionable to-dos without a specific alert time."),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":       stringProp("Short imperative title in the user's language."),
					"description": stringProp("Optional detail."),
					"priority":    priorityProp,
					"dueDate":     stringProp("YYYY-MM-DD, only if a date was mentioned."),
					"dueTime":     stringProp("HH:MM 24-hour, only if a clock time was mentioned."),
					"category":    stringProp("Optional category."),
					"tags":        tagsProp,
				},
				"required": []string{"title"},
			}),
		),
		mcp.WithArray("reminders",
			mcp.Required(),
			mcp.Description("Things the user wants to be alerted about at a specific time."),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":             stringProp("Short title in the user's language."),
					"description":       stringProp("Optional detail."),
					"reminderTime":      stringProp("ISO datetime YYYY-MM-DDTHH:MM:SS in the user's timezone."),
					"isRecurring":       map[string]any{"type": "boolean"},
					"recurrencePattern": stringProp("e.g. daily, weekly, every monday."),
					"priority":          priorityProp,
					"type":              map[string]any{"type": "string", "enum": []string{"task", "todo", "reminder"}},
					"tags":              tagsProp,
				},
				"required": []string{"title", "reminderTime"},
			}),
		),
		mcp.WithArray("healthNotes",
			mcp.Required(),
			mcp.Description("Observations about health, symptoms, sleep, medication, food or exercise."),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content":  stringProp("The observation in the user's language."),
					"category": stringProp("e.g. sleep, medication, symptom, exercise, nutrition."),
					"tags":     tagsProp,
				},
				"required": []string{"content"},
			}),
		),
		mcp.WithArray("generalNotes",
			mcp.Description("Ideas or thoughts that are not actionable."),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":   stringProp("Optional title."),
					"content": stringProp("The note."),
					"tags":    tagsProp,
				},
				"required": []string{"content"},
			}),
		),
		mcp.WithArray("contentPredictions",
			mcp.Description("Long-form content the user would likely want generated from this note."),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"contentType":    stringProp("e.g. blog_post, email, linkedin_post, document, plan."),
					"description":    stringProp("What should be written."),
					"targetPlatform": stringProp("Optional destination platform."),
					"confidence":     map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"suggestedTitle": stringProp("Optional title."),
				},
				"required": []string{"contentType", "description", "confidence"},
			}),
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("Structured summary of the voice note in the user's language, no preamble."),
		),
	)
}

// ParseError reports why tool-call arguments could not become ExtractedItems.
type ParseError struct {
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("extracted items %s: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// flexString accepts strings, numbers and booleans. Objects and arrays are
// rejected rather than flattened into text.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v.(type) {
	case nil:
		*f = ""
	case float64:
		*f = flexString(bytes.TrimSpace(b))
	case bool:
		*f = flexString(fmt.Sprint(v))
	default:
		return fmt.Errorf("expected a scalar, got %s", bytes.TrimSpace(b))
	}
	return nil
}

// flexStrings accepts an array of strings or a single comma separated string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var arr []flexString
	if err := json.Unmarshal(b, &arr); err == nil {
		out := make([]string, 0, len(arr))
		for _, s := range arr {
			if t := strings.TrimSpace(string(s)); t != "" {
				out = append(out, t)
			}
		}
		*f = out
		return nil
	}
	var s flexString
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	out := []string{}
	for _, part := range strings.Split(string(s), ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	*f = out
	return nil
}

// flexFloat accepts numbers and numeric strings. Non-finite values are
// rejected since they cannot be encoded back to JSON.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return fmt.Errorf("non-finite number %q", s)
	}
	*f = flexFloat(n)
	return nil
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*f = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, _ = strconv.ParseBool(strings.TrimSpace(s))
	*f = flexBool(v)
	return nil
}

type wireTask struct {
	Title       flexString  `json:"title"`
	Description flexString  `json:"description"`
	Priority    flexString  `json:"priority"`
	DueDate     flexString  `json:"dueDate"`
	DueTime     flexString  `json:"dueTime"`
	Category    flexString  `json:"category"`
	Tags        flexStrings `json:"tags"`
}

type wireReminder struct {
	Title             flexString  `json:"title"`
	Description       flexString  `json:"description"`
	ReminderTime      flexString  `json:"reminderTime"`
	IsRecurring       flexBool    `json:"isRecurring"`
	RecurrencePattern flexString  `json:"recurrencePattern"`
	Priority          flexString  `json:"priority"`
	Type              flexString  `json:"type"`
	Tags              flexStrings `json:"tags"`
}

type wireHealthNote struct {
	Content  flexString  `json:"content"`
	Category flexString  `json:"category"`
	Tags     flexStrings `json:"tags"`
}

type wireNote struct {
	Title   flexString  `json:"title"`
	Content flexString  `json:"content"`
	Tags    flexStrings `json:"tags"`
}

type wirePrediction struct {
	ContentType    flexString `json:"contentType"`
	Description    flexString `json:"description"`
	TargetPlatform flexString `json:"targetPlatform"`
	Confidence     flexFloat  `json:"confidence"`
	SuggestedTitle flexString `json:"suggestedTitle"`
}

// wireItems keeps every element raw so one malformed item cannot sink its
// siblings.
type wireItems struct {
	Tasks              []json.RawMessage `json:"tasks"`
	Reminders          []json.RawMessage `json:"reminders"`
	HealthNotes        []json.RawMessage `json:"healthNotes"`
	GeneralNotes       []json.RawMessage `json:"generalNotes"`
	ContentPredictions []json.RawMessage `json:"contentPredictions"`
	Summary            json.RawMessage   `json:"summary"`
}

// decodeEach decodes every element on its own, noting and skipping the ones
// that do not fit T.
func decodeEach[T any](kind string, raws []json.RawMessage, notes *[]string, fn func(i int, v T)) {
	for i, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			*notes = append(*notes, fmt.Sprintf("%s[%d]: %v", kind, i, err))
			continue
		}
		fn(i, v)
	}
}

// decodeExtractedItems validates raw tool arguments. Arguments may arrive as a
// JSON object or as a JSON string holding one. Items that cannot be made valid
// are dropped and reported in the returned notes.
func decodeExtractedItems(raw json.RawMessage) (models.ExtractedItems, []string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.ExtractedItems{}, nil, &ParseError{Stage: "unquote", Err: err}
		}
		raw = bytes.TrimSpace([]byte(s))
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.ExtractedItems{}, nil, &ParseError{Stage: "decode", Err: fmt.Errorf("empty arguments")}
	}
	if raw[0] != '{' {
		return models.ExtractedItems{}, nil, &ParseError{Stage: "decode", Err: fmt.Errorf("arguments are not an object")}
	}

	var w wireItems
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.ExtractedItems{}, nil, &ParseError{Stage: "decode", Err: err}
	}

	var notes []string
	var summary flexString
	if len(w.Summary) > 0 {
		if err := json.Unmarshal(w.Summary, &summary); err != nil {
			notes = append(notes, fmt.Sprintf("summary: %v", err))
		}
	}
	items := models.EmptyItems(strings.TrimSpace(string(summary)))

	decodeEach("tasks", w.Tasks, &notes, func(i int, t wireTask) {
		title := strings.TrimSpace(string(t.Title))
		if title == "" {
			notes = append(notes, fmt.Sprintf("tasks[%d]: missing title", i))
			return
		}
		items.Tasks = append(items.Tasks, models.Task{
			Title:       title,
			Description: strings.TrimSpace(string(t.Description)),
			Priority:    models.ParsePriority(strings.ToLower(strings.TrimSpace(string(t.Priority)))),
			DueDate:     normalizeDate(string(t.DueDate)),
			DueTime:     normalizeClock(string(t.DueTime)),
			Category:    strings.TrimSpace(string(t.Category)),
			Tags:        nonNil(t.Tags),
		})
	})

	decodeEach("reminders", w.Reminders, &notes, func(i int, r wireReminder) {
		title := strings.TrimSpace(string(r.Title))
		if title == "" {
			notes = append(notes, fmt.Sprintf("reminders[%d]: missing title", i))
			return
		}
		when := normalizeDateTime(string(r.ReminderTime))
		if when == "" {
			notes = append(notes, fmt.Sprintf("reminders[%d] %q: unparseable reminderTime %q", i, title, r.ReminderTime))
			return
		}
		items.Reminders = append(items.Reminders, models.Reminder{
			Title:             title,
			Description:       strings.TrimSpace(string(r.Description)),
			ReminderTime:      when,
			IsRecurring:       bool(r.IsRecurring),
			RecurrencePattern: strings.TrimSpace(string(r.RecurrencePattern)),
			Priority:          models.ParsePriority(strings.ToLower(strings.TrimSpace(string(r.Priority)))),
			Type:              models.ParseReminderType(strings.ToLower(strings.TrimSpace(string(r.Type)))),
			Tags:              nonNil(r.Tags),
		})
	})

	decodeEach("healthNotes", w.HealthNotes, &notes, func(i int, h wireHealthNote) {
		content := strings.TrimSpace(string(h.Content))
		if content == "" {
			notes = append(notes, fmt.Sprintf("healthNotes[%d]: missing content", i))
			return
		}
		items.HealthNotes = append(items.HealthNotes, models.HealthNote{
			Content:  content,
			Category: strings.TrimSpace(string(h.Category)),
			Tags:     nonNil(h.Tags),
		})
	})

	decodeEach("generalNotes", w.GeneralNotes, &notes, func(_ int, n wireNote) {
		content := strings.TrimSpace(string(n.Content))
		if content == "" {
			return
		}
		items.GeneralNotes = append(items.GeneralNotes, models.Note{
			Title:   strings.TrimSpace(string(n.Title)),
			Content: content,
			Tags:    nonNil(n.Tags),
		})
	})

	decodeEach("contentPredictions", w.ContentPredictions, &notes, func(i int, p wirePrediction) {
		contentType := strings.TrimSpace(string(p.ContentType))
		if contentType == "" {
			notes = append(notes, fmt.Sprintf("contentPredictions[%d]: missing contentType", i))
			return
		}
		items.ContentPredictions = append(items.ContentPredictions, models.ContentPrediction{
			ContentType:    contentType,
			Description:    strings.TrimSpace(string(p.Description)),
			TargetPlatform: strings.TrimSpace(string(p.TargetPlatform)),
			Confidence:     clamp01(float64(p.Confidence)),
			SuggestedTitle: strings.TrimSpace(string(p.SuggestedTitle)),
		})
	})

	return items, notes, nil
}

var clockRE = regexp.MustCompile(`^(\d{1,2})(?:[:.](\d{2}))?(?::\d{2})?\s*([aApP])?\.?\s*[mM]?\.?$`)

// normalizeClock turns "3pm", "3:30 PM", "15:00:00" into 24h "HH:MM". Anything
// else yields "" so an unknown time stays unset.
func normalizeClock(s string) string {
	s = strings.TrimSpace(s)
	m := clockRE.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch strings.ToLower(m[3]) {
	case "a":
		if hour < 1 || hour > 12 {
			return ""
		}
		if hour == 12 {
			hour = 0
		}
	case "p":
		if hour < 1 || hour > 12 {
			return ""
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if m[2] == "" {
			// a bare number is not a clock time
			return ""
		}
	}
	if hour > 23 || minute > 59 {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 10 {
		if t, err := time.Parse(dateLayout, s[:10]); err == nil {
			return t.Format(dateLayout)
		}
	}
	return ""
}

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// normalizeDateTime returns a local ISO datetime ("2006-01-02T15:04:05"), an
// RFC 3339 value when the input carried an offset, a bare date when only a
// date is known, or "" when nothing parses.
func normalizeDateTime(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(time.RFC3339)
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02T15:04:05")
		}
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.Format(dateLayout)
	}
	return ""
}

func clamp01(f float64) float64 {
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
