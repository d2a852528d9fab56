// Package tenantconfig loads a tenant's prompt row and reservation field
// list and assembles the model instruction string and the JSON Schema for
// the finalize_reservation tool.
package tenantconfig

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Assembled is the Loader's output for one call: the instruction string sent
// in session.update, the field list (for the Finalizer), and the compiled
// JSON Schema for the tool's "answers" object.
type Assembled struct {
	Instructions  string
	Greeting      string
	Fields        []Field
	AnswersSchema map[string]interface{}
	Notifications NotificationSettings
}

// Loader assembles per-call configuration from the tenant config store, with
// fallbacks when the store is unreachable or returns no rows.
type Loader struct {
	store            Store
	promptFilePath   string
	promptFileReader func(string) (string, error)
}

// NewLoader creates a Loader backed by store. promptFilePath is the local
// fallback file (system_prompt.md) used when the store is unreachable or
// returns no prompt row.
func NewLoader(store Store, promptFilePath string) *Loader {
	return &Loader{
		store:          store,
		promptFilePath: promptFilePath,
		promptFileReader: func(path string) (string, error) {
			b, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
	}
}

// Load fetches and assembles everything the orchestrator needs for one call.
func (l *Loader) Load(ctx context.Context, tenantID string, now time.Time) (Assembled, error) {
	prompt, promptErr := l.store.PromptRow(ctx, tenantID)
	if promptErr != nil || prompt.SystemPrompt == "" {
		prompt.SystemPrompt = l.fallbackPrompt()
	}

	fields, err := l.store.Fields(ctx, tenantID)
	if err != nil || len(fields) == 0 {
		fields = defaultFields()
	}
	fields = enabledOrdered(fields)

	notif, _ := l.store.NotificationSettings(ctx, tenantID)

	instructions := assembleInstructions(now, fields, prompt)
	schema := buildAnswersSchema(fields)

	greeting := prompt.GreetingMessage()
	if greeting == "" {
		greeting = "Thank you for calling. How can I help you today?"
	}

	return Assembled{
		Instructions:  instructions,
		Greeting:      greeting,
		Fields:        fields,
		AnswersSchema: schema,
		Notifications: notif,
	}, nil
}

func (l *Loader) fallbackPrompt() string {
	if l.promptFilePath != "" {
		if content, err := l.promptFileReader(l.promptFilePath); err == nil && content != "" {
			return content
		}
	}
	return genericBuiltinPrompt
}

// enabledOrdered drops disabled fields and sorts the remainder by DisplayOrder.
func enabledOrdered(fields []Field) []Field {
	var out []Field
	for _, f := range fields {
		if f.Enabled {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return defaultFields()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out
}

// assembleInstructions builds the fixed instruction block followed by the
// tenant's free-form content under a header.
func assembleInstructions(now time.Time, fields []Field, prompt PromptRow) string {
	var required, optional []string
	for _, f := range fields {
		if f.Required {
			required = append(required, f.Label)
		} else {
			optional = append(optional, f.Label)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s.\n\n", now.Format("2006-01-02 15:04 MST"))
	b.WriteString("Reservation intake is the default mode for this call. This overrides any instruction below to the contrary.\n\n")

	if len(required) > 0 {
		fmt.Fprintf(&b, "Required fields, in order: %s.\n", strings.Join(required, ", "))
	}
	if len(optional) > 0 {
		fmt.Fprintf(&b, "Optional fields, in order: %s.\n", strings.Join(optional, ", "))
	}

	b.WriteString("\nCollect each field in turn. Read back what you collected and ask the caller to confirm. ")
	b.WriteString("Only call finalize_reservation(answers, confirmed) after the caller gives an explicit yes. ")
	b.WriteString("Never tell the caller the reservation is confirmed before the tool returns ok = true. ")
	b.WriteString("Follow the tool's result branches exactly: if missing_fields, ask for those and call again; ")
	b.WriteString("if not_confirmed, ask for confirmation again; if a system error, apologize and do not ask the caller to retry.\n")

	if prompt.GreetingMessage() != "" {
		fmt.Fprintf(&b, "\nOpening greeting: %s\n", prompt.GreetingMessage())
	}

	b.WriteString("\n---\n")
	b.WriteString(prompt.SystemPrompt)

	return b.String()
}

// buildAnswersSchema produces the JSON Schema for finalize_reservation's
// "answers" object, one property per enabled field.
func buildAnswersSchema(fields []Field) map[string]interface{} {
	properties := make(map[string]interface{})
	var required []string

	for _, f := range fields {
		properties[f.Key] = fieldSchema(f)
		if f.Required {
			required = append(required, f.Key)
		}
	}

	answersSchema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		answersSchema["required"] = required
	}

	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"answers":   answersSchema,
			"confirmed": map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"answers", "confirmed"},
	}
}

func fieldSchema(f Field) map[string]interface{} {
	switch f.Type {
	case FieldNumber:
		return map[string]interface{}{"type": "integer", "description": f.Description}
	case FieldDate:
		return map[string]interface{}{
			"type":        "string",
			"description": joinNonEmpty(f.Description, "Format: YYYY-MM-DD"),
		}
	case FieldTime:
		return map[string]interface{}{
			"type":        "string",
			"description": joinNonEmpty(f.Description, "Format: HH:mm (24-hour)"),
		}
	case FieldSelect:
		return map[string]interface{}{
			"type":        "string",
			"enum":        f.Options,
			"description": f.Description,
		}
	default: // text
		return map[string]interface{}{"type": "string", "description": f.Description}
	}
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + ". " + b
}
