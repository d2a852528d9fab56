package tenantconfig

// FieldType enumerates the reservation field types recognized by the
// Finalizer.
type FieldType string

const (
	FieldText   FieldType = "text"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
	FieldTime   FieldType = "time"
	FieldSelect FieldType = "select"
)

// Field is one reservation form field, read-only per tenant, ordered by
// DisplayOrder.
type Field struct {
	Key          string    `json:"key"`
	Label        string    `json:"label"`
	Type         FieldType `json:"type"`
	Required     bool      `json:"required"`
	Options      []string  `json:"options,omitempty"`
	Description  string    `json:"description,omitempty"`
	DisplayOrder int       `json:"displayOrder"`
	Enabled      bool      `json:"enabled"`
}

// PromptRow is the tenant's free-form system prompt plus recognized metadata
// keys.
type PromptRow struct {
	SystemPrompt   string            `json:"systemPrompt"`
	ConfigMetadata map[string]string `json:"configMetadata"`
}

// GreetingMessage returns the configured greeting, or "" if unset.
func (p PromptRow) GreetingMessage() string {
	return p.ConfigMetadata["greeting_message"]
}

// NotificationSettings names the transport and destination for a tenant's
// reservation notifications.
type NotificationSettings struct {
	Email   string `json:"email"`
	Slack   string `json:"slackChannel"`
}

// defaultFields is the built-in four-field set used when the store returns
// no rows for a tenant.
func defaultFields() []Field {
	return []Field{
		{Key: "customer_name", Label: "お名前", Type: FieldText, Required: true, DisplayOrder: 0, Enabled: true},
		{Key: "party_size", Label: "人数", Type: FieldNumber, Required: true, DisplayOrder: 1, Enabled: true},
		{Key: "requested_date", Label: "ご希望日", Type: FieldDate, Required: true, DisplayOrder: 2, Enabled: true},
		{Key: "requested_time", Label: "希望時間", Type: FieldTime, Required: true, DisplayOrder: 3, Enabled: true},
	}
}

const genericBuiltinPrompt = `You are a helpful phone assistant. Your job is to take a restaurant reservation from the caller.`
