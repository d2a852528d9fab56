package reservation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lexiqai/callbridge/internal/tenantconfig"
)

var (
	dateRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRE = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// Notifier dispatches the asynchronous notification hand-off on a fresh
// successful insert. Implemented by internal/notify; declared here to avoid
// an import cycle.
type Notifier interface {
	NotifyReservationCreated(tenantID, reservationID string, answers map[string]interface{}, fields []tenantconfig.Field, settings tenantconfig.NotificationSettings)
}

// Finalizer owns the reservation store and runs the validation/persistence
// pipeline triggered by a finalize_reservation function call.
type Finalizer struct {
	store    *Store
	notifier Notifier
}

// NewFinalizer creates a Finalizer bound to store and notifier.
func NewFinalizer(store *Store, notifier Notifier) *Finalizer {
	return &Finalizer{store: store, notifier: notifier}
}

// Finalize validates, coerces, and persists a finalize_reservation call. The
// notification hand-off and event logging are the caller's responsibility;
// Finalize returns the Outcome to serialize into function_call_output.
// fields is the tenant's enabled field list in display order. schema may be
// nil (e.g. if compilation failed), in which case schema validation is
// skipped and only per-field coercion applies.
func (f *Finalizer) Finalize(ctx context.Context, tenantID, callID, argsJSON string, fields []tenantconfig.Field, schema *tenantconfig.CompiledSchema, notifSettings tenantconfig.NotificationSettings) Outcome {
	// Step 1: parse JSON.
	var args struct {
		Answers   json.RawMessage `json:"answers"`
		Confirmed interface{}     `json:"confirmed"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Outcome{OK: false, ErrorType: ErrorTypeSystem, ErrorCode: ErrorCodeParseError}
	}

	// Step 2: guard against a tenant with zero required fields.
	if !hasRequiredField(fields) {
		return Outcome{OK: false, ErrorType: ErrorTypeSystem, ErrorCode: ErrorCodeNoRequiredFields}
	}

	// Step 3: structural validation of answers.
	answers, ok := decodeAnswersObject(args.Answers)
	if !ok {
		return Outcome{OK: false, ErrorType: ErrorTypeSystem, ErrorCode: ErrorCodeInvalidAnswers}
	}

	// Step 3b: schema validation of the full tool arguments (answers +
	// confirmed) against the tenant's compiled schema, ahead of per-field
	// coercion.
	if schema != nil {
		fullArgs := map[string]interface{}{"answers": answers, "confirmed": args.Confirmed}
		if err := schema.Validate(fullArgs); err != nil {
			return Outcome{OK: false, ErrorType: ErrorTypeSystem, ErrorCode: ErrorCodeInvalidAnswers}
		}
	}

	// Step 4: consent validation.
	confirmed, isBool := args.Confirmed.(bool)
	if !isBool || !confirmed {
		return Outcome{OK: false, ErrorType: ErrorTypeNotConfirmed}
	}

	// Step 5: per-field coercion and validation.
	missing := coerceAndValidate(fields, answers)

	// Step 6: missing fields short-circuit.
	if len(missing) > 0 {
		return Outcome{OK: false, ErrorType: ErrorTypeMissingFields, MissingFields: missing}
	}

	// Step 7: persist.
	req := buildRequest(tenantID, callID, answers)
	id := uuid.New().String()
	existingID, deduped, err := f.store.Insert(ctx, id, req)
	if err != nil {
		return Outcome{OK: false, ErrorType: ErrorTypeSystem, ErrorCode: ErrorCodeDBInsertFailed}
	}

	if deduped {
		return Outcome{OK: true, ReservationID: existingID, Deduped: true}
	}

	// Step 8: fire notification hand-off asynchronously; do not block the result.
	if f.notifier != nil {
		go f.notifier.NotifyReservationCreated(tenantID, id, answers, fields, notifSettings)
	}

	return Outcome{OK: true, ReservationID: id, Deduped: false}
}

func hasRequiredField(fields []tenantconfig.Field) bool {
	for _, f := range fields {
		if f.Required {
			return true
		}
	}
	return false
}

func decodeAnswersObject(raw json.RawMessage) (map[string]interface{}, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return obj, true
}

// coerceAndValidate mutates answers in place (numbers are replaced with their
// parsed integer form) and returns the labels of fields that are missing or
// fail format validation.
func coerceAndValidate(fields []tenantconfig.Field, answers map[string]interface{}) []string {
	var missing []string

	for _, field := range fields {
		value, present := answers[field.Key]

		switch field.Type {
		case tenantconfig.FieldNumber:
			n, ok := coerceNumber(value)
			if !ok {
				if field.Required {
					missing = append(missing, field.Label)
				}
				continue
			}
			answers[field.Key] = n

		case tenantconfig.FieldDate:
			s, ok := value.(string)
			if !present || !ok || !dateRE.MatchString(s) {
				if field.Required {
					missing = append(missing, missingLabel(field, present))
				}
				continue
			}

		case tenantconfig.FieldTime:
			s, ok := value.(string)
			if !present || !ok || !timeRE.MatchString(s) {
				if field.Required {
					missing = append(missing, missingLabel(field, present))
				}
				continue
			}

		default: // text, select
			s, ok := value.(string)
			if !present || !ok || strings.TrimSpace(s) == "" {
				if field.Required {
					missing = append(missing, field.Label)
				}
				continue
			}
		}
	}

	return missing
}

func missingLabel(field tenantconfig.Field, present bool) string {
	if present {
		return fmt.Sprintf("%s (invalid format)", field.Label)
	}
	return field.Label
}

func coerceNumber(value interface{}) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case string:
		digitsOnly := stripNonDigits(v)
		if digitsOnly == "" {
			return 0, false
		}
		n, err := strconv.Atoi(digitsOnly)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func buildRequest(tenantID, callID string, answers map[string]interface{}) Request {
	req := Request{
		TenantID: tenantID,
		CallID:   callID,
		Answers:  answers,
		Status:   "pending",
		Source:   "tool",
	}

	if name, ok := answers["customer_name"].(string); ok {
		req.CustomerName = name
	}
	if phone, ok := answers["customer_phone"].(string); ok {
		req.CustomerPhone = phone
	}
	if size, ok := answers["party_size"].(int); ok {
		req.PartySize = size
		req.HasPartySize = true
	}
	if date, ok := answers["requested_date"].(string); ok {
		req.RequestedDate = date
	}
	if tm, ok := answers["requested_time"].(string); ok {
		req.RequestedTime = tm
	}

	return req
}
