// Package reservation implements the idempotent Reservation Finalizer:
// tool-argument validation, unique-key insert with race-safe dedupe, and
// the result hand-off back to the model.
package reservation

// ErrorType tags the Outcome variants the Finalizer can return on the wire.
type ErrorType string

const (
	ErrorTypeSystem        ErrorType = "system"
	ErrorTypeNotConfirmed  ErrorType = "not_confirmed"
	ErrorTypeMissingFields ErrorType = "missing_fields"
)

// ErrorCode is the system-class error code, present only when ErrorType is
// "system".
type ErrorCode string

const (
	ErrorCodeParseError       ErrorCode = "PARSE_ERROR"
	ErrorCodeNoRequiredFields ErrorCode = "NO_REQUIRED_FIELDS"
	ErrorCodeInvalidAnswers   ErrorCode = "INVALID_ANSWERS_FORMAT"
	ErrorCodeDBInsertFailed   ErrorCode = "DB_INSERT_FAILED"
)

// Outcome is the tagged result variant returned from Finalize and serialized
// to the model as the tool's function_call_output.
type Outcome struct {
	OK            bool      `json:"ok"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Deduped       bool      `json:"deduped,omitempty"`
	ErrorType     ErrorType `json:"error_type,omitempty"`
	ErrorCode     ErrorCode `json:"error_code,omitempty"`
	MissingFields []string  `json:"missing_fields,omitempty"`
}

// Request is the persisted reservation record, one per call at most.
type Request struct {
	TenantID      string
	CallID        string
	CustomerName  string
	CustomerPhone string
	PartySize     int
	HasPartySize  bool
	RequestedDate string // YYYY-MM-DD, "" if not collected
	RequestedTime string // HH:mm, "" if not collected
	Answers       map[string]interface{}
	Status        string
	Source        string // "tool" or "fallback"
	CallLogID     string
}
