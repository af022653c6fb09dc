package models

import "time"

// PublishRecord describes one publish call. It is returned to the caller and logged, never stored.
type PublishRecord struct {
	Destination string    `json:"destination"`
	MessageID   string    `json:"message_id"`
	ContentType string    `json:"content_type"`
	Payload     string    `json:"payload"`
	Success     bool      `json:"success"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	SentAt      time.Time `json:"sent_at"`
}

// FilterResult is what a filter service hands back for one event.
type FilterResult struct {
	Filtered       interface{} `json:"filtered"`
	AppliedRules   []string    `json:"applied_rules,omitempty"`
	RedactedFields []string    `json:"redacted_fields,omitempty"`
}

// DiagnosticPayload is the fixed message the debug session publishes.
type DiagnosticPayload struct {
	Test      bool      `json:"test"`
	Timestamp time.Time `json:"timestamp"`
	Queue     string    `json:"queue"`
	Source    string    `json:"source"`
}

func NewDiagnosticPayload(queue, source string) DiagnosticPayload {
	return DiagnosticPayload{
		Test:      true,
		Timestamp: time.Now().UTC(),
		Queue:     queue,
		Source:    source,
	}
}
