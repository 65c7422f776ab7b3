// File: internal/processor/validator.go
package processor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/smartdevs17/orquest-service-sync/internal/models"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
)

// EventValidator handles webhook event validation
type EventValidator struct{}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool               `json:"valid"`
	Errors []*ValidationError `json:"errors,omitempty"`
}

// NewEventValidator creates a new event validator
func NewEventValidator() *EventValidator {
	return &EventValidator{}
}

// ValidateEvent validates a known event and returns a VALIDATION_ERROR
// describing every problem found
func (ev *EventValidator) ValidateEvent(event *models.ServiceEvent) error {
	result := ev.ValidateEventDetailed(event)
	if !result.Valid {
		var errorMessages []string
		for _, err := range result.Errors {
			errorMessages = append(errorMessages, fmt.Sprintf("%s: %s", err.Field, err.Message))
		}
		return utils.NewAppError(utils.ErrCodeValidation,
			"Event validation failed",
			strings.Join(errorMessages, "; "))
	}
	return nil
}

// ValidateEventDetailed returns every validation problem. Unknown event
// types are not validated.
func (ev *EventValidator) ValidateEventDetailed(event *models.ServiceEvent) *ValidationResult {
	result := &ValidationResult{Valid: true}
	if event == nil {
		result.add("event", "event is required")
		return result
	}
	if !event.IsKnown() {
		return result
	}

	if strings.TrimSpace(string(event.ServiceID)) == "" {
		result.add("service_id", "service_id is required")
	}

	if event.Timestamp.Invalid() {
		result.add("timestamp", fmt.Sprintf("unrecognised timestamp %q", event.Timestamp.Raw))
	}

	if event.EventType != models.EventServiceDeleted {
		data := bytes.TrimSpace(event.Data)
		if len(data) > 0 && !bytes.Equal(data, []byte("null")) && data[0] != '{' {
			result.add("data", "data must be a JSON object")
		}
	}

	return result
}

func (r *ValidationResult) add(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, &ValidationError{Field: field, Message: message})
}
