package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rowpledge/internal/concept2"
	"github.com/rowpledge/internal/domain"
)

// Webhook event types
const (
	TypeResultAdded   = "result-added"
	TypeResultDeleted = "result-deleted"
)

// Event is a decoded webhook payload: either ResultAdded or ResultDeleted
type Event interface {
	Type() string
}

// ResultAdded announces a new or updated logbook result
type ResultAdded struct {
	Result concept2.Result `json:"result"`
}

// Type implements Event
func (ResultAdded) Type() string { return TypeResultAdded }

// ResultDeleted announces that a logbook result was removed
type ResultDeleted struct {
	ResultID concept2.ID `json:"result_id" validate:"required"`
}

// Type implements Event
func (ResultDeleted) Type() string { return TypeResultDeleted }

type envelope struct {
	Type     string          `json:"type"`
	Result   json.RawMessage `json:"result"`
	ResultID concept2.ID     `json:"result_id"`
}

// Decode parses a webhook body into an Event. Malformed JSON, an unknown
// type and a missing result object are validation errors; field-level
// checks happen in Ingestor.Handle.
func Decode(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("malformed payload: %v", err), nil)
	}

	switch env.Type {
	case TypeResultAdded:
		if len(env.Result) == 0 || bytes.Equal(bytes.TrimSpace(env.Result), []byte("null")) {
			return nil, domain.NewValidationError("invalid payload", map[string]string{"result": "is required"})
		}
		var added ResultAdded
		if err := json.Unmarshal(env.Result, &added.Result); err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("malformed result: %v", err), nil)
		}
		return added, nil
	case TypeResultDeleted:
		return ResultDeleted{ResultID: env.ResultID}, nil
	case "":
		return nil, domain.NewValidationError("invalid payload", map[string]string{"type": "is required"})
	default:
		return nil, domain.NewValidationError(fmt.Sprintf("unknown event type %q", env.Type), nil)
	}
}

// ResultKey returns the logbook result id an event refers to. Relays use it
// as a partition key so events for one result stay ordered.
func ResultKey(e Event) string {
	switch ev := e.(type) {
	case ResultAdded:
		return ev.Result.ID.String()
	case ResultDeleted:
		return ev.ResultID.String()
	default:
		return ""
	}
}
