package pim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/crossmedia/fourallportal/internal/model"
)

// ModuleConfig is the remote description of one module.
type ModuleConfig struct {
	ModuleName    string          `json:"module_name"`
	ConnectorName string          `json:"connector_name"`
	ObjectType    string          `json:"object_type"`
	Fields        json.RawMessage `json:"fields,omitempty"`
}

// RemoteEvent is one entry of the remote event stream.
type RemoteEvent struct {
	ID         int64           `json:"id"`
	Action     flexString      `json:"action"`
	ObjectID   flexString      `json:"object_id"`
	PayloadRef string          `json:"payload_ref"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ToEvent converts the remote record into a queue entry for moduleID.
func (r RemoteEvent) ToEvent(moduleID int64) (model.Event, error) {
	action, err := model.ParseAction(string(r.Action))
	if err != nil {
		return model.Event{}, fmt.Errorf("remote event %d: %w", r.ID, err)
	}
	if r.ObjectID == "" {
		return model.Event{}, fmt.Errorf("remote event %d: missing object_id", r.ID)
	}
	var payload json.RawMessage
	if len(r.Payload) > 0 && !bytes.Equal(r.Payload, []byte("null")) {
		payload = r.Payload
	}
	return model.Event{
		ModuleID:   moduleID,
		RemoteID:   r.ID,
		Action:     action,
		Target:     string(r.ObjectID),
		PayloadRef: r.PayloadRef,
		Payload:    payload,
		RemoteAt:   r.Timestamp,
	}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Customer string `json:"customer,omitempty"`
}

type loginResponse struct {
	SessionID string `json:"session_id"`
}

type eventsResponse struct {
	Events []RemoteEvent `json:"events"`
}

// flexString accepts both JSON strings and numbers. Older servers send
// numeric event types and object ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}
