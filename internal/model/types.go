package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Server is one configured remote PIM endpoint.
type Server struct {
	ID           int64
	Domain       string // unique key
	CustomerName string
	Username     string
	Password     string
	Active       bool
	Modules      []Module
}

// Module is one entity mapping within a Server.
//
// LastEventID and LastReceivedAt form the ingestion cursor. Only the sync
// driver advances them and they never decrease.
type Module struct {
	ID                 int64
	ServerID           int64
	ModuleName         string // unique per server
	ConnectorName      string
	MappingClass       string
	EnableDynamicModel bool
	ShellPath          string
	StorageTarget      int // FAL storage uid, 0 = default
	StoragePID         int
	LastEventID        int64
	LastReceivedAt     time.Time
}

// Action is the kind of change an event describes.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ParseAction maps a remote action name to an Action.
// The remote API also sends numeric event types, which are accepted too.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create", "0":
		return ActionCreate, nil
	case "update", "1":
		return ActionUpdate, nil
	case "delete", "2":
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("unknown event action %q", s)
	}
}

// EventStatus is the lifecycle state of an event row.
type EventStatus string

const (
	StatusQueued     EventStatus = "queued"
	StatusProcessing EventStatus = "processing"
	StatusDone       EventStatus = "done"
	StatusError      EventStatus = "error"
)

// Statuses lists every status in lifecycle order.
var Statuses = []EventStatus{StatusQueued, StatusProcessing, StatusDone, StatusError}

// Terminal reports whether a run leaves events in s. Only an operator
// requeue moves an event out of error.
func (s EventStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Event is one remote change notification stored in the local queue.
type Event struct {
	ID         int64
	ModuleID   int64
	RemoteID   int64 // unique per module
	Action     Action
	Target     string
	PayloadRef string
	Payload    json.RawMessage

	Status     EventStatus
	Processing bool
	ClaimToken string
	Message    string

	ReceivedAt          time.Time
	RemoteAt            time.Time
	ProcessingStartedAt time.Time
	ProcessedAt         time.Time
}
