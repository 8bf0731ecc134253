package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// TimestampLayout matches the delivery timestamps emitted by the notification bus
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t the way state timestamps are stored
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Resource names carried in a notification
const (
	ResourceJob      = "job"
	ResourceConsumer = "consumer"
	ResourceSession  = "session"
)

// Event names carried in a job notification
const (
	EventStatus = "status"
	EventOutput = "output"
)

// Notification is the envelope published on the notification bus
type Notification struct {
	Resource   string          `json:"resource"`
	Event      string          `json:"event"`
	JobID      string          `json:"jobid,omitempty"`
	Consumer   string          `json:"consumer,omitempty"`
	Status     string          `json:"status,omitempty"`
	InstanceID *string         `json:"instanceid,omitempty"`
	SessionID  string          `json:"sessionid,omitempty"`
	ID         string          `json:"id,omitempty"`
	Message    string          `json:"message,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
}

// Attributes are the typed message attributes sent alongside an envelope
type Attributes struct {
	Event       string `json:"event"`
	Username    string `json:"username"`
	Application string `json:"application,omitempty"`
}

// Map renders the attributes as bus message attributes, skipping empty values
func (a Attributes) Map() map[string]string {
	m := make(map[string]string, 3)
	if a.Event != "" {
		m["event"] = a.Event
	}
	if a.Username != "" {
		m["username"] = a.Username
	}
	if a.Application != "" {
		m["application"] = a.Application
	}
	return m
}

// AttributesFromMap reads attributes received from the bus
func AttributesFromMap(m map[string]string) Attributes {
	return Attributes{
		Event:       m["event"],
		Username:    m["username"],
		Application: m["application"],
	}
}

// SchemaError reports a notification that no handler can interpret.
// Redelivering it reproduces the same fault.
type SchemaError struct {
	Resource string
	Event    string
	Status   string
	Reason   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("unsupported notification resource=%q event=%q status=%q: %s",
		e.Resource, e.Event, e.Status, e.Reason)
}

// Event is a decoded notification. The concrete types are JobStatusEvent,
// JobOutputEvent, ConsumerEvent and SessionEvent.
type Event interface {
	isEvent()
}

// JobStatusEvent requests a job state transition
type JobStatusEvent struct {
	JobID      string
	Status     JobState
	ConsumerID string
	InstanceID string
	SessionID  string
	Message    string
}

// JobOutputEvent carries the output of a finished simulation
type JobOutputEvent struct {
	JobID      string
	ConsumerID string
	Value      json.RawMessage
}

// ConsumerEvent is a consumer heartbeat or lifecycle report
type ConsumerEvent struct {
	ConsumerID string
	Name       string
	InstanceID string
}

// SessionAction is a bulk operation over a session
type SessionAction string

const (
	SessionStart     SessionAction = "start"
	SessionStop      SessionAction = "stop"
	SessionTerminate SessionAction = "terminate"
)

// SessionEvent requests a bulk session operation
type SessionEvent struct {
	SessionID string
	Action    SessionAction
	Message   string
}

func (JobStatusEvent) isEvent() {}
func (JobOutputEvent) isEvent() {}
func (ConsumerEvent) isEvent()  {}
func (SessionEvent) isEvent()   {}

// attributeName restricts consumer event names, which become record attribute names
var attributeName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

var reservedConsumerAttributes = map[string]bool{
	"Id": true, "Type": true, "TTL": true, "instance": true,
	"User": true, "Job": true, "Session": true, "State": true,
}

// Decode turns an envelope into its event variant
func (n Notification) Decode() (Event, error) {
	schemaErr := func(reason string) error {
		return &SchemaError{Resource: n.Resource, Event: n.Event, Status: n.Status, Reason: reason}
	}
	instance := ""
	if n.InstanceID != nil {
		instance = *n.InstanceID
	}

	switch n.Resource {
	case ResourceJob:
		if n.JobID == "" {
			return nil, schemaErr("missing jobid")
		}
		switch n.Event {
		case EventStatus:
			status := JobState(n.Status)
			if !status.IsValid() {
				return nil, schemaErr("unknown job status")
			}
			return JobStatusEvent{
				JobID:      n.JobID,
				Status:     status,
				ConsumerID: n.Consumer,
				InstanceID: instance,
				SessionID:  n.SessionID,
				Message:    n.Message,
			}, nil
		case EventOutput:
			if len(n.Value) == 0 {
				return nil, schemaErr("output event without value")
			}
			return JobOutputEvent{JobID: n.JobID, ConsumerID: n.Consumer, Value: n.Value}, nil
		}
		return nil, schemaErr("unknown job event")

	case ResourceConsumer:
		if n.Consumer == "" {
			return nil, schemaErr("missing consumer")
		}
		if !attributeName.MatchString(n.Event) || reservedConsumerAttributes[n.Event] {
			return nil, schemaErr("invalid consumer event name")
		}
		return ConsumerEvent{ConsumerID: n.Consumer, Name: n.Event, InstanceID: instance}, nil

	case ResourceSession:
		id := n.SessionID
		if id == "" {
			id = n.ID
		}
		if id == "" {
			return nil, schemaErr("missing session id")
		}
		switch action := SessionAction(n.Status); action {
		case SessionStart, SessionStop, SessionTerminate:
			return SessionEvent{SessionID: id, Action: action, Message: n.Message}, nil
		}
		return nil, schemaErr("unknown session action")
	}
	return nil, schemaErr("unknown resource")
}

// ParseNotifications decodes a bus message body holding one envelope or an array of them
func ParseNotifications(body []byte) ([]Notification, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &SchemaError{Reason: "empty message body"}
	}
	if trimmed[0] == '[' {
		var list []Notification
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, &SchemaError{Reason: "malformed envelope array: " + err.Error()}
		}
		return list, nil
	}
	var n Notification
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return nil, &SchemaError{Reason: "malformed envelope: " + err.Error()}
	}
	return []Notification{n}, nil
}

// EventRecord is one mirrored event kept in the audit log
type EventRecord struct {
	ID      int64           `json:"id"`
	JobID   string          `json:"job,omitempty"`
	Session string          `json:"session,omitempty"`
	User    string          `json:"user,omitempty"`
	Name    string          `json:"name"`
	Body    json.RawMessage `json:"body"`
	At      time.Time       `json:"at"`
}
