package models

import (
	"encoding/json"
	"time"
)

// Record types stored in the Type key attribute
const (
	TypeJob      = "Job"
	TypeConsumer = "Consumer"
)

// JobState represents the current state of a job
type JobState string

const (
	JobStateCreate    JobState = "create"
	JobStateSubmit    JobState = "submit"
	JobStateSetup     JobState = "setup"
	JobStateRunning   JobState = "running"
	JobStateSuccess   JobState = "success"
	JobStateError     JobState = "error"
	JobStateTerminate JobState = "terminate"
	JobStateExpired   JobState = "expired"
	JobStateStop      JobState = "stop"
)

// AllJobStates lists every state a job can report
var AllJobStates = []JobState{
	JobStateCreate, JobStateSubmit, JobStateSetup, JobStateRunning,
	JobStateSuccess, JobStateError, JobStateTerminate, JobStateExpired, JobStateStop,
}

// RecordTerminalStates are the terminal states persisted in the record store.
// Expired is terminal too but is never written to a Job record.
var RecordTerminalStates = []JobState{JobStateSuccess, JobStateError, JobStateTerminate}

// ActiveJobStates are the states a session terminate moves to terminate
var ActiveJobStates = []JobState{JobStateCreate, JobStateSubmit, JobStateStop, JobStateSetup, JobStateRunning}

// IsValid reports whether s is a known job state
func (s JobState) IsValid() bool {
	for _, known := range AllJobStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status transition is accepted after s
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSuccess, JobStateError, JobStateTerminate, JobStateExpired:
		return true
	}
	return false
}

// Job is one unit of submitted simulation work
type Job struct {
	ID          string                 `json:"Id" dynamodbav:"Id"`
	Type        string                 `json:"Type" dynamodbav:"Type"`
	SessionID   string                 `json:"SessionId" dynamodbav:"SessionId"`
	User        string                 `json:"User" dynamodbav:"User"`
	Application string                 `json:"Application,omitempty" dynamodbav:"Application,omitempty"`
	Simulation  string                 `json:"Simulation" dynamodbav:"Simulation"`
	Initialize  bool                   `json:"Initialize" dynamodbav:"Initialize"`
	Reset       bool                   `json:"Reset" dynamodbav:"Reset"`
	Input       map[string]interface{} `json:"Input,omitempty" dynamodbav:"Input,omitempty"`
	// Output is kept as a JSON string so the record store never has to
	// represent small floating point magnitudes.
	Output     string   `json:"Output,omitempty" dynamodbav:"Output,omitempty"`
	State      JobState `json:"State" dynamodbav:"State"`
	Create     int64    `json:"Create" dynamodbav:"Create"`
	Submit     string   `json:"submit,omitempty" dynamodbav:"submit,omitempty"`
	Setup      string   `json:"setup,omitempty" dynamodbav:"setup,omitempty"`
	Running    string   `json:"running,omitempty" dynamodbav:"running,omitempty"`
	Stop       string   `json:"stop,omitempty" dynamodbav:"stop,omitempty"`
	Success    string   `json:"success,omitempty" dynamodbav:"success,omitempty"`
	Error      string   `json:"error,omitempty" dynamodbav:"error,omitempty"`
	Terminate  string   `json:"terminate,omitempty" dynamodbav:"terminate,omitempty"`
	Finished   string   `json:"Finished,omitempty" dynamodbav:"Finished,omitempty"`
	ConsumerID string   `json:"ConsumerId,omitempty" dynamodbav:"ConsumerId,omitempty"`
	Instance   string   `json:"instance,omitempty" dynamodbav:"instance,omitempty"`
	Message    string   `json:"Message,omitempty" dynamodbav:"Message,omitempty"`
	TTL        int64    `json:"TTL,omitempty" dynamodbav:"TTL,omitempty"`
}

// Stamp returns the timestamp recorded for the given state attribute
func (j *Job) Stamp(state JobState) string {
	switch state {
	case JobStateSubmit:
		return j.Submit
	case JobStateSetup:
		return j.Setup
	case JobStateRunning:
		return j.Running
	case JobStateStop:
		return j.Stop
	case JobStateSuccess:
		return j.Success
	case JobStateError:
		return j.Error
	case JobStateTerminate:
		return j.Terminate
	}
	return ""
}

// SetStamp records a timestamp for the given state attribute
func (j *Job) SetStamp(state JobState, ts string) {
	switch state {
	case JobStateSubmit:
		j.Submit = ts
	case JobStateSetup:
		j.Setup = ts
	case JobStateRunning:
		j.Running = ts
	case JobStateStop:
		j.Stop = ts
	case JobStateSuccess:
		j.Success = ts
	case JobStateError:
		j.Error = ts
	case JobStateTerminate:
		j.Terminate = ts
	}
}

// JobDefinition is a job as submitted by a client before it gets a record
type JobDefinition struct {
	ID         string                 `json:"Id,omitempty" yaml:"id,omitempty"`
	Simulation string                 `json:"Simulation" yaml:"simulation"`
	Input      map[string]interface{} `json:"Input,omitempty" yaml:"input,omitempty"`
	Initialize bool                   `json:"Initialize" yaml:"initialize"`
	Reset      bool                   `json:"Reset" yaml:"reset"`
}

// NewJob builds the create-state record for a staged definition
func NewJob(def JobDefinition, user, sessionID, application string, created time.Time) *Job {
	return &Job{
		ID:          def.ID,
		Type:        TypeJob,
		SessionID:   sessionID,
		User:        user,
		Application: application,
		Simulation:  def.Simulation,
		Initialize:  def.Initialize,
		Reset:       def.Reset,
		Input:       def.Input,
		State:       JobStateCreate,
		Create:      created.UnixMilli(),
	}
}

// Consumer is an external worker process that executes jobs
type Consumer struct {
	ID       string            `json:"Id"`
	Type     string            `json:"Type"`
	Instance string            `json:"instance,omitempty"`
	User     string            `json:"User,omitempty"`
	Job      string            `json:"Job,omitempty"`
	Session  string            `json:"Session,omitempty"`
	State    JobState          `json:"State,omitempty"`
	Events   map[string]string `json:"events,omitempty"`
	TTL      int64             `json:"TTL,omitempty"`
}

// FinishedJob is the immutable archival snapshot of a terminal job
type FinishedJob struct {
	ID          string                 `json:"Id"`
	Session     string                 `json:"SessionId"`
	User        string                 `json:"User"`
	Application string                 `json:"Application,omitempty"`
	Simulation  string                 `json:"Simulation,omitempty"`
	Initialize  bool                   `json:"Initialize"`
	Reset       bool                   `json:"Reset"`
	State       JobState               `json:"State"`
	Input       map[string]interface{} `json:"Input,omitempty"`
	Output      json.RawMessage        `json:"Output,omitempty"`
	Consumer    string                 `json:"ConsumerId,omitempty"`
	Instance    string                 `json:"instance,omitempty"`
	Message     string                 `json:"Message,omitempty"`
	Create      int64                  `json:"Create,omitempty"`
	Submit      string                 `json:"Submit,omitempty"`
	Setup       string                 `json:"Setup,omitempty"`
	Running     string                 `json:"Running,omitempty"`
	Finished    string                 `json:"Finished"`
}

// Page is the ordered batch of snapshots returned to a polling client
type Page []FinishedJob
