package lifecycle

import (
	"context"
	"encoding/json"

	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/repository"
	"foqus-orchestrator/storage"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// MissingOutputMessage is attached to a success snapshot whose job never reported output
const MissingOutputMessage = "job reported success without output"

// transition carries one status request through the terminal pipeline
type transition struct {
	req     StatusRequest
	rule    rule
	stamp   string
	outcome Outcome
	logger  *log.Entry

	job      *models.Job
	snapshot *models.FinishedJob
}

func newTransition(req StatusRequest, r rule) *transition {
	return &transition{
		req:   req,
		rule:  r,
		stamp: models.FormatTimestamp(req.Timestamp),
		logger: log.WithFields(log.Fields{
			"job":      req.JobID,
			"status":   req.Status,
			"consumer": req.ConsumerID,
		}),
	}
}

// update performs the conditional record write. A rejection is not an
// error; a rejected terminal request whose record already holds that state
// is marked recovered so the remaining stages run again.
func (e *Engine) update(ctx context.Context, t *transition) error {
	state := string(t.req.Status)
	update := repository.JobUpdate{
		State:      t.req.Status,
		Stamps:     map[string]string{state: t.stamp},
		ConsumerID: t.req.ConsumerID,
		Instance:   t.req.InstanceID,
		Message:    t.req.Message,
		TTL:        expiry(t.req.Timestamp, e.opts.JobTTL),
		Condition:  t.rule.condition,
	}
	if t.rule.terminal {
		update.Stamps[repository.FinishedAttribute] = t.stamp
		update.TTL = expiry(t.req.Timestamp, e.opts.FinishedTTL)
	}

	err := e.records.UpdateJob(ctx, t.req.JobID, update)
	if err == nil {
		t.outcome = OutcomeApplied
		e.metrics.RecordTransition(state)
		t.logger.Info("Job transitioned")
		return nil
	}
	if !errors.Is(err, repository.ErrConditionFailed) {
		return errors.Wrapf(err, "update job %s to %s", t.req.JobID, state)
	}

	t.outcome = OutcomeRejected
	e.metrics.RecordRejection(state)
	if !t.rule.terminal {
		t.logger.Info("Transition rejected by current state")
		return nil
	}

	job, err := e.records.GetJob(ctx, t.req.JobID)
	if errors.Is(err, repository.ErrNotFound) {
		t.logger.Warn("Terminal status for unknown job")
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read job %s", t.req.JobID)
	}
	if job.State == t.req.Status && job.Finished != "" {
		t.outcome = OutcomeRecovered
		t.job = job
		t.logger.Info("Job already terminal, re-driving snapshot")
		return nil
	}
	t.logger.WithField("state", job.State).Info("Transition rejected by current state")
	return nil
}

// reload reads the full record written by update
func (e *Engine) reload(ctx context.Context, t *transition) error {
	if t.job != nil {
		return nil
	}
	job, err := e.records.GetJob(ctx, t.req.JobID)
	if err != nil {
		return errors.Wrapf(err, "reload job %s", t.req.JobID)
	}
	t.job = job
	return nil
}

// linkConsumer records the job and its state on the consumer running it
func (e *Engine) linkConsumer(ctx context.Context, t *transition) error {
	if t.outcome == OutcomeRecovered || t.req.ConsumerID == "" {
		return nil
	}
	update := repository.ConsumerUpdate{
		Instance: t.req.InstanceID,
		User:     t.req.User,
		Job:      t.req.JobID,
		Session:  t.req.SessionID,
		State:    t.req.Status,
	}
	if t.job != nil {
		update.User = t.job.User
		update.Session = t.job.SessionID
	}
	if err := e.records.UpdateConsumer(ctx, t.req.ConsumerID, update); err != nil {
		return errors.Wrapf(err, "link consumer %s to job %s", t.req.ConsumerID, t.req.JobID)
	}
	return nil
}

func (e *Engine) buildSnapshot(_ context.Context, t *transition) error {
	snapshot := snapshotOf(t.job)
	if t.req.Status == models.JobStateSuccess && len(snapshot.Output) == 0 {
		e.metrics.RecordAnomaly("missing_output")
		t.logger.Warn("Job succeeded without output")
		snapshot.Message = MissingOutputMessage
	}
	t.snapshot = snapshot
	return nil
}

func (e *Engine) writeSnapshot(ctx context.Context, t *transition) error {
	return e.putSnapshot(ctx, t.snapshot, t.logger)
}

// recordExpired archives an expired job without writing the record store
func (e *Engine) recordExpired(ctx context.Context, req StatusRequest) error {
	logger := log.WithFields(log.Fields{"job": req.JobID, "status": req.Status})
	stamp := models.FormatTimestamp(req.Timestamp)

	job, err := e.records.GetJob(ctx, req.JobID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		job = &models.Job{ID: req.JobID, SessionID: req.SessionID, User: req.User}
	case err != nil:
		return errors.Wrapf(err, "read job %s", req.JobID)
	}
	if job.User == "" || job.SessionID == "" {
		return &models.SchemaError{Resource: models.ResourceJob, Event: models.EventStatus,
			Status: string(req.Status), Reason: "expired job without user or session"}
	}
	job.State = models.JobStateExpired
	job.Finished = stamp
	if req.Message != "" {
		job.Message = req.Message
	}

	e.metrics.RecordTransition(string(models.JobStateExpired))
	return e.putSnapshot(ctx, snapshotOf(job), logger)
}

func (e *Engine) putSnapshot(ctx context.Context, snapshot *models.FinishedJob, logger *log.Entry) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrapf(err, "encode snapshot of job %s", snapshot.ID)
	}
	key := storage.FinishedKey(snapshot.User, snapshot.Session, snapshot.Finished, string(snapshot.State), snapshot.ID)
	err = e.objects.PutIfAbsent(ctx, key, body)
	if errors.Is(err, storage.ErrExists) {
		logger.WithField("key", key).Debug("Snapshot already written")
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "write snapshot %s", key)
	}
	e.metrics.RecordSnapshot(string(snapshot.State))
	logger.WithField("key", key).Info("Snapshot written")
	return nil
}

// snapshotOf converts a job record into its archival form
func snapshotOf(job *models.Job) *models.FinishedJob {
	snapshot := &models.FinishedJob{
		ID:          job.ID,
		Session:     job.SessionID,
		User:        job.User,
		Application: job.Application,
		Simulation:  job.Simulation,
		Initialize:  job.Initialize,
		Reset:       job.Reset,
		State:       job.State,
		Input:       job.Input,
		Consumer:    job.ConsumerID,
		Instance:    job.Instance,
		Message:     job.Message,
		Create:      job.Create,
		Submit:      job.Submit,
		Setup:       job.Setup,
		Running:     job.Running,
		Finished:    job.Finished,
	}
	if job.Output != "" {
		if json.Valid([]byte(job.Output)) {
			snapshot.Output = json.RawMessage(job.Output)
		} else {
			quoted, _ := json.Marshal(job.Output)
			snapshot.Output = quoted
		}
	}
	return snapshot
}
