package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"foqus-orchestrator/core/lifecycle"
	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/notify"
	"foqus-orchestrator/core/repository"
	"foqus-orchestrator/storage"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidDefinition is returned when an appended job definition cannot be staged
var ErrInvalidDefinition = errors.New("invalid job definition")

// TerminateMessage is recorded on jobs moved to terminate by a session terminate
const TerminateMessage = "session terminated"

// Options tunes bulk operations
type Options struct {
	// BulkConcurrency bounds the conditional writes in flight per operation
	BulkConcurrency int
}

// Result reports the jobs a bulk operation transitioned
type Result struct {
	Session string   `json:"session"`
	Jobs    []string `json:"jobs"`
	// Submitted counts the submit notifications published by start
	Submitted int `json:"submitted,omitempty"`
}

// Orchestrator applies bulk operations to every job of a session
type Orchestrator struct {
	records repository.RecordStore
	objects storage.ObjectStore
	bus     notify.Publisher
	engine  *lifecycle.Engine
	opts    Options
	now     func() time.Time
}

// NewOrchestrator creates a session orchestrator
func NewOrchestrator(
	records repository.RecordStore,
	objects storage.ObjectStore,
	bus notify.Publisher,
	engine *lifecycle.Engine,
	opts Options,
) *Orchestrator {
	if opts.BulkConcurrency < 1 {
		opts.BulkConcurrency = 1
	}
	return &Orchestrator{
		records: records,
		objects: objects,
		bus:     bus,
		engine:  engine,
		opts:    opts,
		now:     time.Now,
	}
}

// Create allocates a new session id
func (o *Orchestrator) Create(_ context.Context, user string) (string, error) {
	id := uuid.New().String()
	log.WithFields(log.Fields{"session": id, "user": user}).Info("Session created")
	return id, nil
}

// Append stages job definitions for a later start and writes their create records
func (o *Orchestrator) Append(ctx context.Context, user, sessionID string, defs []models.JobDefinition) ([]string, error) {
	if len(defs) == 0 {
		return nil, errors.Wrap(ErrInvalidDefinition, "no job definitions")
	}
	staged := make([]models.JobDefinition, len(defs))
	for i, def := range defs {
		if def.Simulation == "" {
			return nil, errors.Wrapf(ErrInvalidDefinition, "definition %d has no simulation", i)
		}
		if def.ID == "" {
			def.ID = uuid.New().String()
		}
		staged[i] = def
	}

	body, err := json.Marshal(staged)
	if err != nil {
		return nil, errors.Wrap(err, "encode staged definitions")
	}
	created := o.now()
	if err := o.stage(ctx, user, sessionID, created, body); err != nil {
		return nil, err
	}

	jobs := make([]*models.Job, len(staged))
	ids := make([]string, len(staged))
	for i, def := range staged {
		jobs[i] = models.NewJob(def, user, sessionID, "", created.Add(time.Duration(i)*time.Millisecond))
		ids[i] = def.ID
	}
	if err := o.records.PutJobs(ctx, jobs); err != nil {
		return nil, errors.Wrapf(err, "write create records for session %s", sessionID)
	}

	log.WithFields(log.Fields{"session": sessionID, "user": user, "jobs": len(ids)}).Info("Jobs appended")
	return ids, nil
}

// stage writes one staged batch, moving to the next millisecond on a key collision
func (o *Orchestrator) stage(ctx context.Context, user, sessionID string, created time.Time, body []byte) error {
	millis := created.UnixMilli()
	for attempt := 0; attempt < 100; attempt++ {
		key := storage.StagedKey(user, sessionID, millis+int64(attempt))
		err := o.objects.PutIfAbsent(ctx, key, body)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrExists) {
			return errors.Wrapf(err, "stage definitions at %s", key)
		}
	}
	return errors.Errorf("no free staging key for session %s", sessionID)
}

// Start resumes stopped jobs and submits every staged definition of the session.
// Staged objects are removed only once all submit notifications were published.
func (o *Orchestrator) Start(ctx context.Context, user, sessionID string) (*Result, error) {
	logger := log.WithFields(log.Fields{"session": sessionID, "user": user})
	result := &Result{Session: sessionID}

	stopped, err := o.records.QuerySessionJobs(ctx, sessionID, models.JobStateStop)
	if err != nil {
		return nil, errors.Wrapf(err, "query stopped jobs of session %s", sessionID)
	}

	listing, err := o.objects.List(ctx, storage.StagedPrefix(user, sessionID))
	if err != nil {
		return nil, errors.Wrapf(err, "list staged definitions of session %s", sessionID)
	}
	staged, resubmit, err := o.loadStaged(ctx, user, sessionID, listing)
	if err != nil {
		return nil, err
	}

	submitted, err := o.bulk(ctx, append(stopped, staged...), func(job *models.Job) lifecycle.StatusRequest {
		return lifecycle.StatusRequest{
			JobID:     job.ID,
			Status:    models.JobStateSubmit,
			SessionID: sessionID,
			User:      user,
			Timestamp: o.now(),
		}
	})
	// A staged job already in submit was transitioned by a start that failed
	// before deleting its batch, so its notification may never have gone out
	submitted = append(submitted, resubmit...)
	result.Jobs = ids(submitted)
	if err != nil {
		return result, err
	}

	for _, job := range submitted {
		job.State = models.JobStateSubmit
		if err := o.publishSubmit(ctx, job); err != nil {
			return result, err
		}
		result.Submitted++
	}
	if err := o.announceStart(ctx, user, sessionID); err != nil {
		return result, err
	}

	if len(listing) > 0 {
		keys := make([]string, len(listing))
		for i, obj := range listing {
			keys[i] = obj.Key
		}
		if err := o.objects.Delete(ctx, keys...); err != nil {
			return result, errors.Wrapf(err, "remove staged definitions of session %s", sessionID)
		}
	}

	logger.WithFields(log.Fields{
		"resumed":     len(stopped),
		"staged":      len(staged),
		"resubmitted": len(resubmit),
		"submitted":   result.Submitted,
	}).
		Info("Session started")
	return result, nil
}

// loadStaged reads staged batches and returns the create record of every definition,
// writing records for definitions that do not have one yet. Staged definitions
// whose record is already in submit are returned separately for republishing.
func (o *Orchestrator) loadStaged(
	ctx context.Context,
	user, sessionID string,
	listing []storage.Object,
) (jobs, resubmit []*models.Job, err error) {
	var missing []*models.Job
	created := o.now()
	for _, obj := range listing {
		body, err := o.objects.Get(ctx, obj.Key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "read staged definitions %s", obj.Key)
		}
		var defs []models.JobDefinition
		if err := json.Unmarshal(body, &defs); err != nil {
			return nil, nil, errors.Wrapf(err, "decode staged definitions %s", obj.Key)
		}

		for _, def := range defs {
			if def.ID != "" {
				job, err := o.records.GetJob(ctx, def.ID)
				if err == nil {
					switch job.State {
					case models.JobStateCreate:
						jobs = append(jobs, job)
					case models.JobStateSubmit:
						resubmit = append(resubmit, job)
					}
					continue
				}
				if !errors.Is(err, repository.ErrNotFound) {
					return nil, nil, errors.Wrapf(err, "read job %s", def.ID)
				}
			} else {
				def.ID = uuid.New().String()
			}
			job := models.NewJob(def, user, sessionID, "", created.Add(time.Duration(len(missing))*time.Millisecond))
			missing = append(missing, job)
			jobs = append(jobs, job)
		}
	}
	if len(missing) > 0 {
		if err := o.records.PutJobs(ctx, missing); err != nil {
			return nil, nil, errors.Wrapf(err, "write create records for session %s", sessionID)
		}
	}
	return jobs, resubmit, nil
}

func (o *Orchestrator) publishSubmit(ctx context.Context, job *models.Job) error {
	msg, err := notify.NewJSONMessage(job, models.Attributes{
		Event:       "job.submit",
		Username:    job.User,
		Application: job.Application,
	})
	if err != nil {
		return err
	}
	if err := o.bus.Publish(ctx, notify.TopicJob, msg); err != nil {
		return errors.Wrapf(err, "publish submit of job %s", job.ID)
	}
	return nil
}

func (o *Orchestrator) announceStart(ctx context.Context, user, sessionID string) error {
	msg, err := notify.NewMessage(models.Notification{
		Resource:  models.ResourceSession,
		Status:    string(models.SessionStart),
		SessionID: sessionID,
	}, models.Attributes{
		Event:    fmt.Sprintf("session.start.%s", sessionID),
		Username: user,
	})
	if err != nil {
		return err
	}
	if err := o.bus.Publish(ctx, notify.TopicJob, msg); err != nil {
		return errors.Wrapf(err, "announce start of session %s", sessionID)
	}
	return nil
}

// Stop pauses every submitted job of the session
func (o *Orchestrator) Stop(ctx context.Context, user, sessionID string) (*Result, error) {
	jobs, err := o.records.QuerySessionJobs(ctx, sessionID, models.JobStateSubmit)
	if err != nil {
		return nil, errors.Wrapf(err, "query submitted jobs of session %s", sessionID)
	}
	stopped, err := o.bulk(ctx, jobs, func(job *models.Job) lifecycle.StatusRequest {
		return lifecycle.StatusRequest{
			JobID:     job.ID,
			Status:    models.JobStateStop,
			SessionID: sessionID,
			User:      user,
			Timestamp: o.now(),
		}
	})
	result := &Result{Session: sessionID, Jobs: ids(stopped)}
	if err != nil {
		return result, err
	}
	log.WithFields(log.Fields{"session": sessionID, "stopped": len(stopped)}).Info("Session stopped")
	return result, nil
}

// Terminate moves every active job of the session to terminate and discards staged definitions
func (o *Orchestrator) Terminate(ctx context.Context, user, sessionID string) (*Result, error) {
	jobs, err := o.records.QuerySessionJobs(ctx, sessionID, models.ActiveJobStates...)
	if err != nil {
		return nil, errors.Wrapf(err, "query active jobs of session %s", sessionID)
	}
	terminated, err := o.bulk(ctx, jobs, func(job *models.Job) lifecycle.StatusRequest {
		return lifecycle.StatusRequest{
			JobID:     job.ID,
			Status:    models.JobStateTerminate,
			SessionID: sessionID,
			User:      user,
			Message:   TerminateMessage,
			Timestamp: o.now(),
		}
	})
	result := &Result{Session: sessionID, Jobs: ids(terminated)}
	if err != nil {
		return result, err
	}

	listing, err := o.objects.List(ctx, storage.StagedPrefix(user, sessionID))
	if err != nil {
		return result, errors.Wrapf(err, "list staged definitions of session %s", sessionID)
	}
	if len(listing) > 0 {
		keys := make([]string, len(listing))
		for i, obj := range listing {
			keys[i] = obj.Key
		}
		if err := o.objects.Delete(ctx, keys...); err != nil {
			return result, errors.Wrapf(err, "remove staged definitions of session %s", sessionID)
		}
	}

	log.WithFields(log.Fields{"session": sessionID, "terminated": len(terminated), "staged": len(listing)}).
		Info("Session terminated")
	return result, nil
}

// Jobs returns every job record of the session
func (o *Orchestrator) Jobs(ctx context.Context, sessionID string) ([]*models.Job, error) {
	jobs, err := o.records.QuerySessionJobs(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrapf(err, "query jobs of session %s", sessionID)
	}
	return jobs, nil
}

// Summary counts the session's jobs per state
func (o *Orchestrator) Summary(ctx context.Context, sessionID string) (map[models.JobState]int, error) {
	jobs, err := o.Jobs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	counts := make(map[models.JobState]int)
	for _, job := range jobs {
		counts[job.State]++
	}
	return counts, nil
}

// bulk applies one conditional transition per job. Rejected writes are
// settled; the first hard error is returned once every write has finished.
func (o *Orchestrator) bulk(
	ctx context.Context,
	jobs []*models.Job,
	request func(*models.Job) lifecycle.StatusRequest,
) ([]*models.Job, error) {
	var (
		mu      sync.Mutex
		applied = make([]bool, len(jobs))
		g       errgroup.Group
	)
	g.SetLimit(o.opts.BulkConcurrency)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			req := request(job)
			outcome, err := o.engine.ApplyStatus(ctx, req)
			if err != nil {
				return errors.Wrapf(err, "transition job %s", job.ID)
			}
			if outcome == lifecycle.OutcomeApplied {
				o.mirror(ctx, req)
				mu.Lock()
				applied[i] = true
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()

	var transitioned []*models.Job
	for i, job := range jobs {
		if applied[i] {
			transitioned = append(transitioned, job)
		}
	}
	return transitioned, err
}

// mirror copies an applied bulk transition to the log topic
func (o *Orchestrator) mirror(ctx context.Context, req lifecycle.StatusRequest) {
	o.engine.Mirror(ctx, lifecycle.Delivery{
		Notification: models.Notification{
			Resource:  models.ResourceJob,
			Event:     models.EventStatus,
			Status:    string(req.Status),
			JobID:     req.JobID,
			SessionID: req.SessionID,
			Message:   req.Message,
		},
		Timestamp:  req.Timestamp,
		Attributes: models.Attributes{Username: req.User},
	})
}

func ids(jobs []*models.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.ID)
	}
	return out
}
