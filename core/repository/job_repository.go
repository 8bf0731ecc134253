package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"foqus-orchestrator/core/models"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// JobRepository is the Postgres RecordStore
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, session_id, user_name, application, simulation, initialize, reset,
	input, output, state, create_ms, stamps, consumer_id, instance, message, ttl`

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM foqus_jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get job %s", id)
	}
	return job, nil
}

// PutJobs inserts or replaces job records in one transaction
func (r *JobRepository) PutJobs(ctx context.Context, jobs []*models.Job) error {
	query := `
		INSERT INTO foqus_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			session_id = EXCLUDED.session_id, user_name = EXCLUDED.user_name,
			application = EXCLUDED.application, simulation = EXCLUDED.simulation,
			initialize = EXCLUDED.initialize, reset = EXCLUDED.reset, input = EXCLUDED.input,
			output = EXCLUDED.output, state = EXCLUDED.state, create_ms = EXCLUDED.create_ms,
			stamps = EXCLUDED.stamps, consumer_id = EXCLUDED.consumer_id,
			instance = EXCLUDED.instance, message = EXCLUDED.message, ttl = EXCLUDED.ttl
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	for _, job := range jobs {
		input, err := marshalNullable(job.Input)
		if err != nil {
			return errors.Wrapf(err, "encode input of job %s", job.ID)
		}
		stamps, err := json.Marshal(stampsOf(job))
		if err != nil {
			return errors.Wrapf(err, "encode stamps of job %s", job.ID)
		}
		var output sql.NullString
		if job.Output != "" {
			output = sql.NullString{String: job.Output, Valid: true}
		}
		_, err = tx.ExecContext(ctx, query,
			job.ID,
			job.SessionID,
			job.User,
			job.Application,
			job.Simulation,
			job.Initialize,
			job.Reset,
			input,
			output,
			job.State,
			job.Create,
			string(stamps),
			job.ConsumerID,
			job.Instance,
			job.Message,
			job.TTL,
		)
		if err != nil {
			return errors.Wrapf(err, "put job %s", job.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// UpdateJob applies a conditional update; zero-valued fields leave columns unchanged
func (r *JobRepository) UpdateJob(ctx context.Context, id string, update JobUpdate) error {
	query := `
		UPDATE foqus_jobs SET
			state       = COALESCE(NULLIF($2, ''), state),
			stamps      = stamps || $3::jsonb,
			consumer_id = COALESCE(NULLIF($4, ''), consumer_id),
			instance    = COALESCE(NULLIF($5, ''), instance),
			output      = COALESCE($6, output),
			message     = COALESCE(NULLIF($7, ''), message),
			ttl         = CASE WHEN $8::bigint = 0 THEN ttl ELSE $8::bigint END
		WHERE id = $1
			AND (cardinality($9::text[]) = 0 OR state = ANY($9::text[]))
			AND NOT (state = ANY($10::text[]))
			AND (NOT $11::boolean OR output IS NULL)
	`

	stamps := update.Stamps
	if stamps == nil {
		stamps = map[string]string{}
	}
	stampJSON, err := json.Marshal(stamps)
	if err != nil {
		return errors.Wrap(err, "encode stamps")
	}
	var output sql.NullString
	if update.Output != nil {
		output = sql.NullString{String: *update.Output, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query,
		id,
		string(update.State),
		string(stampJSON),
		update.ConsumerID,
		update.Instance,
		output,
		update.Message,
		update.TTL,
		pq.Array(stateStrings(update.Condition.StateIn)),
		pq.Array(stateStrings(update.Condition.StateNotIn)),
		update.Condition.OutputAbsent,
	)
	if err != nil {
		return errors.Wrapf(err, "update job %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "update job %s", id)
	}
	if affected == 0 {
		return ErrConditionFailed
	}
	return nil
}

// QuerySessionJobs lists the jobs of a session with an optional state filter
func (r *JobRepository) QuerySessionJobs(ctx context.Context, sessionID string, states ...models.JobState) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM foqus_jobs
		WHERE session_id = $1 AND (cardinality($2::text[]) = 0 OR state = ANY($2::text[]))
		ORDER BY create_ms, id`

	rows, err := r.db.QueryContext(ctx, query, sessionID, pq.Array(stateStrings(states)))
	if err != nil {
		return nil, errors.Wrapf(err, "query session %s", sessionID)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "scan session %s", sessionID)
		}
		jobs = append(jobs, job)
	}
	return jobs, errors.Wrap(rows.Err(), "iterate session jobs")
}

// GetConsumer retrieves a consumer by ID
func (r *JobRepository) GetConsumer(ctx context.Context, id string) (*models.Consumer, error) {
	query := `SELECT id, instance, user_name, job_id, session_id, state, events, ttl
		FROM foqus_consumers WHERE id = $1`

	var consumer models.Consumer
	var events []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&consumer.ID,
		&consumer.Instance,
		&consumer.User,
		&consumer.Job,
		&consumer.Session,
		&consumer.State,
		&events,
		&consumer.TTL,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get consumer %s", id)
	}
	consumer.Type = models.TypeConsumer
	if err := json.Unmarshal(events, &consumer.Events); err != nil {
		return nil, errors.Wrapf(err, "decode events of consumer %s", id)
	}
	return &consumer, nil
}

// UpdateConsumer upserts the consumer; last write wins
func (r *JobRepository) UpdateConsumer(ctx context.Context, id string, update ConsumerUpdate) error {
	query := `
		INSERT INTO foqus_consumers (id, instance, user_name, job_id, session_id, state, events, ttl)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		ON CONFLICT (id) DO UPDATE SET
			instance   = COALESCE(NULLIF(EXCLUDED.instance, ''), foqus_consumers.instance),
			user_name  = COALESCE(NULLIF(EXCLUDED.user_name, ''), foqus_consumers.user_name),
			job_id     = COALESCE(NULLIF(EXCLUDED.job_id, ''), foqus_consumers.job_id),
			session_id = COALESCE(NULLIF(EXCLUDED.session_id, ''), foqus_consumers.session_id),
			state      = COALESCE(NULLIF(EXCLUDED.state, ''), foqus_consumers.state),
			events     = foqus_consumers.events || EXCLUDED.events,
			ttl        = CASE WHEN EXCLUDED.ttl = 0 THEN foqus_consumers.ttl ELSE EXCLUDED.ttl END
	`

	events := map[string]string{}
	if update.Event != "" {
		events[update.Event] = update.Stamp
	}
	eventJSON, err := json.Marshal(events)
	if err != nil {
		return errors.Wrap(err, "encode consumer events")
	}

	_, err = r.db.ExecContext(ctx, query,
		id,
		update.Instance,
		update.User,
		update.Job,
		update.Session,
		string(update.State),
		string(eventJSON),
		update.TTL,
	)
	return errors.Wrapf(err, "update consumer %s", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var input []byte
	var output sql.NullString
	var stamps []byte

	err := row.Scan(
		&job.ID,
		&job.SessionID,
		&job.User,
		&job.Application,
		&job.Simulation,
		&job.Initialize,
		&job.Reset,
		&input,
		&output,
		&job.State,
		&job.Create,
		&stamps,
		&job.ConsumerID,
		&job.Instance,
		&job.Message,
		&job.TTL,
	)
	if err != nil {
		return nil, err
	}

	job.Type = models.TypeJob
	if output.Valid {
		job.Output = output.String
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &job.Input); err != nil {
			return nil, errors.Wrap(err, "decode input")
		}
	}
	var stampMap map[string]string
	if err := json.Unmarshal(stamps, &stampMap); err != nil {
		return nil, errors.Wrap(err, "decode stamps")
	}
	for name, ts := range stampMap {
		if name == FinishedAttribute {
			job.Finished = ts
			continue
		}
		job.SetStamp(models.JobState(name), ts)
	}
	return &job, nil
}

func stampsOf(job *models.Job) map[string]string {
	stamps := make(map[string]string)
	for _, state := range models.AllJobStates {
		if ts := job.Stamp(state); ts != "" {
			stamps[string(state)] = ts
		}
	}
	if job.Finished != "" {
		stamps[FinishedAttribute] = job.Finished
	}
	return stamps
}

func stateStrings(states []models.JobState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// marshalNullable encodes v as text so lib/pq does not send it as bytea
func marshalNullable(v map[string]interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
