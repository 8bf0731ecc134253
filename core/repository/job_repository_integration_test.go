//go:build integration

package repository

import (
	"context"
	"os"
	"testing"

	"foqus-orchestrator/core/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: FOQUS_TEST_DATABASE_URL=postgres://... go test -tags integration ./core/repository/
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("FOQUS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FOQUS_TEST_DATABASE_URL not set")
	}
	db, err := NewDB(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJobRepositoryUpdateJobConditions(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(openTestDB(t))
	output := `{"y":1}`
	replacement := `{"y":2}`

	tests := map[string]struct {
		state     models.JobState
		output    string
		missing   bool
		update    JobUpdate
		wantErr   error
		wantState models.JobState
	}{
		"state in matches": {
			state:     models.JobStateCreate,
			update:    JobUpdate{State: models.JobStateSubmit, Condition: Condition{StateIn: []models.JobState{models.JobStateCreate, models.JobStateStop}}},
			wantState: models.JobStateSubmit,
		},
		"state in refuses": {
			state:     models.JobStateRunning,
			update:    JobUpdate{State: models.JobStateStop, Condition: Condition{StateIn: []models.JobState{models.JobStateSubmit}}},
			wantErr:   ErrConditionFailed,
			wantState: models.JobStateRunning,
		},
		"state not in matches": {
			state:     models.JobStateRunning,
			update:    JobUpdate{State: models.JobStateSuccess, Condition: Condition{StateNotIn: models.RecordTerminalStates}},
			wantState: models.JobStateSuccess,
		},
		"state not in refuses terminal": {
			state:     models.JobStateSuccess,
			update:    JobUpdate{State: models.JobStateError, Condition: Condition{StateNotIn: models.RecordTerminalStates}},
			wantErr:   ErrConditionFailed,
			wantState: models.JobStateSuccess,
		},
		"no condition always applies": {
			state:     models.JobStateSuccess,
			update:    JobUpdate{State: models.JobStateRunning},
			wantState: models.JobStateRunning,
		},
		"output absent applies once": {
			state:     models.JobStateRunning,
			update:    JobUpdate{Output: &output, Condition: Condition{OutputAbsent: true}},
			wantState: models.JobStateRunning,
		},
		"output absent refuses second output": {
			state:     models.JobStateRunning,
			output:    output,
			update:    JobUpdate{Output: &replacement, Condition: Condition{OutputAbsent: true}},
			wantErr:   ErrConditionFailed,
			wantState: models.JobStateRunning,
		},
		"missing row": {
			missing: true,
			update:  JobUpdate{State: models.JobStateRunning, Condition: Condition{StateNotIn: models.RecordTerminalStates}},
			wantErr: ErrConditionFailed,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			id := uuid.New().String()
			job := &models.Job{ID: id, SessionID: "sess-" + id, User: "alice", State: tc.state, Output: tc.output}
			memory := NewMemoryStore()
			if !tc.missing {
				require.NoError(t, repo.PutJobs(ctx, []*models.Job{job}))
				t.Cleanup(func() {
					repo.db.ExecContext(ctx, `DELETE FROM foqus_jobs WHERE id = $1`, id)
				})
				copied := *job
				require.NoError(t, memory.PutJobs(ctx, []*models.Job{&copied}))
			}

			err := repo.UpdateJob(ctx, id, tc.update)
			memErr := memory.UpdateJob(ctx, id, tc.update)
			if tc.wantErr != nil {
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
				assert.True(t, errors.Is(memErr, tc.wantErr), "memory store got %v", memErr)
			} else {
				require.NoError(t, err)
				require.NoError(t, memErr)
			}
			if tc.missing {
				return
			}

			got, err := repo.GetJob(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tc.wantState, got.State)
			want, err := memory.GetJob(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want.Output, got.Output)
		})
	}
}
