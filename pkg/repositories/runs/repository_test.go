package runs

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
)

type fakeResult struct{ affected int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

type fakeDB struct {
	queries  []string
	args     [][]any
	affected int64
	execErr  error
	getErr   error
}

func (f *fakeDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	if f.execErr != nil {
		return nil, f.execErr
	}
	return fakeResult{affected: f.affected}, nil
}

func (f *fakeDB) GetContext(_ context.Context, _ any, query string, args ...any) error {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return f.getErr
}

func (f *fakeDB) SelectContext(_ context.Context, _ any, query string, args ...any) error {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return nil
}

func (f *fakeDB) QueryRowxContext(_ context.Context, _ string, _ ...any) *sqlx.Row { return nil }
func (f *fakeDB) PingContext(_ context.Context) error                            { return nil }
func (f *fakeDB) Close() error                                                  { return nil }

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestCreate_AssignsIDAndStart(t *testing.T) {
	db := &fakeDB{affected: 1}
	repo := New(db, testLogger())

	run := &models.RebuildRun{Kind: models.RunKindRebuild, Role: models.RoleOperator, Status: models.RunStatusRunning}
	require.NoError(t, repo.Create(context.Background(), run))

	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.False(t, run.StartedAt.IsZero())
	assert.NotNil(t, run.UnreachableIDs.Data)
	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], "INSERT INTO rebuild_runs")
	assert.Equal(t, run.ID, db.args[0][0])
}

func TestCreate_DatabaseError(t *testing.T) {
	repo := New(&fakeDB{execErr: errors.New("connection refused")}, testLogger())

	err := repo.Create(context.Background(), &models.RebuildRun{})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(err))
}

func TestComplete(t *testing.T) {
	db := &fakeDB{affected: 1}
	repo := New(db, testLogger())

	run := &models.RebuildRun{ID: uuid.New(), Status: models.RunStatusPublished}
	run.SetCounts(models.Counts{Updated: 2, Added: 1})
	require.NoError(t, repo.Complete(context.Background(), run))

	assert.NotNil(t, run.CompletedAt)
	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], "UPDATE rebuild_runs SET")
	assert.Contains(t, db.queries[0], "WHERE id = ")
}

func TestComplete_MissingRun(t *testing.T) {
	repo := New(&fakeDB{affected: 0}, testLogger())

	err := repo.Complete(context.Background(), &models.RebuildRun{ID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestGetByID_NotFound(t *testing.T) {
	repo := New(&fakeDB{getErr: sql.ErrNoRows}, testLogger())

	_, err := repo.GetByID(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestListQuery(t *testing.T) {
	query, args := listQuery(ListFilter{ParticipantID: "7", Kind: models.RunKindRefresh, Limit: 10})

	assert.Contains(t, query, "FROM rebuild_runs")
	assert.Contains(t, query, "participant_id = $1")
	assert.Contains(t, query, "kind = $2")
	assert.Contains(t, query, "ORDER BY started_at DESC")
	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, "7", args[0])
	assert.Equal(t, models.RunKindRefresh, args[1])
}

func TestListQuery_NoFilter(t *testing.T) {
	query, _ := listQuery(ListFilter{})

	assert.NotContains(t, query, "WHERE")
	assert.Contains(t, query, "LIMIT")
}
