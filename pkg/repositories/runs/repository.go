// Package runs persists the history of rebuilds and refreshes.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/database"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/metrics"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/tracing"
)

const runsTable = "rebuild_runs"

// DefaultListLimit bounds List when no limit is given
const DefaultListLimit = 50

var runStruct = database.NewStruct(new(models.RebuildRun))

// Repository handles database operations for rebuild runs
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// New creates a run repository
func New(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Create inserts a new run, assigning an id when missing
func (r *Repository) Create(ctx context.Context, run *models.RebuildRun) error {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.Create")
	defer span.End()
	defer observe("create", time.Now())

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.UnreachableIDs.Data == nil {
		run.UnreachableIDs.Data = []string{}
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(runsTable).
		Cols("id", "kind", "role", "participant_id", "start_id", "end_id", "full_history",
			"status", "updated", "added", "deleted", "unreachable", "failed", "unreachable_ids",
			"error_message", "started_at", "completed_at").
		Values(run.ID, run.Kind, run.Role, run.ParticipantID, run.StartID, run.EndID, run.FullHistory,
			run.Status, run.Updated, run.Added, run.Deleted, run.Unreachable, run.Failed, run.UnreachableIDs,
			run.ErrorMessage, run.StartedAt, run.CompletedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": run.ID,
		}).Error("failed to create run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": run.ID,
	}).Debugf("Created %s", runsTable)
	return nil
}

// Complete records the terminal state of a run
func (r *Repository) Complete(ctx context.Context, run *models.RebuildRun) error {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.Complete")
	defer span.End()
	defer observe("complete", time.Now())

	if run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	if run.UnreachableIDs.Data == nil {
		run.UnreachableIDs.Data = []string{}
	}

	ub := database.NewUpdateBuilder()
	ub.Update(runsTable).
		Set(
			ub.Assign("status", run.Status),
			ub.Assign("updated", run.Updated),
			ub.Assign("added", run.Added),
			ub.Assign("deleted", run.Deleted),
			ub.Assign("unreachable", run.Unreachable),
			ub.Assign("failed", run.Failed),
			ub.Assign("unreachable_ids", run.UnreachableIDs),
			ub.Assign("error_message", run.ErrorMessage),
			ub.Assign("completed_at", run.CompletedAt),
		).
		Where(ub.Equal("id", run.ID))

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": run.ID,
		}).Error("failed to complete run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete run")
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "run %s does not exist", run.ID)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": run.ID,
		"status": run.Status,
	}).Debugf("Completed %s", runsTable)
	return nil
}

// GetByID retrieves one run
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.RebuildRun, error) {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.GetByID")
	defer span.End()
	defer observe("get", time.Now())

	sb := runStruct.SelectFrom(runsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var run models.RebuildRun
	err := r.db.GetContext(ctx, &run, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "run %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": id,
		}).Error("failed to get run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get run")
	}

	return &run, nil
}

// ListFilter narrows List
type ListFilter struct {
	ParticipantID string
	Kind          models.RunKind
	Limit         int
}

// List returns the most recent runs first
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.RebuildRun, error) {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.List")
	defer span.End()
	defer observe("list", time.Now())

	query, args := listQuery(filter)
	runs := make([]models.RebuildRun, 0)
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}

	r.logger.WithContext(ctx).Debugf("Listed %d %s", len(runs), runsTable)
	return runs, nil
}

func listQuery(filter ListFilter) (string, []any) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = DefaultListLimit
	}

	sb := runStruct.SelectFrom(runsTable)
	if filter.ParticipantID != "" {
		sb.Where(sb.Equal("participant_id", filter.ParticipantID))
	}
	if filter.Kind != "" {
		sb.Where(sb.Equal("kind", filter.Kind))
	}
	sb.OrderBy("started_at").Desc()
	sb.Limit(limit)

	return sb.Build()
}

func observe(operation string, start time.Time) {
	metrics.DatabaseQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
