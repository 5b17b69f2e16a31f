package rebuild

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/execution"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/lifecycle"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/merge"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/timestamp"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/tracing"
)

// RefreshRequest describes a live refresh of ongoing rows
type RefreshRequest struct {
	Role models.Role
	// ParticipantID scopes the refresh; required for participants, optional for operators
	ParticipantID string
	MaxPages      int
}

// refreshTarget is one ongoing event and the participants to look up in it
type refreshTarget struct {
	eventID      string
	participants []string
}

type refreshOutcome struct {
	records  []models.Record
	missing  int
	verified bool
}

// RefreshOngoing re-reads rank, score, level and name for every visible row
// whose event has not ended yet. Rows are never added or pruned. A row whose
// participant cannot be found in the live roster counts as failed.
func (e *Engine) RefreshOngoing(ctx context.Context, req RefreshRequest) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.RefreshOngoing")
	defer span.End()

	switch req.Role {
	case models.RoleOperator:
	case models.RoleParticipant:
		if req.ParticipantID == "" {
			return nil, fmt.Errorf("%w: participant id is required", ErrInvalidRequest)
		}
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, req.Role)
	}

	release, err := e.guard.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	started := e.now()
	existing, existed, err := e.readSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:         uuid.New().String(),
		Kind:          models.RunKindRefresh,
		Role:          req.Role,
		ParticipantID: req.ParticipantID,
		StartedAt:     started,
		Unreachable:   []string{},
	}
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": result.RunID,
		"role":   req.Role,
	})

	targets := ongoingTargets(existing, req.ParticipantID, started)
	log.Infof("Refreshing %d ongoing events", len(targets))

	run := e.startRun(ctx, result, false)

	outcomes := execution.Map(ctx, e.pool, targets, func(ctx context.Context, target refreshTarget) (refreshOutcome, error) {
		return e.refreshEvent(ctx, target, req.MaxPages)
	})
	if err := ctx.Err(); err != nil {
		log.WithError(err).Warn("Refresh aborted before publish")
		e.failRun(ctx, run, result, err)
		return nil, err
	}

	incoming := make([]models.Record, 0)
	failed := 0
	for i, outcome := range outcomes {
		target := targets[i]
		if outcome.Err != nil {
			failed += len(target.participants)
			result.Unreachable = append(result.Unreachable, target.eventID)
			continue
		}
		incoming = append(incoming, outcome.Value.records...)
		failed += outcome.Value.missing
		if !outcome.Value.verified && outcome.Value.missing > 0 {
			result.Unreachable = append(result.Unreachable, target.eventID)
		}
	}

	// no scanned ids: a refresh never prunes
	merged := merge.Merge(existing, incoming, nil, nil)
	result.Counts = models.Counts{
		Updated: merged.Counts.Updated,
		Failed:  failed,
	}
	result.Records = merged.Records
	result.Rows = len(merged.Records)

	if err := ctx.Err(); err != nil {
		e.failRun(ctx, run, result, err)
		return nil, err
	}

	e.publish(context.WithoutCancel(ctx), result, existed)
	e.finish(ctx, run, result)

	log.WithFields(map[string]any{
		"updated": result.Counts.Updated,
		"failed":  result.Counts.Failed,
		"status":  result.Status,
	}).Info("Refresh finished")
	return result, nil
}

func (e *Engine) refreshEvent(ctx context.Context, target refreshTarget, maxPages int) (refreshOutcome, error) {
	if maxPages <= 0 {
		maxPages = e.config.MaxPages
	}

	roster, err := e.upstream.FetchRoster(ctx, target.eventID, models.NewParticipantFilter(target.participants...), maxPages)
	if err != nil {
		return refreshOutcome{}, err
	}

	found := make(map[string]struct{}, len(roster.Entries))
	outcome := refreshOutcome{verified: roster.Verified}
	for _, entry := range roster.Entries {
		if _, dup := found[entry.ParticipantID]; dup {
			continue
		}
		found[entry.ParticipantID] = struct{}{}
		outcome.records = append(outcome.records, models.Record{
			EventID:         target.eventID,
			ParticipantID:   entry.ParticipantID,
			ParticipantName: entry.ParticipantName,
			Rank:            entry.Rank,
			Score:           orZero(entry.Score),
			Level:           entry.Level,
		})
	}
	outcome.missing = len(target.participants) - len(found)
	return outcome, nil
}

// ongoingTargets groups the rows visible to participantID (all rows when
// empty) whose event ends strictly after now, ordered by event id
func ongoingTargets(records []models.Record, participantID string, now time.Time) []refreshTarget {
	byEvent := make(map[string][]string)
	seen := make(map[models.Key]struct{})
	for _, rec := range records {
		if participantID != "" && rec.ParticipantID != participantID {
			continue
		}
		if !lifecycle.IsActive(timestamp.Normalize(rec.End).Epoch, now) {
			continue
		}
		if _, ok := seen[rec.Key()]; ok {
			continue
		}
		seen[rec.Key()] = struct{}{}
		byEvent[rec.EventID] = append(byEvent[rec.EventID], rec.ParticipantID)
	}

	targets := make([]refreshTarget, 0, len(byEvent))
	for eventID, participants := range byEvent {
		targets = append(targets, refreshTarget{eventID: eventID, participants: participants})
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].eventID < targets[j].eventID
	})
	return targets
}
