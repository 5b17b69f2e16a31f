// Package rebuild runs scans against the upstream API and reconciles the
// results into the persisted snapshot.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/discovery"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/execution"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/kafka"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/merge"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/metrics"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/redis"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/showroom"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/snapshot"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/tracing"
)

var (
	ErrRebuildInProgress   = errors.New("a rebuild is already in progress")
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")
	ErrInvalidRequest      = errors.New("invalid rebuild request")
	ErrForbidden           = errors.New("role may not perform this operation")
)

// DefaultDetailCandidates bounds how many participants are asked for an event's detail
const DefaultDetailCandidates = 5

// Upstream is the part of the SHOWROOM client the engine depends on
type Upstream interface {
	FetchRoster(ctx context.Context, eventID string, filter models.ParticipantFilter, maxPages int) (showroom.RosterResult, error)
	ResolveEventDetail(ctx context.Context, eventID string, candidates []string) (showroom.EventDetail, bool)
	LookupProfile(ctx context.Context, participantID string) (string, error)
}

// RunRecorder persists run history
type RunRecorder interface {
	Create(ctx context.Context, run *models.RebuildRun) error
	Complete(ctx context.Context, run *models.RebuildRun) error
}

// ResultCache shares the last finished run across restarts and replicas
type ResultCache interface {
	SetJSON(ctx context.Context, key string, v any, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, v any) error
}

const (
	lastResultKey = "sr-event:last-result"
	lastResultTTL = 7 * 24 * time.Hour
)

// EventPublisher announces finished runs
type EventPublisher interface {
	PublishSnapshotEvent(ctx context.Context, msg *kafka.SnapshotEventMessage) error
}

// Config tunes the engine
type Config struct {
	// Window is the number of new event ids an incremental rebuild probes
	Window int64
	// HistoryFloor is where a full-history scan starts
	HistoryFloor int64
	// MaxSpan caps the size of any one scan range
	MaxSpan int64
	// MaxPages caps roster pagination per event; zero uses the client default
	MaxPages int
	// DetailCandidates bounds the participants asked for event detail
	DetailCandidates int
	// FallbackDir receives a local CSV copy when publishing fails
	FallbackDir string
	// Bootstrap treats a missing snapshot as empty instead of failing
	Bootstrap bool
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Window:           discovery.DefaultWindow,
		HistoryFloor:     discovery.DefaultHistoryFloor,
		MaxSpan:          discovery.DefaultMaxSpan,
		DetailCandidates: DefaultDetailCandidates,
	}
}

// Request describes one rebuild
type Request struct {
	Role models.Role
	// ParticipantID is the caller's own id; required for participants
	ParticipantID string
	// ParticipantIDs optionally narrows an operator rebuild
	ParticipantIDs []string
	// StartID and EndID select an explicit range; both zero means discover
	StartID int64
	EndID   int64
	// FullHistory scans from the history floor. Participants may only use it
	// while they have no records yet.
	FullHistory bool
	MaxPages    int
}

// Result is the outcome of a rebuild or refresh
type Result struct {
	RunID         string           `json:"run_id"`
	Kind          models.RunKind   `json:"kind"`
	Role          models.Role      `json:"role"`
	ParticipantID string           `json:"participant_id,omitempty"`
	Range         discovery.Range  `json:"range"`
	Status        models.RunStatus `json:"status"`
	Counts        models.Counts    `json:"counts"`
	Unreachable   []string         `json:"unreachable_event_ids"`
	Rows          int              `json:"rows"`
	Published     bool             `json:"published"`
	FallbackPath  string           `json:"fallback_path,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   time.Time        `json:"completed_at"`

	// PublishError is set when the merged records could not be written
	PublishError error `json:"-"`
	// Restored marks a result loaded from the cache; its records are not retained
	Restored bool `json:"restored,omitempty"`
	// Records is the merged snapshot, retained even when publishing failed
	Records []models.Record `json:"-"`
}

// CSV encodes the merged records in snapshot format
func (r *Result) CSV() ([]byte, error) {
	return snapshot.EncodeBytes(r.Records)
}

// Option configures an Engine
type Option func(*Engine)

// WithRunRecorder persists every run
func WithRunRecorder(runs RunRecorder) Option {
	return func(e *Engine) { e.runs = runs }
}

// WithEventPublisher announces every finished run
func WithEventPublisher(events EventPublisher) Option {
	return func(e *Engine) { e.events = events }
}

// WithResultCache keeps the last result in a shared cache
func WithResultCache(cache ResultCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithClock overrides the engine's notion of now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine rebuilds and refreshes the snapshot. One operation runs at a time.
type Engine struct {
	upstream Upstream
	store    snapshot.Store
	pool     *execution.Pool
	guard    *Guard
	runs     RunRecorder
	events   EventPublisher
	cache    ResultCache
	config   Config
	logger   ectologger.Logger
	now      func() time.Time

	mu   sync.RWMutex
	last *Result
}

// NewEngine creates an engine
func NewEngine(
	upstream Upstream,
	store snapshot.Store,
	pool *execution.Pool,
	guard *Guard,
	cfg Config,
	logger ectologger.Logger,
	opts ...Option,
) *Engine {
	defaults := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.HistoryFloor <= 0 {
		cfg.HistoryFloor = defaults.HistoryFloor
	}
	if cfg.MaxSpan <= 0 {
		cfg.MaxSpan = defaults.MaxSpan
	}
	if cfg.DetailCandidates <= 0 {
		cfg.DetailCandidates = defaults.DetailCandidates
	}
	if guard == nil {
		guard = NewGuard(nil, 0, logger)
	}

	e := &Engine{
		upstream: upstream,
		store:    store,
		pool:     pool,
		guard:    guard,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LastResult returns the most recent finished run, or nil
func (e *Engine) LastResult() *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// PlanRange reports which range a rebuild with req would scan, without scanning
func (e *Engine) PlanRange(ctx context.Context, req Request) (discovery.Range, error) {
	existing, _, err := e.readSnapshot(ctx)
	if err != nil {
		return discovery.Range{}, err
	}
	rng, _, err := e.scope(req, existing)
	return rng, err
}

// Rebuild scans a range of event ids and merges what it finds into the
// snapshot. Only verified event ids are eligible for pruning. A cancelled
// context aborts the scan before anything is published.
func (e *Engine) Rebuild(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.Rebuild")
	defer span.End()

	release, err := e.guard.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	started := e.now()
	existing, existed, err := e.readSnapshot(ctx)
	if err != nil {
		metrics.RecordRebuild(string(models.RunKindRebuild), string(models.RunStatusFailed), time.Since(started).Seconds())
		return nil, err
	}

	rng, filter, err := e.scope(req, existing)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:         uuid.New().String(),
		Kind:          models.RunKindRebuild,
		Role:          req.Role,
		ParticipantID: req.ParticipantID,
		Range:         rng,
		StartedAt:     started,
	}
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": result.RunID,
		"range":  rng.String(),
		"role":   req.Role,
	})
	log.Infof("Starting rebuild of %d event ids", rng.Len())

	run := e.startRun(ctx, result, req.FullHistory)

	session, err := e.scan(ctx, rng, filter, existing, req.MaxPages)
	if err != nil {
		log.WithError(err).Warn("Rebuild aborted before publish")
		e.failRun(ctx, run, result, err)
		return nil, err
	}

	merged := merge.Merge(existing, session.Records, session.Verified, filter)
	result.Counts = merged.Counts
	result.Counts.Unreachable = len(session.Unreachable)
	result.Unreachable = session.Unreachable
	if result.Unreachable == nil {
		result.Unreachable = []string{}
	}
	result.Records = merged.Records
	result.Rows = len(merged.Records)

	if err := ctx.Err(); err != nil {
		log.WithError(err).Warn("Rebuild cancelled before publish")
		e.failRun(ctx, run, result, err)
		return nil, err
	}

	e.publish(context.WithoutCancel(ctx), result, existed)
	e.finish(ctx, run, result)

	log.WithFields(map[string]any{
		"updated":     result.Counts.Updated,
		"added":       result.Counts.Added,
		"deleted":     result.Counts.Deleted,
		"unreachable": result.Counts.Unreachable,
		"status":      result.Status,
	}).Info("Rebuild finished")
	return result, nil
}

// readSnapshot loads the current snapshot. existed is false when a missing
// snapshot was accepted under Bootstrap.
func (e *Engine) readSnapshot(ctx context.Context) (records []models.Record, existed bool, err error) {
	records, err = e.store.Read(ctx)
	if err == nil {
		if records == nil {
			records = make([]models.Record, 0)
		}
		return records, true, nil
	}
	if errors.Is(err, snapshot.ErrNotFound) && e.config.Bootstrap {
		e.logger.WithContext(ctx).Warnf("No snapshot in %s store, starting from empty", e.store.Name())
		return make([]models.Record, 0), false, nil
	}
	e.logger.WithContext(ctx).WithError(err).Errorf("Failed to read snapshot from %s store", e.store.Name())
	return nil, false, fmt.Errorf("%w: %w", ErrSnapshotUnavailable, err)
}

// scope resolves the participant filter and the range for req
func (e *Engine) scope(req Request, existing []models.Record) (discovery.Range, models.ParticipantFilter, error) {
	var filter models.ParticipantFilter

	switch req.Role {
	case models.RoleOperator:
		filter = models.NewParticipantFilter(req.ParticipantIDs...)
	case models.RoleParticipant:
		if req.ParticipantID == "" {
			return discovery.Range{}, nil, fmt.Errorf("%w: participant id is required", ErrInvalidRequest)
		}
		for _, id := range req.ParticipantIDs {
			if id != req.ParticipantID {
				return discovery.Range{}, nil, fmt.Errorf("%w: participants may only rebuild their own rows", ErrForbidden)
			}
		}
		filter = models.NewParticipantFilter(req.ParticipantID)
		if req.FullHistory && hasParticipant(existing, req.ParticipantID) {
			return discovery.Range{}, nil, fmt.Errorf("%w: full history is only available before the first rebuild", ErrForbidden)
		}
	default:
		return discovery.Range{}, nil, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, req.Role)
	}

	currentMax, ok := discovery.MaxEventID(existing)
	if !ok {
		currentMax = e.config.HistoryFloor - 1
	}

	var rng discovery.Range
	switch {
	case req.StartID > 0 || req.EndID > 0:
		rng = discovery.Range{StartID: req.StartID, EndID: req.EndID}
	case req.FullHistory:
		rng = discovery.FullHistoryRange(e.config.HistoryFloor, currentMax)
	default:
		rng = discovery.NextRange(currentMax, e.config.Window)
	}

	if err := rng.Validate(e.config.MaxSpan); err != nil {
		return discovery.Range{}, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return rng, filter, nil
}

func hasParticipant(records []models.Record, participantID string) bool {
	for _, rec := range records {
		if rec.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// publish writes the merged records, keeping them in memory and in the
// fallback directory when the store rejects them
func (e *Engine) publish(ctx context.Context, result *Result, hadSnapshot bool) {
	log := e.logger.WithContext(ctx).WithField("run_id", result.RunID)

	if hadSnapshot && !result.Counts.Changed() {
		result.Status = models.RunStatusUnchanged
		log.Debug("Snapshot unchanged, skipping publish")
		return
	}

	err := e.store.Write(ctx, result.Records)
	if err == nil {
		result.Published = true
		result.Status = models.RunStatusPublished
		metrics.SnapshotRows.Set(float64(len(result.Records)))
		return
	}

	result.Status = models.RunStatusPublishFailed
	result.PublishError = err
	log.WithError(err).Errorf("Failed to publish snapshot to %s store", e.store.Name())

	if e.config.FallbackDir == "" {
		return
	}
	path := fallbackPath(e.config.FallbackDir, result)
	if werr := snapshot.WriteFile(path, result.Records); werr != nil {
		log.WithError(werr).Error("Failed to write fallback snapshot")
		return
	}
	result.FallbackPath = path
	log.Warnf("Merged snapshot kept at %s", path)
}

func (e *Engine) remember(ctx context.Context, result *Result) {
	e.mu.Lock()
	e.last = result
	e.mu.Unlock()

	if e.cache == nil {
		return
	}
	if err := e.cache.SetJSON(context.WithoutCancel(ctx), lastResultKey, result, lastResultTTL); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to cache last result")
	}
}

// Restore loads the last result from the cache when this process has none.
// A cache miss is not an error.
func (e *Engine) Restore(ctx context.Context) error {
	if e.cache == nil || e.LastResult() != nil {
		return nil
	}

	var result Result
	if err := e.cache.GetJSON(ctx, lastResultKey, &result); err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to restore last result: %w", err)
	}
	result.Restored = true

	e.mu.Lock()
	if e.last == nil {
		e.last = &result
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) startRun(ctx context.Context, result *Result, fullHistory bool) *models.RebuildRun {
	run := &models.RebuildRun{
		Kind:        result.Kind,
		Role:        result.Role,
		FullHistory: fullHistory,
		Status:      models.RunStatusRunning,
		StartedAt:   result.StartedAt.UTC(),
	}
	if id, err := uuid.Parse(result.RunID); err == nil {
		run.ID = id
	}
	if result.ParticipantID != "" {
		run.ParticipantID = &result.ParticipantID
	}
	if result.Range.Len() > 0 {
		run.StartID = &result.Range.StartID
		run.EndID = &result.Range.EndID
	}

	if e.runs != nil {
		if err := e.runs.Create(ctx, run); err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("Failed to record run start")
		}
	}
	return run
}

// finish records the run, announces it and retains the result
func (e *Engine) finish(ctx context.Context, run *models.RebuildRun, result *Result) {
	result.CompletedAt = e.now()
	e.remember(ctx, result)

	metrics.RecordRebuild(string(result.Kind), string(result.Status), result.CompletedAt.Sub(result.StartedAt).Seconds())
	metrics.RecordCounts(result.Counts.Updated, result.Counts.Added, result.Counts.Deleted, result.Counts.Unreachable, result.Counts.Failed)

	run.Status = result.Status
	run.SetCounts(result.Counts)
	run.UnreachableIDs.Data = result.Unreachable
	if result.PublishError != nil {
		msg := result.PublishError.Error()
		run.ErrorMessage = &msg
	}
	e.completeRun(ctx, run)
	e.announce(ctx, result)
}

func (e *Engine) failRun(ctx context.Context, run *models.RebuildRun, result *Result, cause error) {
	metrics.RecordRebuild(string(result.Kind), string(models.RunStatusFailed), e.now().Sub(result.StartedAt).Seconds())

	run.Status = models.RunStatusFailed
	msg := cause.Error()
	run.ErrorMessage = &msg
	// the caller's context is usually the reason we are here
	e.completeRun(context.WithoutCancel(ctx), run)
}

func (e *Engine) completeRun(ctx context.Context, run *models.RebuildRun) {
	if e.runs == nil {
		return
	}
	if err := e.runs.Complete(ctx, run); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to record run completion")
	}
}

func (e *Engine) announce(ctx context.Context, result *Result) {
	if e.events == nil {
		return
	}

	eventType := kafka.EventRebuildCompleted
	if result.Kind == models.RunKindRefresh {
		eventType = kafka.EventRefreshCompleted
	}
	msg := &kafka.SnapshotEventMessage{
		Type:          eventType,
		RunID:         result.RunID,
		Kind:          result.Kind,
		Role:          result.Role,
		ParticipantID: result.ParticipantID,
		StartID:       result.Range.StartID,
		EndID:         result.Range.EndID,
		Status:        result.Status,
		Counts:        result.Counts,
		Rows:          result.Rows,
		Unreachable:   result.Unreachable,
		Timestamp:     result.CompletedAt.UTC(),
	}
	if err := e.events.PublishSnapshotEvent(ctx, msg); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to announce run")
	}
}
