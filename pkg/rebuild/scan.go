package rebuild

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/discovery"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/execution"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/metrics"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/showroom"
)

// eventScan is what one event id contributed to a scan
type eventScan struct {
	eventID  string
	records  []models.Record
	verified bool
	stop     string
}

// scan probes every event id in rng through the worker pool and buffers the
// discovered records. Nothing is merged here; an error means the scan was
// cancelled and must not be published.
func (e *Engine) scan(ctx context.Context, rng discovery.Range, filter models.ParticipantFilter, existing []models.Record, maxPages int) (*models.ScanSession, error) {
	if maxPages <= 0 {
		maxPages = e.config.MaxPages
	}

	session := models.NewScanSession(rng.StartID, rng.EndID, filter)
	archive := groupByEvent(existing)
	names := showroom.NewNameCache(e.upstream)
	ids := rng.IDs()

	outcomes := execution.Map(ctx, e.pool, ids, func(ctx context.Context, eventID string) (eventScan, error) {
		return e.scanEvent(ctx, eventID, filter, archive[eventID], names, maxPages)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, outcome := range outcomes {
		if outcome.Err != nil {
			if errors.Is(outcome.Err, context.Canceled) || errors.Is(outcome.Err, context.DeadlineExceeded) {
				return nil, outcome.Err
			}
			session.Unreachable = append(session.Unreachable, ids[i])
			continue
		}

		result := outcome.Value
		metrics.RosterScans.WithLabelValues(result.stop).Inc()
		session.Records = append(session.Records, result.records...)
		if result.verified {
			session.Verified[result.eventID] = struct{}{}
		} else {
			session.Unreachable = append(session.Unreachable, result.eventID)
		}
	}

	e.logger.WithContext(ctx).Debugf("Scanned %d event ids: %d records, %d verified, %d unreachable, %d names looked up",
		rng.Len(), len(session.Records), len(session.Verified), len(session.Unreachable), names.Len())
	return session, nil
}

func (e *Engine) scanEvent(
	ctx context.Context,
	eventID string,
	filter models.ParticipantFilter,
	archived []models.Record,
	names *showroom.NameCache,
	maxPages int,
) (eventScan, error) {
	roster, err := e.upstream.FetchRoster(ctx, eventID, filter, maxPages)
	if err != nil {
		return eventScan{}, err
	}

	result := eventScan{
		eventID:  eventID,
		verified: roster.Verified,
		stop:     roster.StopReason,
	}
	if len(roster.Entries) == 0 {
		return result, nil
	}

	detail, ok := e.upstream.ResolveEventDetail(ctx, eventID, e.detailCandidates(roster.Entries, archived))
	desc := describe(detail, ok, archived)

	result.records = make([]models.Record, 0, len(roster.Entries))
	for _, entry := range roster.Entries {
		name := entry.ParticipantName
		if name == "" {
			name = names.Get(ctx, entry.ParticipantID)
		}
		rec := models.Record{
			EventID:         eventID,
			ParticipantID:   entry.ParticipantID,
			ParticipantName: name,
			Rank:            entry.Rank,
			Score:           orZero(entry.Score),
			Level:           orZero(entry.Level),
		}
		desc.apply(&rec)
		result.records = append(result.records, rec)
	}
	return result, nil
}

// detailCandidates lists the participants to ask about an event: fresh
// roster entries first, then participants already archived for it
func (e *Engine) detailCandidates(entries []showroom.RawEntry, archived []models.Record) []string {
	seen := make(map[string]struct{})
	candidates := make([]string, 0, e.config.DetailCandidates)
	add := func(id string) {
		if id == "" || len(candidates) >= e.config.DetailCandidates {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		candidates = append(candidates, id)
	}
	for _, entry := range entries {
		add(entry.ParticipantID)
	}
	for _, rec := range archived {
		add(rec.ParticipantID)
	}
	return candidates
}

// descriptor carries the event-scoped fields shared by every row of an event
type descriptor struct {
	name      string
	detailURL string
	start     string
	end       string
	imageURL  string
}

// describe prefers live detail and fills whatever it lacks from the archive
func describe(detail showroom.EventDetail, ok bool, archived []models.Record) descriptor {
	var d descriptor
	if ok {
		d = descriptor{
			name:      detail.Name,
			detailURL: detailURL(detail),
			start:     detail.Start.Display,
			end:       detail.End.Display,
			imageURL:  detail.ImageURL,
		}
	}

	for _, rec := range archived {
		d.name = firstNonEmpty(d.name, rec.EventName)
		d.detailURL = firstNonEmpty(d.detailURL, rec.DetailURL)
		d.start = firstNonEmpty(d.start, rec.Start)
		d.end = firstNonEmpty(d.end, rec.End)
		d.imageURL = firstNonEmpty(d.imageURL, rec.ImageURL)
	}
	return d
}

func (d descriptor) apply(rec *models.Record) {
	rec.EventName = d.name
	rec.DetailURL = d.detailURL
	rec.Start = d.start
	rec.End = d.end
	rec.ImageURL = d.imageURL
}

// detailURL turns the endpoint's event_url, which is either absolute or a
// bare event key, into a public page link
func detailURL(detail showroom.EventDetail) string {
	u := strings.TrimSpace(detail.URL)
	switch {
	case u == "":
		return ""
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return u
	default:
		return showroom.EventPageURL(strings.TrimPrefix(u, "/"))
	}
}

func groupByEvent(records []models.Record) map[string][]models.Record {
	groups := make(map[string][]models.Record)
	for _, rec := range records {
		groups[rec.EventID] = append(groups[rec.EventID], rec)
	}
	return groups
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func orZero(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return s
}

func fallbackPath(dir string, result *Result) string {
	return filepath.Join(dir, fmt.Sprintf("snapshot-%s-%s.csv", result.Kind, result.RunID))
}
