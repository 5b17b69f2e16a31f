package showroom

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/expressions"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/metrics"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
)

// Accessor chains for roster entries. Field names drift between event types,
// so each logical field is tried against several spellings in order.
var (
	participantIDChain   = expressions.Chain{"room_id", "room.room_id"}
	participantNameChain = expressions.Chain{"room_name", "room_name_text", "room.room_name"}
	rankChain            = expressions.Chain{"rank", "position", "room_rank", `"順位"`}
	scoreChain           = expressions.Chain{"point", "event_point", "total_point"}
	levelChain           = expressions.Chain{"event_entry.quest_level", "quest_level", "level"}
)

// Stop reasons reported on a RosterResult
const (
	StopEndOfList    = "end_of_list"
	StopNoNextPage   = "no_next_page"
	StopGone         = "gone"
	StopMaxPages     = "max_pages"
	StopRepeatedPage = "repeated_page"
	StopFailed       = "failed"
)

// RawEntry is one roster row before it is turned into a record
type RawEntry struct {
	ParticipantID   string
	ParticipantName string
	Rank            string
	Score           string
	Level           string
}

// RosterResult is the outcome of paging one event's roster
type RosterResult struct {
	EventID string
	Entries []RawEntry
	// Pages is the number of pages actually fetched
	Pages int
	// Verified is true only when the roster was read to an authoritative end:
	// an empty page, no next page, or the event reported gone. A roster cut
	// short by max pages, a repeated page or a failed request is unverified.
	Verified bool
	// Gone is true when the endpoint reported the event as not found
	Gone       bool
	StopReason string
}

// Unreachable reports whether the event could not be fully checked
func (r RosterResult) Unreachable() bool {
	return !r.Verified
}

// FetchRoster pages through an event's roster, keeping entries accepted by
// filter. It stops on an empty page, a missing next page, maxPages, a page it
// has already seen, or a failure. The only returned error is context
// cancellation; upstream failures surface as an unverified result.
func (c *Client) FetchRoster(ctx context.Context, eventID string, filter models.ParticipantFilter, maxPages int) (RosterResult, error) {
	if maxPages <= 0 {
		maxPages = c.config.MaxPages
	}

	log := c.logger.WithContext(ctx).WithField("event_id", eventID)
	result := RosterResult{EventID: eventID, Entries: make([]RawEntry, 0)}

	seenPages := make(map[int]struct{})
	prevSignature := ""
	page := 1

	for {
		if result.Pages >= maxPages {
			result.StopReason = StopMaxPages
			log.Warnf("Roster pagination stopped at max pages (%d)", maxPages)
			return result, nil
		}
		if _, seen := seenPages[page]; seen {
			result.StopReason = StopRepeatedPage
			log.Warnf("Roster pagination returned to page %d", page)
			return result, nil
		}
		seenPages[page] = struct{}{}

		query := url.Values{
			"event_id": {eventID},
			"p":        {strconv.Itoa(page)},
		}

		resp, status, err := c.fetch(ctx, c.config.RosterURL, query)
		if err != nil && ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Pages++
		metrics.RosterPagesFetched.WithLabelValues(status.String()).Inc()

		switch status {
		case fetchGone:
			if page == 1 {
				result.Gone = true
			}
			result.Verified = true
			result.StopReason = StopGone
			return result, nil
		case fetchFailed:
			result.StopReason = StopFailed
			log.WithError(err).Warnf("Roster page %d could not be fetched", page)
			return result, nil
		}

		body, err := decodeObject(resp)
		if err != nil {
			result.StopReason = StopFailed
			log.WithError(err).Warnf("Roster page %d is not valid JSON", page)
			return result, nil
		}

		list, _ := c.eval.EvaluateSlice("list", body)
		if len(list) == 0 {
			result.Verified = true
			result.StopReason = StopEndOfList
			return result, nil
		}

		entries := make([]RawEntry, 0, len(list))
		ids := make([]string, 0, len(list))
		for _, item := range list {
			entry, ok := c.parseEntry(item)
			if !ok {
				continue
			}
			ids = append(ids, entry.ParticipantID)
			entries = append(entries, entry)
		}

		// identical consecutive pages mean the endpoint is ignoring the page parameter
		signature := strings.Join(ids, ",")
		if page > 1 && signature == prevSignature {
			result.StopReason = StopRepeatedPage
			log.Warnf("Roster page %d repeats the previous page", page)
			return result, nil
		}
		prevSignature = signature

		for _, entry := range entries {
			if filter.Allows(entry.ParticipantID) {
				result.Entries = append(result.Entries, entry)
			}
		}

		next, ok := c.eval.Int(expressions.Chain{"next_page"}, body)
		if !ok || next <= 0 {
			result.Verified = true
			result.StopReason = StopNoNextPage
			return result, nil
		}
		page = int(next)
	}
}

func (c *Client) parseEntry(item any) (RawEntry, bool) {
	entry := RawEntry{
		ParticipantID: c.eval.String(participantIDChain, item),
	}
	if entry.ParticipantID == "" {
		return entry, false
	}
	entry.ParticipantName = c.eval.String(participantNameChain, item)
	entry.Rank = c.eval.String(rankChain, item)
	entry.Score = c.eval.String(scoreChain, item)
	entry.Level = c.eval.String(levelChain, item)
	return entry, true
}
