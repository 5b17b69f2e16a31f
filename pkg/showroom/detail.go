package showroom

import (
	"context"
	"net/url"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/expressions"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/timestamp"
)

var (
	eventNameChain  = expressions.Chain{"event.event_name", "event.name", "event_name"}
	eventStartChain = expressions.Chain{"event.started_at", "event.start_at", "started_at"}
	eventEndChain   = expressions.Chain{"event.ended_at", "event.end_at", "ended_at"}
	eventURLChain   = expressions.Chain{"event.event_url", "event.url", "event_url"}
	eventImageChain = expressions.Chain{"event.image", "event.image_url", "event.banner_url", "image"}
)

// EventDetail is the descriptive metadata of an event
type EventDetail struct {
	EventID  string
	Name     string
	URL      string
	ImageURL string
	Start    timestamp.Value
	End      timestamp.Value
}

// ResolveEventDetail asks the detail endpoint about the event on behalf of
// each candidate participant in order and returns the first usable answer.
// Any single participant may be unable to see the event, so one failure
// only moves on to the next candidate. ok is false when every candidate failed.
func (c *Client) ResolveEventDetail(ctx context.Context, eventID string, candidates []string) (EventDetail, bool) {
	log := c.logger.WithContext(ctx).WithField("event_id", eventID)

	for _, participantID := range candidates {
		if ctx.Err() != nil {
			return EventDetail{}, false
		}

		query := url.Values{
			"event_id": {eventID},
			"room_id":  {participantID},
		}
		resp, status, err := c.fetch(ctx, c.config.DetailURL, query)
		if status != fetchOK {
			entryLog := log.WithField("room_id", participantID)
			if err != nil {
				entryLog = entryLog.WithError(err)
			}
			entryLog.Debugf("Event detail unavailable via candidate (%s)", status)
			continue
		}

		body, err := decodeObject(resp)
		if err != nil {
			log.WithError(err).WithField("room_id", participantID).Debug("Event detail response is not valid JSON")
			continue
		}

		detail, ok := c.parseDetail(eventID, body)
		if !ok {
			continue
		}
		return detail, true
	}

	log.Debugf("Event detail could not be resolved from %d candidates", len(candidates))
	return EventDetail{}, false
}

func (c *Client) parseDetail(eventID string, body map[string]any) (EventDetail, bool) {
	detail := EventDetail{
		EventID:  eventID,
		Name:     c.eval.String(eventNameChain, body),
		URL:      c.eval.String(eventURLChain, body),
		ImageURL: c.eval.String(eventImageChain, body),
	}
	if start, err := c.eval.Evaluate(eventStartChain.Expression(), body); err == nil {
		detail.Start = timestamp.Normalize(start)
	}
	if end, err := c.eval.Evaluate(eventEndChain.Expression(), body); err == nil {
		detail.End = timestamp.Normalize(end)
	}

	if detail.Name == "" && !detail.Start.Valid() && !detail.End.Valid() {
		return detail, false
	}
	return detail, true
}
