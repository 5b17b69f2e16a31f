package showroom

import (
	"context"
	"net/url"
	"sync"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/expressions"
)

var profileNameChain = expressions.Chain{"room_name", "main_name", "room.room_name"}

// ProfileURL returns the public profile page for a participant
func ProfileURL(participantID string) string {
	return "https://www.showroom-live.com/room/profile?room_id=" + url.QueryEscape(participantID)
}

// EventPageURL returns the public page for an event id
func EventPageURL(eventID string) string {
	return "https://www.showroom-live.com/event/" + url.PathEscape(eventID)
}

// LookupProfile fetches a participant's display name. An empty name with a
// nil error means the profile exists but carries no name.
func (c *Client) LookupProfile(ctx context.Context, participantID string) (string, error) {
	query := url.Values{"room_id": {participantID}}

	resp, status, err := c.fetch(ctx, c.config.ProfileURL, query)
	if status != fetchOK {
		if err == nil {
			err = ErrUnexpectedStatus
		}
		return "", err
	}

	body, err := decodeObject(resp)
	if err != nil {
		return "", err
	}
	return c.eval.String(profileNameChain, body), nil
}

// NameLookup resolves a participant id to a display name
type NameLookup interface {
	LookupProfile(ctx context.Context, participantID string) (string, error)
}

// NameCache memoizes profile lookups for the lifetime of one rebuild. Failed
// lookups are cached as empty so a broken profile is only asked for once.
type NameCache struct {
	lookup NameLookup
	mu     sync.Mutex
	names  map[string]string
}

// NewNameCache creates a cache over lookup
func NewNameCache(lookup NameLookup) *NameCache {
	return &NameCache{
		lookup: lookup,
		names:  make(map[string]string),
	}
}

// Get returns the cached name for participantID, looking it up on first use
func (n *NameCache) Get(ctx context.Context, participantID string) string {
	n.mu.Lock()
	name, ok := n.names[participantID]
	n.mu.Unlock()
	if ok {
		return name
	}

	name, err := n.lookup.LookupProfile(ctx, participantID)
	if err != nil {
		name = ""
	}

	n.mu.Lock()
	n.names[participantID] = name
	n.mu.Unlock()
	return name
}

// Len returns the number of cached participants
func (n *NameCache) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.names)
}
