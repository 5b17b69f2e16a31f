// Package discovery proposes which event ids a rebuild should probe.
package discovery

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
)

const (
	// DefaultWindow is how many new event ids an incremental scan probes
	DefaultWindow int64 = 50

	// DefaultHistoryFloor is the lowest event id a full-history scan starts from
	DefaultHistoryFloor int64 = 30000

	// DefaultMaxSpan caps the number of ids in any one scan
	DefaultMaxSpan int64 = 20000
)

var (
	ErrInvalidRange = errors.New("invalid scan range")
	ErrRangeTooWide = errors.New("scan range too wide")
)

// Range is an inclusive span of event ids
type Range struct {
	StartID int64 `json:"start_id"`
	EndID   int64 `json:"end_id"`
}

// Len returns the number of ids in the range
func (r Range) Len() int64 {
	if r.EndID < r.StartID {
		return 0
	}
	return r.EndID - r.StartID + 1
}

// Contains reports whether id falls inside the range
func (r Range) Contains(id int64) bool {
	return id >= r.StartID && id <= r.EndID
}

// IDs expands the range into decimal event id strings in ascending order
func (r Range) IDs() []string {
	ids := make([]string, 0, r.Len())
	for id := r.StartID; id <= r.EndID && id >= r.StartID; id++ {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return ids
}

// Validate rejects inverted, non-positive or oversized ranges. A maxSpan of
// zero or less disables the size check.
func (r Range) Validate(maxSpan int64) error {
	if r.StartID <= 0 || r.EndID < r.StartID {
		return fmt.Errorf("%w: %d..%d", ErrInvalidRange, r.StartID, r.EndID)
	}
	if maxSpan > 0 && r.Len() > maxSpan {
		return fmt.Errorf("%w: %d ids (max %d)", ErrRangeTooWide, r.Len(), maxSpan)
	}
	return nil
}

func (r Range) String() string {
	return fmt.Sprintf("%d..%d", r.StartID, r.EndID)
}

// NextRange proposes the next incremental window after currentMax
func NextRange(currentMax, window int64) Range {
	if window <= 0 {
		window = DefaultWindow
	}
	if currentMax < 0 {
		currentMax = 0
	}
	return Range{StartID: currentMax + 1, EndID: currentMax + window}
}

// FullHistoryRange spans from floor up to currentMax. It is an explicit,
// opt-in operation and is never chosen implicitly.
func FullHistoryRange(floor, currentMax int64) Range {
	if floor <= 0 {
		floor = DefaultHistoryFloor
	}
	if currentMax < floor {
		currentMax = floor
	}
	return Range{StartID: floor, EndID: currentMax}
}

// MaxEventID returns the largest numeric event id in records
func MaxEventID(records []models.Record) (int64, bool) {
	var highest int64
	found := false
	for _, rec := range records {
		id, ok := rec.EventIDValue()
		if !ok {
			continue
		}
		if !found || id > highest {
			highest = id
			found = true
		}
	}
	return highest, found
}
