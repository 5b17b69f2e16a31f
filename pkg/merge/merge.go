// Package merge reconciles freshly scanned records into an existing snapshot.
package merge

import (
	"sort"
	"strings"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/timestamp"
)

// Result is the merged snapshot and what changed
type Result struct {
	Records []models.Record
	Counts  models.Counts
}

// Merge folds incoming into existing and returns the new snapshot.
//
// Existing rows matching an incoming key have their scan-owned fields
// overwritten (operator notes are kept); unknown keys are appended. A row is
// pruned only when its event id is in scanned, its participant passes filter,
// and its key was not rediscovered. scanned must contain verified event ids
// only. Neither input slice is modified.
func Merge(existing, incoming []models.Record, scanned map[string]struct{}, filter models.ParticipantFilter) Result {
	var counts models.Counts

	merged := make([]models.Record, 0, len(existing)+len(incoming))
	index := make(map[models.Key]int, len(existing))
	for _, rec := range existing {
		key := rec.Key()
		if _, dup := index[key]; dup {
			continue
		}
		index[key] = len(merged)
		merged = append(merged, rec)
	}

	// last occurrence of a key wins, first-seen order is kept
	latest := make(map[models.Key]models.Record, len(incoming))
	order := make([]models.Key, 0, len(incoming))
	for _, rec := range incoming {
		key := rec.Key()
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = rec
	}

	for _, key := range order {
		rec := latest[key]
		if i, ok := index[key]; ok {
			merged[i] = apply(merged[i], rec)
			counts.Updated++
			continue
		}
		index[key] = len(merged)
		merged = append(merged, rec)
		counts.Added++
	}

	kept := merged[:0]
	for _, rec := range merged {
		if prunable(rec, scanned, filter) {
			if _, found := latest[rec.Key()]; !found {
				counts.Deleted++
				continue
			}
		}
		kept = append(kept, rec)
	}

	Sort(kept)
	return Result{Records: kept, Counts: counts}
}

func prunable(rec models.Record, scanned map[string]struct{}, filter models.ParticipantFilter) bool {
	if _, ok := scanned[rec.EventID]; !ok {
		return false
	}
	return filter.Allows(rec.ParticipantID)
}

// apply overwrites the scan-owned fields of dst with non-empty values from src.
// Empty values never erase what the archive already knows.
func apply(dst, src models.Record) models.Record {
	overwrite := func(field *string, value string) {
		if strings.TrimSpace(value) != "" {
			*field = value
		}
	}

	overwrite(&dst.ParticipantName, src.ParticipantName)
	overwrite(&dst.EventName, src.EventName)
	overwrite(&dst.DetailURL, src.DetailURL)
	overwrite(&dst.Start, src.Start)
	overwrite(&dst.End, src.End)
	overwrite(&dst.ImageURL, src.ImageURL)
	overwrite(&dst.Rank, src.Rank)
	overwrite(&dst.Score, src.Score)
	overwrite(&dst.Level, src.Level)
	return dst
}

// Sort orders records by end time descending (unknown end last), then event
// id descending (numeric ids before non-numeric ones), then participant id
// ascending. Keys are unique after a merge so the order is total.
func Sort(records []models.Record) {
	type sortKey struct {
		end       *int64
		eventID   int64
		numericID bool
	}

	keys := make(map[models.Key]sortKey, len(records))
	for _, rec := range records {
		id, ok := rec.EventIDValue()
		keys[rec.Key()] = sortKey{
			end:       timestamp.Normalize(rec.End).Epoch,
			eventID:   id,
			numericID: ok,
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		ka, kb := keys[a.Key()], keys[b.Key()]

		switch {
		case ka.end != nil && kb.end == nil:
			return true
		case ka.end == nil && kb.end != nil:
			return false
		case ka.end != nil && kb.end != nil && *ka.end != *kb.end:
			return *ka.end > *kb.end
		}

		switch {
		case ka.numericID && !kb.numericID:
			return true
		case !ka.numericID && kb.numericID:
			return false
		case ka.numericID && kb.numericID && ka.eventID != kb.eventID:
			return ka.eventID > kb.eventID
		case !ka.numericID && !kb.numericID && a.EventID != b.EventID:
			return a.EventID > b.EventID
		}

		return a.ParticipantID < b.ParticipantID
	})
}
