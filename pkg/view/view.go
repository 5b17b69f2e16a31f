// Package view derives the read-time columns of the snapshot for one caller.
// Nothing computed here is ever written back to the snapshot.
package view

import (
	"errors"
	"io"
	"sort"
	"time"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/lifecycle"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/ranking"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/showroom"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/snapshot"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/timestamp"
)

// OngoingHighlight is the row background for events that have not ended or
// ended within the grace window
const OngoingHighlight = "#fff7cc"

var ErrParticipantRequired = errors.New("participant id is required")

// Query selects the rows a caller may see
type Query struct {
	Role          models.Role
	ParticipantID string
	// From keeps rows starting on or after this date; zero disables the filter
	From time.Time
	// To keeps rows ending on or before the end of this date; zero disables the filter
	To time.Time
}

// Row is a snapshot record plus its derived columns
type Row struct {
	models.Record

	StartEpoch   *int64          `json:"start_epoch,omitempty"`
	EndEpoch     *int64          `json:"end_epoch,omitempty"`
	StartDisplay string          `json:"start_display"`
	EndDisplay   string          `json:"end_display"`
	Lifecycle    lifecycle.State `json:"lifecycle"`
	Ongoing      bool            `json:"ongoing"`
	EndsToday    bool            `json:"ends_today"`
	PointRank    int             `json:"point_rank,omitempty"`
	Tier         string          `json:"tier"`
	TierColor    string          `json:"tier_color,omitempty"`
	RowColor     string          `json:"row_color,omitempty"`
	ProfileURL   string          `json:"profile_url,omitempty"`
	EventURL     string          `json:"event_url,omitempty"`
}

// Build filters records for q and derives every read-time column. Point
// ranks are computed per participant over the role-visible rows, before the
// date filter, so narrowing the dates never changes a row's rank. Rows are
// sorted by start descending with missing starts last.
func Build(records []models.Record, q Query, now time.Time) ([]Row, error) {
	visible, err := scope(records, q)
	if err != nil {
		return nil, err
	}

	ranks := ranking.RankByParticipant(visible)
	nowUnix := now.Unix()
	grace := int64(lifecycle.DefaultGrace / time.Second)

	var toLimit int64
	if !q.To.IsZero() {
		y, m, d := q.To.In(timestamp.Location()).Date()
		toLimit = timestamp.StartOfDay(y, m, d).AddDate(0, 0, 1).Unix() - 1
	}
	var fromLimit int64
	if !q.From.IsZero() {
		y, m, d := q.From.In(timestamp.Location()).Date()
		fromLimit = timestamp.StartOfDay(y, m, d).Unix()
	}

	rows := make([]Row, 0, len(visible))
	for _, rec := range visible {
		start := timestamp.Normalize(rec.Start)
		end := timestamp.Normalize(rec.End)

		if !q.From.IsZero() && (start.Epoch == nil || *start.Epoch < fromLimit) {
			continue
		}
		if !q.To.IsZero() && (end.Epoch == nil || *end.Epoch > toLimit) {
			continue
		}

		row := Row{
			Record:       rec,
			StartEpoch:   start.Epoch,
			EndEpoch:     end.Epoch,
			StartDisplay: display(start, rec.Start),
			EndDisplay:   display(end, rec.End),
			Lifecycle:    lifecycle.ClassifyWindow(start.Epoch, end.Epoch, nowUnix, grace),
			Ongoing:      lifecycle.IsActive(end.Epoch, now) || lifecycle.InGrace(end.Epoch, nowUnix, grace),
			EndsToday:    timestamp.EndsToday(end.Epoch, now),
			ProfileURL:   profileURL(rec),
			EventURL:     eventURL(rec),
		}

		tier := ranking.TierNone
		if rank, ok := ranks[rec.Key()]; ok {
			row.PointRank = rank
			tier = ranking.TierFor(rank)
		}
		row.Tier = tier.String()
		row.TierColor = tier.Color()
		if row.Ongoing {
			row.RowColor = OngoingHighlight
		}

		rows = append(rows, row)
	}

	sortRows(rows)
	return rows, nil
}

// scope applies the role: operators see everything, participants their own rows
func scope(records []models.Record, q Query) ([]models.Record, error) {
	switch q.Role {
	case models.RoleOperator:
		if q.ParticipantID == "" {
			return records, nil
		}
	default:
		if q.ParticipantID == "" {
			return nil, ErrParticipantRequired
		}
	}

	out := make([]models.Record, 0)
	for _, rec := range records {
		if rec.ParticipantID == q.ParticipantID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].StartEpoch, rows[j].StartEpoch
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
}

func display(v timestamp.Value, raw string) string {
	if v.Display != "" {
		return v.Display
	}
	return raw
}

func profileURL(rec models.Record) string {
	if rec.ParticipantID == "" {
		return ""
	}
	return showroom.ProfileURL(rec.ParticipantID)
}

func eventURL(rec models.Record) string {
	if rec.DetailURL != "" {
		return rec.DetailURL
	}
	if rec.EventID == "" {
		return ""
	}
	return showroom.EventPageURL(rec.EventID)
}

// Records strips the derived columns again
func Records(rows []Row) []models.Record {
	out := make([]models.Record, len(rows))
	for i, row := range rows {
		out[i] = row.Record
	}
	return out
}

// WriteCSV exports rows in snapshot format, BOM included
func WriteCSV(w io.Writer, rows []Row) error {
	return snapshot.Encode(w, Records(rows))
}
