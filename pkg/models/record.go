package models

import (
	"math"
	"strconv"
	"strings"
)

// Key is the composite identity of a Record within a snapshot
type Key struct {
	EventID       string `json:"event_id"`
	ParticipantID string `json:"participant_id"`
}

func (k Key) String() string {
	return k.EventID + "/" + k.ParticipantID
}

// Record is one participant's standing in one event
type Record struct {
	// Identity
	EventID       string `json:"event_id"`
	ParticipantID string `json:"participant_id"`

	// Event-scoped descriptive fields, duplicated across every participant of the event
	EventName string `json:"event_name"`
	DetailURL string `json:"detail_url"`
	Start     string `json:"start"`
	End       string `json:"end"`
	ImageURL  string `json:"image_url"`

	// Per-participant fields refreshed by scans
	ParticipantName string `json:"participant_name"`
	Rank            string `json:"rank"`
	Score           string `json:"score"`
	Level           string `json:"level"`

	// Operator-maintained fields, never touched by scans
	Note   string `json:"note"`
	Linked string `json:"linked"`
}

// Key returns the composite key of the record
func (r Record) Key() Key {
	return Key{EventID: r.EventID, ParticipantID: r.ParticipantID}
}

// ScoreValue returns the numeric score. ok is false for empty or non-numeric scores.
func (r Record) ScoreValue() (int64, bool) {
	return parseCount(r.Score)
}

// LevelValue returns the numeric level, defaulting to 0 when absent
func (r Record) LevelValue() int64 {
	v, _ := parseCount(r.Level)
	return v
}

// RankValue returns the numeric rank. ok is false when the rank is unknown.
func (r Record) RankValue() (int64, bool) {
	return parseCount(r.Rank)
}

// EventIDValue returns the numeric event id
func (r Record) EventIDValue() (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(r.EventID), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseCount(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	// archive exports sometimes carry floats ("1200.0")
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}
