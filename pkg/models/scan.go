package models

// ScanSession holds everything discovered during one rebuild. It is never persisted.
type ScanSession struct {
	StartID int64
	EndID   int64
	Filter  ParticipantFilter

	// Records discovered by the roster pager, enriched with event detail
	Records []Record

	// Verified holds event ids whose roster was read to an authoritative end
	Verified map[string]struct{}

	// Unreachable holds event ids that could not be fully checked
	Unreachable []string
}

// NewScanSession creates an empty scan session for a range
func NewScanSession(startID, endID int64, filter ParticipantFilter) *ScanSession {
	return &ScanSession{
		StartID:  startID,
		EndID:    endID,
		Filter:   filter,
		Records:  make([]Record, 0),
		Verified: make(map[string]struct{}),
	}
}
