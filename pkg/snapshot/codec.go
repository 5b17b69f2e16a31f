// Package snapshot reads and writes the participation snapshot CSV and
// provides the stores it is published to.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
)

// BOM is the UTF-8 byte order mark written at the head of every snapshot
var BOM = []byte{0xEF, 0xBB, 0xBF}

// ContentType is the media type of an encoded snapshot
const ContentType = "text/csv; charset=utf-8"

// Decode reads a snapshot CSV. A leading BOM is stripped, header aliases are
// normalised, missing columns default to "" and unknown columns are ignored.
// Rows without an event id or participant id cannot be keyed and are skipped.
func Decode(r io.Reader) ([]models.Record, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(BOM)); err == nil && bytes.Equal(head, BOM) {
		_, _ = br.Discard(len(BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []models.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		col, ok := CanonicalColumn(h)
		if !ok {
			continue
		}
		if _, dup := index[col]; dup {
			continue
		}
		index[col] = i
	}

	records := make([]models.Record, 0)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot row: %w", err)
		}

		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}

		rec := models.Record{
			ParticipantName: get(ColParticipantName),
			ParticipantID:   strings.TrimSpace(get(ColParticipantID)),
			EventID:         strings.TrimSpace(get(ColEventID)),
			EventName:       get(ColEventName),
			Start:           get(ColStart),
			End:             get(ColEnd),
			Rank:            get(ColRank),
			Score:           get(ColScore),
			Level:           get(ColLevel),
			ImageURL:        get(ColImageURL),
			DetailURL:       get(ColDetailURL),
			Note:            get(ColNote),
			Linked:          get(ColLinked),
		}
		if rec.EventID == "" || rec.ParticipantID == "" {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// Encode writes records as a BOM-prefixed CSV with the canonical header.
// Only the first record for each key is written.
func Encode(w io.Writer, records []models.Record) error {
	if _, err := w.Write(BOM); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}

	seen := make(map[models.Key]struct{}, len(records))
	for _, rec := range records {
		key := rec.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		row := []string{
			rec.ParticipantName,
			rec.ParticipantID,
			rec.EventID,
			rec.EventName,
			rec.Start,
			rec.End,
			rec.Rank,
			rec.Score,
			rec.Level,
			rec.ImageURL,
			rec.DetailURL,
			rec.Note,
			rec.Linked,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write snapshot row %s: %w", key, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// EncodeBytes encodes records into memory
func EncodeBytes(records []models.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
