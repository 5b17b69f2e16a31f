package snapshot

import (
	"strings"

	"golang.org/x/text/width"
)

// Canonical column names, in write order
const (
	ColParticipantName = "ライバー名"
	ColParticipantID   = "ルームID"
	ColEventID         = "event_id"
	ColEventName       = "イベント名"
	ColStart           = "開始日時"
	ColEnd             = "終了日時"
	ColRank            = "順位"
	ColScore           = "ポイント"
	ColLevel           = "レベル"
	ColImageURL        = "イベント画像（URL）"
	ColDetailURL       = "URL"
	ColNote            = "備考"
	ColLinked          = "紐付け"
)

// Columns is the canonical header in write order
var Columns = []string{
	ColParticipantName,
	ColParticipantID,
	ColEventID,
	ColEventName,
	ColStart,
	ColEnd,
	ColRank,
	ColScore,
	ColLevel,
	ColImageURL,
	ColDetailURL,
	ColNote,
	ColLinked,
}

type aliasRule struct {
	column string
	match  func(folded, lower string) bool
}

func oneOf(values ...string) func(string, string) bool {
	return func(folded, lower string) bool {
		for _, v := range values {
			if folded == v || lower == v {
				return true
			}
		}
		return false
	}
}

// aliasRules are checked in order; the first match wins. Header text is
// width-folded first so full-width ＩＤ and （ ） compare equal to ID and ( ).
var aliasRules = []aliasRule{
	{ColLevel, oneOf("レベル", "quest_level", "レベル(クエスト)", "level")},
	{ColScore, oneOf("ポイント", "point", "ポイント数", "score")},
	{ColRank, oneOf("順位", "rank")},
	{ColImageURL, oneOf("イベント画像(url)", "イベント画像", "image", "image_url", "event_image")},
	{ColDetailURL, oneOf("url", "event_url", "詳細url")},
	{ColNote, oneOf("備考", "note", "notes", "memo")},
	{ColLinked, oneOf("紐付け", "linked")},
	{ColEnd, func(folded, lower string) bool {
		return strings.Contains(folded, "終了") && (strings.Contains(folded, "時") || strings.Contains(folded, "日") || strings.Contains(lower, "end"))
	}},
	{ColStart, func(folded, lower string) bool {
		return strings.Contains(folded, "開始") && (strings.Contains(folded, "時") || strings.Contains(folded, "日") || strings.Contains(lower, "start"))
	}},
	{ColEventName, func(folded, lower string) bool {
		return strings.Contains(folded, "イベント名") || strings.Contains(lower, "event_name")
	}},
	{ColEventID, oneOf("event_id", "eventid")},
	{ColParticipantName, func(folded, lower string) bool {
		return strings.Contains(folded, "ライバー") ||
			(strings.Contains(lower, "room") && strings.Contains(lower, "name")) ||
			folded == "ルーム名"
	}},
	{ColParticipantID, oneOf("ルームid", "roomid", "room_id")},
}

// CanonicalColumn maps a header cell to its canonical column name.
// ok is false for headers that are not recognised.
func CanonicalColumn(header string) (string, bool) {
	folded := width.Fold.String(strings.TrimSpace(header))
	lower := strings.ToLower(folded)

	for _, col := range Columns {
		if folded == width.Fold.String(col) {
			return col, true
		}
	}
	for _, rule := range aliasRules {
		if rule.match(folded, lower) {
			return rule.column, true
		}
	}
	return "", false
}
