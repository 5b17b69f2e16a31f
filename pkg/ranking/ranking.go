// Package ranking derives point ranks and highlight tiers at read time.
package ranking

import (
	"sort"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
)

// HighlightDepth is how many top ranks receive a highlight
const HighlightDepth = 5

// Tier is the graded highlight intensity of a rank
type Tier int

const (
	TierNone Tier = iota
	TierGold
	TierSilver
	TierBronze
	TierFourth
	TierFifth
)

var tierNames = map[Tier]string{
	TierNone:   "none",
	TierGold:   "gold",
	TierSilver: "silver",
	TierBronze: "bronze",
	TierFourth: "fourth",
	TierFifth:  "fifth",
}

// strongest first
var tierColors = map[Tier]string{
	TierGold:   "#ff7f7f",
	TierSilver: "#ff9999",
	TierBronze: "#ffb2b2",
	TierFourth: "#ffcccc",
	TierFifth:  "#ffe5e5",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "none"
}

// Color is the background color for the tier, "" for TierNone
func (t Tier) Color() string {
	return tierColors[t]
}

// TierFor maps a dense rank to its highlight tier
func TierFor(rank int) Tier {
	if rank < 1 || rank > HighlightDepth {
		return TierNone
	}
	return Tier(rank)
}

// DenseRank ranks records by descending score. Ties share a rank and the
// next distinct score takes the following integer. Records without a numeric
// score get no entry.
func DenseRank(records []models.Record) map[models.Key]int {
	type scored struct {
		key   models.Key
		score int64
	}

	items := make([]scored, 0, len(records))
	for _, rec := range records {
		score, ok := rec.ScoreValue()
		if !ok {
			continue
		}
		items = append(items, scored{key: rec.Key(), score: score})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})

	ranks := make(map[models.Key]int, len(items))
	rank := 0
	var prev int64
	for i, it := range items {
		if i == 0 || it.score != prev {
			rank++
			prev = it.score
		}
		ranks[it.key] = rank
	}
	return ranks
}

// RankByParticipant dense-ranks each participant's records against that
// participant's own history
func RankByParticipant(records []models.Record) map[models.Key]int {
	groups := make(map[string][]models.Record)
	for _, rec := range records {
		groups[rec.ParticipantID] = append(groups[rec.ParticipantID], rec)
	}

	ranks := make(map[models.Key]int, len(records))
	for _, group := range groups {
		for key, rank := range DenseRank(group) {
			ranks[key] = rank
		}
	}
	return ranks
}
