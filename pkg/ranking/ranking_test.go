package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
)

func scoreRec(eventID, participantID, score string) models.Record {
	return models.Record{EventID: eventID, ParticipantID: participantID, Score: score}
}

func TestDenseRank(t *testing.T) {
	records := []models.Record{
		scoreRec("1", "p", "100"),
		scoreRec("2", "p", "100"),
		scoreRec("3", "p", "80"),
		scoreRec("4", "p", "50"),
	}

	ranks := DenseRank(records)

	got := make([]int, len(records))
	for i, r := range records {
		got[i] = ranks[r.Key()]
	}
	assert.Equal(t, []int{1, 1, 2, 3}, got)
}

func TestDenseRank_ExcludesNonNumericScores(t *testing.T) {
	records := []models.Record{
		scoreRec("1", "p", "abc"),
		scoreRec("2", "p", ""),
		scoreRec("3", "p", "1200.0"),
		scoreRec("4", "p", "-5"),
		scoreRec("5", "p", "0"),
	}

	ranks := DenseRank(records)

	assert.Len(t, ranks, 2)
	assert.Equal(t, 1, ranks[models.Key{EventID: "3", ParticipantID: "p"}])
	assert.Equal(t, 2, ranks[models.Key{EventID: "5", ParticipantID: "p"}])
	_, ranked := ranks[models.Key{EventID: "1", ParticipantID: "p"}]
	assert.False(t, ranked)
}

func TestDenseRank_Empty(t *testing.T) {
	assert.Empty(t, DenseRank(nil))
}

func TestRankByParticipant(t *testing.T) {
	records := []models.Record{
		scoreRec("1", "a", "10"),
		scoreRec("2", "a", "30"),
		scoreRec("1", "b", "5"),
		scoreRec("2", "b", "5"),
	}

	ranks := RankByParticipant(records)

	assert.Equal(t, 2, ranks[models.Key{EventID: "1", ParticipantID: "a"}])
	assert.Equal(t, 1, ranks[models.Key{EventID: "2", ParticipantID: "a"}])
	assert.Equal(t, 1, ranks[models.Key{EventID: "1", ParticipantID: "b"}])
	assert.Equal(t, 1, ranks[models.Key{EventID: "2", ParticipantID: "b"}])
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		rank int
		want Tier
	}{
		{0, TierNone},
		{1, TierGold},
		{2, TierSilver},
		{3, TierBronze},
		{4, TierFourth},
		{5, TierFifth},
		{6, TierNone},
		{-1, TierNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.rank), "rank %d", tt.rank)
	}
}

func TestTier_ColorAndString(t *testing.T) {
	assert.Equal(t, "gold", TierGold.String())
	assert.Equal(t, "none", TierNone.String())
	assert.Equal(t, "", TierNone.Color())

	prev := ""
	for tier := TierGold; tier <= TierFifth; tier++ {
		assert.NotEmpty(t, tier.Color())
		assert.NotEqual(t, prev, tier.Color())
		prev = tier.Color()
	}
}
