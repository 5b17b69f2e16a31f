package timestamp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_StringLayouts(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		epoch   int64
		display string
	}{
		{"slash with time", "2024/01/02 03:04", 1704132240, "2024/01/02 03:04"},
		{"dash with time", "2024-01-02 03:04", 1704132240, "2024/01/02 03:04"},
		{"slash date only", "2024/01/02", 1704121200, "2024/01/02 00:00"},
		{"dash date only", "2024-01-02", 1704121200, "2024/01/02 00:00"},
		{"padded", "  2024/01/02 03:04  ", 1704132240, "2024/01/02 03:04"},
		{"unpadded slash", "2024/1/2 3:04", 1704132240, "2024/01/02 03:04"},
		{"unpadded dash", "2024-1-5 9:00", 1704412800, "2024/01/05 09:00"},
		{"unpadded date only", "2024/1/2", 1704121200, "2024/01/02 00:00"},
		{"epoch seconds string", "1704132240", 1704132240, "2024/01/02 03:04"},
		{"epoch float string", "1704132240.0", 1704132240, "2024/01/02 03:04"},
		{"epoch int", 1704132240, 1704132240, "2024/01/02 03:04"},
		{"epoch float64", float64(1704132240), 1704132240, "2024/01/02 03:04"},
		{"json number", json.Number("1704132240"), 1704132240, "2024/01/02 03:04"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			require.True(t, got.Valid())
			assert.Equal(t, tt.epoch, *got.Epoch)
			assert.Equal(t, tt.display, got.Display)
		})
	}
}

func TestNormalize_EmptyInputs(t *testing.T) {
	for _, in := range []any{nil, "", "   ", "None", "nan", "NaN", "null"} {
		got := Normalize(in)
		assert.Nil(t, got.Epoch, "input %v", in)
		assert.Equal(t, "", got.Display, "input %v", in)
	}
}

func TestNormalize_UnparseableKeepsOriginal(t *testing.T) {
	got := Normalize("2024/13/45 99:99")
	assert.Nil(t, got.Epoch)
	assert.Equal(t, "2024/13/45 99:99", got.Display)

	got = Normalize("soon")
	assert.Nil(t, got.Epoch)
	assert.Equal(t, "soon", got.Display)
}

func TestNormalize_MillisecondsAreDivided(t *testing.T) {
	seconds := Normalize(int64(1700000000))
	millis := Normalize(int64(1700000000000))
	millisString := Normalize("1700000000000")

	require.True(t, seconds.Valid())
	require.True(t, millis.Valid())
	require.True(t, millisString.Valid())
	assert.Equal(t, *seconds.Epoch, *millis.Epoch)
	assert.Equal(t, *seconds.Epoch, *millisString.Epoch)
	assert.Equal(t, seconds.Display, millis.Display)
}

func TestNormalize_IdempotentThroughDisplay(t *testing.T) {
	epochs := []int64{
		0,
		1704132240,
		1700000000, // not minute aligned
		1893423600,
		4070876400, // 2099/01/01 00:00 JST
	}

	for _, e := range epochs {
		first := Normalize(e)
		require.True(t, first.Valid())

		second := Normalize(first.Display)
		require.True(t, second.Valid(), "display %q", first.Display)
		assert.Equal(t, e, *second.Epoch)
		assert.Equal(t, first.Display, second.Display)
	}
}

func TestNormalize_NaiveStringsAreHomeZone(t *testing.T) {
	got := Normalize("2024/01/01 09:00")
	require.True(t, got.Valid())

	// 09:00 in Tokyo is midnight UTC
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), *got.Epoch)
}

func TestEndsToday(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, Location())

	endLater := time.Date(2024, 5, 10, 23, 59, 0, 0, Location()).Unix()
	endMidnight := time.Date(2024, 5, 10, 0, 0, 0, 0, Location()).Unix()
	endTomorrow := time.Date(2024, 5, 11, 0, 0, 0, 0, Location()).Unix()

	assert.True(t, EndsToday(&endLater, now))
	assert.True(t, EndsToday(&endMidnight, now))
	assert.False(t, EndsToday(&endTomorrow, now))
	assert.False(t, EndsToday(nil, now))
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2024-05-10")
	require.NoError(t, err)
	assert.Equal(t, StartOfDay(2024, time.May, 10), got)

	_, err = ParseDate("10/05/2024")
	require.Error(t, err)
}
