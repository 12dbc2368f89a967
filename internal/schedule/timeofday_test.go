package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in   string
		want TimeOfDay
	}{
		{"09:00", Clock(9, 0)},
		{"9:30", Clock(9, 30)},
		{"17:45:00", Clock(17, 45)},
		{"00:00", 0},
		{"24:00", EndOfDay},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "25:00", "9am", "12:61"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "12:00 AM", Clock(0, 0).Display())
	assert.Equal(t, "9:30 AM", Clock(9, 30).Display())
	assert.Equal(t, "12:15 PM", Clock(12, 15).Display())
	assert.Equal(t, "5:00 PM", Clock(17, 0).Display())
}

func TestTimeOfDayJSON(t *testing.T) {
	b, err := json.Marshal(Clock(14, 5))
	require.NoError(t, err)
	assert.JSONEq(t, `"14:05"`, string(b))

	var got TimeOfDay
	require.NoError(t, json.Unmarshal([]byte(`"08:30:00"`), &got))
	assert.Equal(t, Clock(8, 30), got)

	assert.Error(t, json.Unmarshal([]byte(`"noon"`), &got))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d.Weekday())
	assert.Equal(t, "2026-10-19", d.String())

	_, err = ParseDate("19/10/2026")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "date", verr.Field)

	_, err = ParseDate("2026-02-30")
	assert.Error(t, err)
}

func TestDateArithmetic(t *testing.T) {
	d := Date{Year: 2026, Month: time.December, Day: 30}

	assert.Equal(t, Date{Year: 2027, Month: time.January, Day: 2}, d.AddDays(3))
	assert.Equal(t, 3, d.DaysUntil(d.AddDays(3)))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.After(d.AddDays(-1)))
	assert.Equal(t, 0, d.Compare(d))
}

func TestDateJSON(t *testing.T) {
	var payload struct {
		On  Date `json:"on"`
		Off Date `json:"off"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"on":"2026-10-19","off":null}`), &payload))
	assert.Equal(t, monday, payload.On)
	assert.True(t, payload.Off.IsZero())

	b, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"on":"2026-10-19","off":null}`, string(b))
}
