package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateFinalized.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateInitialized.Terminal())
	assert.False(t, StateUploaded.Terminal())
	assert.False(t, State("Zipping 40%").Terminal())
}

func TestFormatTime_OrdersLexicographically(t *testing.T) {
	base := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	earlier := FormatTime(base)
	later := FormatTime(base.Add(time.Millisecond))

	assert.Equal(t, "2024-01-02T03:04:05.006Z", earlier)
	assert.Less(t, earlier, later)

	// Non-UTC input is normalized.
	ist := time.FixedZone("IST", 5*3600+1800)
	assert.Equal(t, earlier, FormatTime(base.In(ist)))
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("2024-01-02T03:04:05.006Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC), got)

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}

func TestKey_StoredFolder(t *testing.T) {
	assert.Equal(t, "/x/y/", Key{Folder: "x/y/"}.StoredFolder())
	assert.Equal(t, "/", Key{Folder: ""}.StoredFolder())
	assert.Equal(t, "/x/", StoredFolder("/x/"))
	assert.Equal(t, "/x/y/out.zip", Key{Folder: "x/y/", ZipFileName: "out.zip"}.String())
}

func TestRecord_ActiveAndEffectiveState(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) string { return FormatTime(now.Add(-d)) }

	tests := []struct {
		name      string
		rec       Record
		active    bool
		effective State
	}{
		{"fresh initialized", Record{Progress: StateInitialized, CreatedAt: at(time.Minute)}, true, StateInitialized},
		{"fresh custom label", Record{Progress: "Zipping", CreatedAt: at(15 * time.Minute)}, true, "Zipping"},
		{"at window edge", Record{Progress: StateListed, CreatedAt: at(ActiveWindow)}, false, StateFailed},
		{"stale", Record{Progress: StateUploaded, CreatedAt: at(time.Hour)}, false, StateFailed},
		{"finalized", Record{Progress: StateFinalized, CreatedAt: at(time.Second)}, false, StateFinalized},
		{"failed", Record{Progress: StateFailed, CreatedAt: at(time.Second)}, false, StateFailed},
		{"bad timestamp", Record{Progress: StateInitialized, CreatedAt: "garbage"}, false, StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.active, tt.rec.Active(now))
			assert.Equal(t, tt.effective, tt.rec.EffectiveState(now))
		})
	}
}
