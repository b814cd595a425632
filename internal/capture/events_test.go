package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampWrapIsMonotonic(t *testing.T) {
	emit := &fakeEmitter{}
	d := NewDecoder(defaultConfig(), emit)
	d.Start()

	toggle := uint32(0)
	frame1 := buildDataFrame(toggle, 0xfffff, false, false, false, []byte{0x2d})
	d.Feed(frame1)
	require.False(t, d.Done)
	ts1 := emit.packets[0].ts

	toggle = 1
	frame2 := make([]byte, 0)
	h0 := byte(headerStatus) | byte(toggle)<<6 | byte(headerTSOverflow)
	frame2 = append(frame2, h0, 0x00, 0x00)
	size := dataHeaderSize + 1
	b3 := byte((size >> 8) & 0x7)
	frame2 = append(frame2, b3, byte(size), 0, 0, 0x2d)
	d.Feed(frame2)

	require.False(t, d.Done)
	require.Len(t, emit.packets, 2)
	ts2 := emit.packets[1].ts
	assert.GreaterOrEqual(t, ts2, ts1)
	assert.Equal(t, uint64(0x100000)*100/6, ts2)
}

func TestLowSpeedKeepAliveEmitsNoLineStateEvent(t *testing.T) {
	cfg := defaultConfig()
	cfg.Speed = SpeedLow
	emit := &fakeEmitter{}
	d := NewDecoder(cfg, emit)
	d.Start()

	// Tick deltas chosen so the resulting nanosecond delta (ticks*100/6)
	// lands inside the keep-alive window (1000, 2000) ns: 90 ticks = 1500 ns.
	status1 := buildStatusFrame(0, 1000, false, 0 /* LS_SE0 */, 0, 0, SpeedLow)
	d.Feed(status1)

	status2 := buildStatusFrame(1, 1090, false, 12 /* LS_J3 */, 0, 0, SpeedLow)
	d.Feed(status2)

	require.False(t, d.Done)

	var keepaliveTS uint64
	foundKeepalive := false
	foundLineState := false
	for _, e := range emit.infos {
		if e.msg == "Keep-alive" {
			foundKeepalive = true
			keepaliveTS = e.ts
		}
		if len(e.msg) >= 12 && e.msg[:12] == "Line state: " {
			foundLineState = true
		}
	}
	assert.True(t, foundKeepalive, "expected a Keep-alive info event")
	assert.Equal(t, uint64(1090)*100/6, keepaliveTS)
	assert.False(t, foundLineState, "a recognized keep-alive transition must not also emit a line-state event")
}

func TestPreTriggerSilenceEmitsNoPacketsOnInterfaceZero(t *testing.T) {
	cfg := defaultConfig()
	cfg.Trigger = TriggerHigh
	emit := &fakeEmitter{}
	d := NewDecoder(cfg, emit)
	d.Start()

	require.False(t, d.enabled)

	frame := buildDataFrame(0, 100, false, false, false, []byte{0x2d})
	d.Feed(frame)

	assert.Empty(t, emit.packets, "no packets should be emitted while the trigger gate is closed")
	assert.NotEmpty(t, emit.infos, "info events still flow on interface 1 while disabled")
}

func TestTriggerHighOpensGateOnRisingStatus(t *testing.T) {
	cfg := defaultConfig()
	cfg.Trigger = TriggerHigh
	emit := &fakeEmitter{}
	d := NewDecoder(cfg, emit)
	d.Start()

	status := buildStatusFrame(0, 100, false, 0, 0, 1 /* trigger high */, SpeedFull)
	d.Feed(status)

	assert.True(t, d.enabled)

	frame := buildDataFrame(1, 200, false, false, false, []byte{0x2d})
	d.Feed(frame)
	require.Len(t, emit.packets, 1)
}
