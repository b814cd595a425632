package capture

// TriggerMode selects the edge/level condition that enables emission,
// mirroring the --trigger CLI option in spec §6.
type TriggerMode int

const (
	TriggerDisabled TriggerMode = iota
	TriggerLow
	TriggerHigh
	TriggerFalling
	TriggerRising
)

// Config holds the capture session's fixed, CLI-derived parameters. It is
// immutable for the lifetime of a Decoder.
type Config struct {
	Speed   Speed
	Fold    bool
	Trigger TriggerMode
	Limit   int // 0 means unlimited
}

const (
	foldLimitLSFS = 1000
	foldLimitHS   = 8000

	minKeepaliveDurationNS = 1000
	maxKeepaliveDurationNS = 2000

	lsDeltaThresholdNS = 10_000_000 // 10 ms

	updateIntervalNS = 2_000_000_000 // 2 s
)

// lsInvalid is the sentinel for "no line-state currently pending a flush",
// distinct from any of the 16 valid 4-bit line-state values.
const lsInvalid = -1

// unknown is the sentinel used for status fields before the first status
// frame has been observed.
const unknown = -1
