package capture

import "fmt"

// formatLineState renders the "Line state: ..." message for the line
// state that was active from savedTS until ts, per spec §4.G. speed is
// the configured capture speed, which swaps the J/K labels for
// Low-Speed captures exactly as the device's D+/D- roles are swapped.
func formatLineState(savedLS int, ts, savedTS uint64, speed Speed) string {
	dp := (savedLS >> 0) & 3
	dm := (savedLS >> 2) & 3
	delta := ts - savedTS

	msg := "Line state: "
	level := 0

	switch {
	case dp == 0 && dm == 0:
		msg += "SE0"
	case dp == 0:
		if speed == SpeedLow {
			msg += "J"
		} else {
			msg += "K"
		}
		level = dm
	case dm == 0:
		if speed == SpeedLow {
			msg += "K"
		} else {
			msg += "J"
		}
		level = dp
	default:
		msg += fmt.Sprintf("Undefined (DP=%d / DM=%d)", dp, dm)
	}

	switch level {
	case 1:
		msg += " [both]"
	case 2:
		msg += " [single]"
	}

	if delta < lsDeltaThresholdNS {
		msg += " (" + formatDuration(delta) + ")"
	}

	return msg
}

// formatDuration renders a nanosecond delta with 2 decimal places in the
// coarsest of ns/us/ms that keeps the value >= 1, matching the original's
// printf-style "%.2f ns"/"%.2f us"/"%.2f ms" thresholds.
func formatDuration(deltaNS uint64) string {
	switch {
	case deltaNS < 1_000:
		return fmt.Sprintf("%.2f ns", float64(deltaNS))
	case deltaNS < 1_000_000:
		return fmt.Sprintf("%.2f us", float64(deltaNS)/1_000)
	default:
		return fmt.Sprintf("%.2f ms", float64(deltaNS)/1_000_000)
	}
}

func formatFoldedCount(count int) string {
	if count == 1 {
		return "Folded 1 empty frame"
	}
	return fmt.Sprintf("Folded %d empty frames", count)
}
