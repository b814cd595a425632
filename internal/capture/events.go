package capture

import "fmt"

// statusEvent implements the event model (component C) and trigger gate
// (component D): it diffs the newly observed status fields against the
// last observed ones and emits the corresponding informational events,
// following original_source/software/capture.c's status_event except
// that a keep-alive is stamped with the current frame's timestamp.
func (d *Decoder) statusEvent(ls, vbus, trigger int, speed Speed) {
	if d.trigger != trigger {
		wasEnabled := d.enabled

		switch d.cfg.Trigger {
		case TriggerDisabled:
			d.enabled = true
		case TriggerLow:
			d.enabled = trigger == 0
		case TriggerHigh:
			d.enabled = trigger == 1
		case TriggerFalling:
			d.enabled = d.enabled || (trigger == 0 && d.trigger == 1)
		case TriggerRising:
			d.enabled = d.enabled || (trigger == 1 && d.trigger == 0)
		}

		d.trigger = trigger
		d.info(d.tsCur, fmt.Sprintf("Trigger input = %d", d.trigger))

		if d.enabled && !wasEnabled {
			d.info(d.tsCur, "Starting capture")
		} else if wasEnabled && !d.enabled {
			d.info(d.tsCur, "Waiting for a trigger")
		}
	}

	if d.vbus != vbus {
		d.vbus = vbus
		if d.vbus != 0 {
			d.info(d.tsCur, "VBUS ON")
		} else {
			d.info(d.tsCur, "VBUS OFF")
		}
	}

	if !d.speedSeen || d.speed != speed {
		d.speed = speed
		d.speedSeen = true
		if d.enabled {
			if speed == SpeedReset {
				d.info(d.tsCur, "--- Bus Reset ---")
			} else {
				d.info(d.tsCur, fmt.Sprintf("Detected speed: %s", speed))
			}
		}
	}

	if d.ls != ls {
		delta := d.tsCur - d.savedTS
		handle := true

		d.ls = ls

		if d.cfg.Speed == SpeedLow && d.savedLS == 0 /* LS_SE0 */ && ls == 12 /* LS_J3 */ &&
			delta > minKeepaliveDurationNS && delta < maxKeepaliveDurationNS {
			d.savedLS = lsInvalid
			// Recorded at the timestamp the keep-alive was recognized
			// (the J transition), not the SE0 that preceded it.
			d.keepaliveEvent(d.tsCur, delta)
			handle = false
		}

		if handle {
			d.lineStateFlush()
			d.savedLS = ls
			d.savedTS = d.tsCur
		}
	}
}

// lineStateFlush emits the pending line-state event, if any, and clears
// it. Called both from the event model (on a new status transition) and
// from the fold engine/annotator before any packet or info event, so
// that a line-state event always precedes whatever follows it in the
// pcapng file (spec §4.G).
func (d *Decoder) lineStateFlush() {
	if d.savedLS == lsInvalid {
		return
	}
	msg := formatLineState(d.savedLS, d.tsCur, d.savedTS, d.cfg.Speed)
	savedTS := d.savedTS
	d.savedLS = lsInvalid
	d.rawInfo(savedTS, msg)
}

// checkCaptureLimit decrements the configured --limit counter and
// requests a clean stop once it reaches zero (spec §4.E, final
// paragraph).
func (d *Decoder) checkCaptureLimit() {
	if d.remaining < 0 {
		return
	}
	d.remaining--
	if d.remaining == 0 {
		d.info(d.tsCur, "Capture limit reached")
		d.Done = true
		d.LimitHit = true
	}
}
