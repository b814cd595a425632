package capture

// info is the Annotator's (component G) single entry point for any
// synthetic message: it always flushes a pending line-state event and
// drains the fold buffer first, so that "every interesting event is
// immediately preceded by a complete drain of the fold buffer" (spec
// §8 P4), then writes the message itself and flushes the sink (spec
// §4.G, last paragraph).
func (d *Decoder) info(ts uint64, msg string) {
	d.lineStateFlush()
	d.stopFolding()
	d.rawInfo(ts, msg)
	d.emit.Flush()
}

func (d *Decoder) rawInfo(ts uint64, msg string) {
	d.emit.EmitInfo(ts, msg)
	if ts > d.tsLastEmitted {
		d.tsLastEmitted = ts
	}
}

func (d *Decoder) rawPacket(ts uint64, data []byte) {
	d.emit.EmitPacket(ts, data)
	if ts > d.tsLastEmitted {
		d.tsLastEmitted = ts
	}
}

// stopFolding drains the fold buffer, annotating the summarized count
// first (if any), matching original_source/software/capture.c's
// stop_folding. It is idempotent: called with an empty buffer and zero
// count, it does nothing.
func (d *Decoder) stopFolding() {
	count := d.foldCount
	buf := d.foldBuf

	if count == 0 && len(buf) == 0 {
		return
	}

	d.foldCount = 0
	d.foldBuf = nil

	if count > 0 {
		d.rawInfo(d.tsCur, formatFoldedCount(count))
	}

	for _, e := range buf {
		if e.keepalive {
			d.rawInfo(e.ts, "Keep-alive")
		} else {
			d.rawPacket(e.ts, e.data)
		}
	}
}

func (d *Decoder) foldPacket(ts uint64, data []byte) {
	owned := make([]byte, len(data))
	copy(owned, data)
	d.foldBuf = append(d.foldBuf, foldEntry{ts: ts, data: owned})
}

func (d *Decoder) foldKeepalive(ts, delta uint64) {
	d.foldBuf = append(d.foldBuf, foldEntry{ts: ts, keepalive: true, delta: delta})
}

// keepaliveEvent handles a recognized low-speed SE0->J keep-alive
// transition (spec §4.E, "incoming keep-alive" rules).
func (d *Decoder) keepaliveEvent(ts, delta uint64) {
	if !d.enabled {
		return
	}

	switch {
	case !d.cfg.Fold:
		d.info(ts, "Keep-alive")
	case len(d.foldBuf) != 0:
		d.foldCount++
		d.foldBuf = nil
		if d.foldCount == foldLimitLSFS {
			d.stopFolding()
		}
		d.foldKeepalive(ts, delta)
	default:
		d.foldKeepalive(ts, delta)
	}

	d.checkCaptureLimit()
}

// dataEvent handles a fully-decoded data frame: the fold engine's
// "incoming packet" rules (spec §4.E).
func (d *Decoder) dataEvent() {
	if !d.enabled {
		return
	}

	dataErr := d.crcError || d.dataError
	allowSOF := d.cfg.Speed != SpeedLow
	var pid byte
	if len(d.payload) > 0 {
		pid = d.payload[0]
	}

	d.lineStateFlush()

	if d.overflow || dataErr || len(d.foldBuf) == foldBufSize {
		d.stopFolding()
	}

	if d.overflow {
		d.info(d.tsCur, "Hardware buffer overflow")
	}
	if d.dataError {
		d.info(d.tsCur, "USB PHY error")
	}

	switch {
	case dataErr || !d.cfg.Fold:
		d.rawPacket(d.tsCur, d.payload)

	case len(d.foldBuf) != 0:
		switch {
		case pid == pidIN || pid == pidNAK:
			d.foldPacket(d.tsCur, d.payload)
		case pid == pidSOF && allowSOF:
			d.foldCount++
			d.foldBuf = nil
			limit := foldLimitLSFS
			if d.cfg.Speed == SpeedHigh {
				limit = foldLimitHS
			}
			if d.foldCount == limit {
				d.stopFolding()
			}
			d.foldPacket(d.tsCur, d.payload)
		default:
			d.stopFolding()
			d.rawPacket(d.tsCur, d.payload)
		}

	default:
		if pid == pidSOF && allowSOF {
			d.foldPacket(d.tsCur, d.payload)
		} else {
			d.rawPacket(d.tsCur, d.payload)
		}
	}

	d.checkCaptureLimit()
}
