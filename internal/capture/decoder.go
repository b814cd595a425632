// Package capture implements the streaming byte-level decoder, event
// model, trigger gate, and fold engine described in the core
// specification: it turns the device's proprietary framed byte stream
// into pcapng-ready packet and informational events.
package capture

import "fmt"

// Decoder owns the entire capture session's mutable state (spec §9's
// "gather it into a single CaptureState value" direction) and is driven
// byte-by-byte from the bulk stream pump. It is not safe for concurrent
// use: exactly one goroutine (the pump's completion-processing call
// site) may call Feed at a time.
type Decoder struct {
	cfg  Config
	emit Emitter

	// Framing (component B).
	header      rawHeader
	expectedLen int
	inHeader    bool
	payload     []byte
	payloadPos  int

	toggleExpected int
	tickHi         uint64
	tsLastEmitted  uint64
	tsCur          uint64

	// Data header fields decoded for the frame currently in progress.
	overflow  bool
	crcError  bool
	dataError bool

	// Event model (component C) + trigger gate (component D).
	ls, vbus, trigger int
	speed             Speed
	speedSeen         bool
	savedLS           int
	savedTS           uint64
	enabled           bool

	// Fold engine (component E).
	foldBuf   []foldEntry
	foldCount int

	remaining int // packets and keep-alives left before --limit is hit; <0 = unlimited

	// Done is set once a fatal (desync) or normal (limit reached) terminal
	// condition has occurred; Feed becomes a no-op afterwards.
	Done     bool
	LimitHit bool
}

// NewDecoder creates a Decoder for the given configuration and output
// sink. The caller must call Start before feeding any bytes.
func NewDecoder(cfg Config, emit Emitter) *Decoder {
	remaining := -1
	if cfg.Limit > 0 {
		remaining = cfg.Limit
	}
	return &Decoder{
		cfg:       cfg,
		emit:      emit,
		inHeader:  true,
		ls:        unknown,
		vbus:      unknown,
		trigger:   unknown,
		savedLS:   lsInvalid,
		remaining: remaining,
	}
}

// Start emits the initial trigger-state informational event, matching
// original_source/software/capture.c's capture_start.
func (d *Decoder) Start() {
	if d.cfg.Trigger == TriggerDisabled {
		d.enabled = true
		d.info(0, "Starting capture")
	} else {
		d.info(0, "Waiting for a trigger")
	}
}

// Feed consumes bytes produced by the bulk stream pump, driving the
// header-accumulating / payload-accumulating state machine described in
// spec §4.B one byte at a time.
func (d *Decoder) Feed(data []byte) {
	for _, b := range data {
		if d.Done {
			return
		}
		d.feedByte(b)
	}
}

func (d *Decoder) feedByte(b byte) {
	if d.inHeader {
		if d.header.n == 0 {
			if d.header.isStatusByte(b) {
				d.expectedLen = statusHeaderSize
			} else {
				d.expectedLen = dataHeaderSize
			}
		}
		d.header.bytes[d.header.n] = b
		d.header.n++
		if d.header.n < d.expectedLen {
			return
		}
		d.headerComplete()
		return
	}

	d.payload[d.payloadPos] = b
	d.payloadPos++
	if d.payloadPos < len(d.payload) {
		return
	}
	d.inHeader = true
	d.header.n = 0
	d.dataEvent()
}

// headerComplete runs once the full 4- or 7-byte header has been
// accumulated: steps 1-7 of spec §4.B.
func (d *Decoder) headerComplete() {
	h := &d.header

	toggle := h.toggle()
	zero := h.zero()

	if toggle != d.toggleExpected || zero != 0 {
		d.checkHeaderFailed(toggle, zero)
		return
	}

	if h.tsOverflow() {
		d.tickHi += 0x100000
	}
	d.tsCur = ((d.tickHi | uint64(h.lowTicks())) * 100) / 6
	d.toggleExpected = 1 - toggle

	if d.tsCur > d.tsLastEmitted && d.tsCur-d.tsLastEmitted > updateIntervalNS {
		if d.enabled {
			d.info(d.tsCur, "Periodic update")
		}
	}

	if h.isStatus() {
		ls, vbus, trigger, speed := h.statusFields()
		d.inHeader = true
		d.header.n = 0
		d.statusEvent(ls, vbus, trigger, speed)
		return
	}

	size, overflow, crcError, dataError, _ := h.dataFields()
	if size < dataHeaderSize || size > maxDataSize {
		d.info(d.tsCur, fmt.Sprintf("Error: invalid data size (%d)", size))
		d.desyncError()
		return
	}

	d.overflow, d.crcError, d.dataError = overflow, crcError, dataError
	payloadLen := size - dataHeaderSize
	if payloadLen == 0 {
		// spec §4.B step 7: a zero-length payload is handed to the fold
		// engine immediately rather than waiting for a payload that will
		// never arrive.
		d.inHeader = true
		d.header.n = 0
		d.payload = nil
		d.dataEvent()
		return
	}

	d.inHeader = false
	d.payload = make([]byte, payloadLen)
	d.payloadPos = 0
}

func (h *rawHeader) isStatusByte(b byte) bool {
	return 0 == (b & headerStatus)
}

func (d *Decoder) checkHeaderFailed(toggle, zero int) {
	if toggle != d.toggleExpected {
		d.info(d.tsCur, fmt.Sprintf("Error: received toggle value %d, expected %d", toggle, d.toggleExpected))
	}
	if zero != 0 {
		d.info(d.tsCur, "Error: zero bit in the header is not zero")
	}
	d.desyncError()
}

// desyncError implements spec §4.B's fatal desync policy: emit the two
// annotated info events then stop the capture permanently.
func (d *Decoder) desyncError() {
	d.info(d.tsCur, "Error: protocol desynchronization, stopping the capture")
	d.info(d.tsCur, "Packet header: "+d.header.hex())
	d.Done = true
}
