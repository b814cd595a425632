// Package pcapng implements the minimal subset of the pcapng block format
// this capture pipeline needs to emit: a Section Header Block, two
// Interface Description Blocks (captured USB traffic and synthetic
// out-of-band info strings), and Enhanced Packet Blocks for each.
package pcapng

import (
	"encoding/binary"
	"io"
)

// Link-type and block-type constants from the pcapng / tcpdump link-type
// registry, matching original_source/software/capture.c.
const (
	LinkUSB20          = 288
	LinkUSB20LowSpeed  = 293
	LinkUSB20FullSpeed = 294
	LinkUSB20HighSpeed = 295
	LinkWiresharkUpperPDU = 252

	blockTypeSHB = 0x0a0d0d0a
	blockTypeIDB = 1
	blockTypeEPB = 6

	byteOrderMagic = 0x1a2b3c4d
)

// upperPDUHeader is the fixed 14-byte Wireshark Upper PDU Exported PDU
// header tagging every info-interface EPB as a "syslog" message, matching
// write_str in the original source.
var upperPDUHeader = [14]byte{0, 12, 0, 6, 's', 'y', 's', 'l', 'o', 'g', 0, 0, 0, 0}

// Writer assembles pcapng blocks into a scratch buffer and writes each one
// atomically to the underlying sink, matching the "assemble then one
// write()" approach spec §9 calls out under "pcapng block assembly".
type Writer struct {
	sink Sink
	buf  []byte
	err  error
}

// Sink is the minimal write/flush contract the writer needs; implemented
// by internal/sink.
type Sink interface {
	io.Writer
	Flush() error
}

// New creates a Writer and immediately emits the Section Header Block and
// the two Interface Description Blocks, in the fixed order pcapng readers
// expect: SHB, IDB(usb), IDB(info).
func New(sink Sink, usbLinkType int) (*Writer, error) {
	w := &Writer{sink: sink}

	w.writeSectionHeader()
	if err := w.finishBlock(); err != nil {
		return nil, err
	}

	w.writeInterfaceDescription(usbLinkType, "usb", "Hardware USB interface")
	if err := w.finishBlock(); err != nil {
		return nil, err
	}

	w.writeInterfaceDescription(LinkWiresharkUpperPDU, "info", "Out of band information")
	if err := w.finishBlock(); err != nil {
		return nil, err
	}

	return w, nil
}

// EmitPacket writes a captured USB packet as an EPB on interface 0.
func (w *Writer) EmitPacket(ts uint64, data []byte) {
	w.beginBlock(0, ts, len(data))
	w.putData(data)
	w.pad()
	w.putOption(0, "")
	w.finishBlock()
}

// EmitInfo writes a synthetic informational string as an EPB on
// interface 1, tagged with the fixed Upper PDU "syslog" header.
func (w *Writer) EmitInfo(ts uint64, msg string) {
	payload := append(append([]byte(nil), upperPDUHeader[:]...), []byte(msg)...)
	w.beginBlock(1, ts, len(payload))
	w.putData(payload)
	w.pad()
	w.finishBlock()
}

// Flush flushes the underlying sink so the capture is visible promptly to
// the consuming analyzer (spec §4.H).
func (w *Writer) Flush() {
	_ = w.sink.Flush()
}

func (w *Writer) beginBlock(iface int, ts uint64, size int) {
	w.putWord(blockTypeEPB)
	w.putWord(0) // block total length, patched in finishBlock
	w.putWord(uint32(iface))
	w.putWord(uint32(ts >> 32))
	w.putWord(uint32(ts))
	w.putWord(uint32(size))
	w.putWord(uint32(size))
}

func (w *Writer) writeSectionHeader() {
	w.putWord(blockTypeSHB)
	w.putWord(0) // block length placeholder
	w.putWord(byteOrderMagic)
	w.putHalf(1) // major version
	w.putHalf(0) // minor version
	w.putWord(0xffffffff) // section length unknown (low)
	w.putWord(0xffffffff) // section length unknown (high)
	w.putOption(0x0002, "USB Sniffer by Alex Taradov")
	w.putOption(0x0000, "")
}

func (w *Writer) writeInterfaceDescription(linkType int, name, description string) {
	w.putWord(blockTypeIDB)
	w.putWord(0) // block length placeholder
	w.putHalf(uint16(linkType))
	w.putHalf(0) // reserved
	w.putWord(0xffff) // snap length
	w.putOption(0x0002, name)
	w.putOption(0x0003, description)
	w.putTSResol()
	w.putOption(0x0000, "")
}

// putTSResol writes the if_tsresol option (code 9, length 1, value 9 =
// 10^-9 second resolution): a raw single-byte value, not a string, so it
// does not go through putOption.
func (w *Writer) putTSResol() {
	w.putHalf(9) // option code: if_tsresol
	w.putHalf(1) // option length: 1 byte
	w.buf = append(w.buf, 9) // value: 10^-9
	w.pad()
}

func (w *Writer) putHalf(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) putWord(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) putData(data []byte) {
	w.buf = append(w.buf, data...)
}

func (w *Writer) pad() {
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) putOption(code uint16, value string) {
	w.putHalf(code)
	w.putHalf(uint16(len(value)))
	w.putData([]byte(value))
	w.pad()
}

// finishBlock patches the block's total length into both the header and
// trailer length fields (the pcapng block format's self-describing
// redundancy) and writes the assembled block in one call, matching spec
// §9's "patch in two places, then perform one write" guidance. Any write
// error is latched and surfaced through Err, since EmitPacket/EmitInfo
// themselves cannot return one without complicating every call site in
// the decoder with error plumbing for a condition (spec §7 kind 4) that
// is always fatal anyway.
func (w *Writer) finishBlock() error {
	total := len(w.buf) + 4 // + trailing total-length field
	binary.LittleEndian.PutUint32(w.buf[4:8], uint32(total))
	w.putWord(uint32(total))

	_, err := w.sink.Write(w.buf)
	w.buf = w.buf[:0]
	if err != nil && w.err == nil {
		w.err = err
	}
	return err
}

// Err returns the first sink write error encountered, if any. The
// capture loop checks this after each processed transfer and stops on a
// non-nil result.
func (w *Writer) Err() error {
	return w.err
}
