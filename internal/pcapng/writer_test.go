package pcapng

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSink is an in-memory Sink for assembly tests.
type memSink struct {
	buf     bytes.Buffer
	flushes int
}

func (s *memSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *memSink) Flush() error                { s.flushes++; return nil }

func readBlocks(t *testing.T, data []byte) [][]byte {
	t.Helper()
	var blocks [][]byte
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), 12)
		length := binary.LittleEndian.Uint32(data[4:8])
		require.LessOrEqual(t, int(length), len(data))
		blocks = append(blocks, data[:length])
		data = data[length:]
	}
	return blocks
}

func TestNewWritesThreeHeaderBlocks(t *testing.T) {
	sink := &memSink{}
	w, err := New(sink, LinkUSB20FullSpeed)
	require.NoError(t, err)
	require.NoError(t, w.Err())

	blocks := readBlocks(t, sink.buf.Bytes())
	require.Len(t, blocks, 3)

	assert.Equal(t, uint32(blockTypeSHB), binary.LittleEndian.Uint32(blocks[0][0:4]))
	assert.Equal(t, uint32(blockTypeIDB), binary.LittleEndian.Uint32(blocks[1][0:4]))
	assert.Equal(t, uint32(blockTypeIDB), binary.LittleEndian.Uint32(blocks[2][0:4]))
	assert.Equal(t, uint16(LinkUSB20FullSpeed), binary.LittleEndian.Uint16(blocks[1][8:10]))
	assert.Equal(t, uint16(LinkWiresharkUpperPDU), binary.LittleEndian.Uint16(blocks[2][8:10]))

	for _, b := range blocks {
		length := binary.LittleEndian.Uint32(b[4:8])
		trailer := binary.LittleEndian.Uint32(b[len(b)-4:])
		assert.Equal(t, length, trailer, "block length must be patched at both ends")
		assert.Zero(t, len(b)%4, "blocks must be 32-bit aligned")
	}
}

func TestEmitPacketRoundTrips(t *testing.T) {
	sink := &memSink{}
	w, err := New(sink, LinkUSB20FullSpeed)
	require.NoError(t, err)
	sink.buf.Reset()

	payload := []byte{0x2d, 0xaa, 0xbb, 0xcc}
	w.EmitPacket(12345, payload)
	require.NoError(t, w.Err())

	blocks := readBlocks(t, sink.buf.Bytes())
	require.Len(t, blocks, 1)

	b := blocks[0]
	assert.Equal(t, uint32(blockTypeEPB), binary.LittleEndian.Uint32(b[0:4]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(b[8:12])) // interface 0
	tsHigh := binary.LittleEndian.Uint32(b[12:16])
	tsLow := binary.LittleEndian.Uint32(b[16:20])
	ts := (uint64(tsHigh) << 32) | uint64(tsLow)
	assert.Equal(t, uint64(12345), ts)

	capLen := binary.LittleEndian.Uint32(b[20:24])
	assert.Equal(t, uint32(len(payload)), capLen)
	assert.True(t, bytes.Contains(b, payload))
}

func TestEmitInfoUsesInterfaceOneAndUpperPDUHeader(t *testing.T) {
	sink := &memSink{}
	w, err := New(sink, LinkUSB20FullSpeed)
	require.NoError(t, err)
	sink.buf.Reset()

	w.EmitInfo(99, "Starting capture")
	require.NoError(t, w.Err())

	blocks := readBlocks(t, sink.buf.Bytes())
	require.Len(t, blocks, 1)
	b := blocks[0]
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(b[8:12])) // interface 1
	assert.True(t, bytes.Contains(b, []byte("Starting capture")))
	assert.True(t, bytes.Contains(b, upperPDUHeader[:]))
}

func TestFlushDelegatesToSink(t *testing.T) {
	sink := &memSink{}
	w, err := New(sink, LinkUSB20FullSpeed)
	require.NoError(t, err)

	before := sink.flushes
	w.Flush()
	assert.Equal(t, before+1, sink.flushes)
}

type errSink struct{}

func (errSink) Write(p []byte) (int, error) { return 0, bytes.ErrTooLarge }
func (errSink) Flush() error                { return nil }

func TestWriteErrorIsLatched(t *testing.T) {
	_, err := New(errSink{}, LinkUSB20FullSpeed)
	require.Error(t, err)

	w, err := New(&memSink{}, LinkUSB20FullSpeed)
	require.NoError(t, err)
	w.sink = errSink{}
	w.EmitPacket(0, []byte{0x2d})
	assert.ErrorIs(t, w.Err(), bytes.ErrTooLarge)
}
