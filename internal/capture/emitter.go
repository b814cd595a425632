package capture

// Emitter receives the decoder's output: USB packets destined for
// interface 0 of the pcapng capture, and synthetic informational strings
// destined for interface 1. Implemented by internal/pcapng.Writer;
// decoupled here so the decoder, event model, and fold engine can be
// tested without a pcapng file on disk.
type Emitter interface {
	EmitPacket(ts uint64, data []byte)
	EmitInfo(ts uint64, msg string)
	Flush()
}

// foldEntry is one buffered candidate-foldable event. A negative size
// marks a keep-alive placeholder carrying its delta, matching the
// original firmware's own "size < 0 means keep-alive" encoding (spec
// §4.E); Go renders it as an explicit tag instead of overloading size.
type foldEntry struct {
	ts        uint64
	keepalive bool
	delta     uint64 // valid when keepalive
	data      []byte // valid when !keepalive; owned copy
}
