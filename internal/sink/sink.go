// Package sink provides the write-only byte destination for a capture:
// a regular pcapng file, or a named pipe feeding a live analyzer (spec
// §4.H / §6 "pcapng output").
package sink

import (
	"fmt"
	"os"
)

// Sink is a write-only byte stream that can be flushed. Writes are
// expected to be whole pcapng blocks; a short write is treated as fatal
// by the caller (spec §7, error kind 4).
type Sink struct {
	file *os.File
	pipe bool
}

// Open opens path for writing. If the path already exists and is a named
// pipe (FIFO), it is opened for writing without truncation, matching the
// extcap contract where the analyzer GUI creates the FIFO and waits for a
// writer; otherwise it is created/truncated as a regular file.
func Open(path string) (*Sink, error) {
	info, statErr := os.Stat(path)
	isFIFO := statErr == nil && info.Mode()&os.ModeNamedPipe != 0

	var f *os.File
	var err error
	if isFIFO {
		f, err = os.OpenFile(path, os.O_WRONLY, 0)
	} else {
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("open sink %q: %w", path, err)
	}

	return &Sink{file: f, pipe: isFIFO}, nil
}

// Write writes a whole pcapng block. A short write (less than len(p)
// written with a nil error) is reported as an error: pcapng blocks are
// never partially useful.
func (s *Sink) Write(p []byte) (int, error) {
	n, err := s.file.Write(p)
	if err == nil && n != len(p) {
		return n, fmt.Errorf("short write: wrote %d of %d bytes", n, len(p))
	}
	return n, err
}

// Flush forces buffered data to the underlying descriptor. On a FIFO,
// fsync has nothing durable to sync and commonly returns EINVAL; that is
// not an error condition here, since the write itself already delivered
// the bytes to the reader.
func (s *Sink) Flush() error {
	if s.pipe {
		return nil
	}
	return s.file.Sync()
}

// Close closes the underlying file or pipe.
func (s *Sink) Close() error {
	return s.file.Close()
}
