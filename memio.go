package transcode

import (
	"fmt"
	"io"

	"code.cloudfoundry.org/bytefmt"
)

// Seek modes understood by Source on top of io.SeekStart/Current/End.
const (
	SeekSize  = 0x10000 // Return the buffer size, cursor unchanged
	seekForce = 0x20000 // Hint from the demuxer, ignored
)

// Source is a read/seek cursor over a borrowed byte slice.
// The slice is never copied or modified.
type Source struct {
	data []byte
	pos  int64
}

// NewSource wraps data. The caller must not modify data while the Source is in use.
func NewSource(data []byte) *Source {
	return &Source{data: data}
}

// Read copies up to len(p) bytes from the cursor.
// It returns io.EOF once the cursor has reached the end of the buffer.
func (s *Source) Read(p []byte) (int, error) {
	if s.pos >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

// Seek moves the cursor. whence is io.SeekStart, io.SeekCurrent, io.SeekEnd
// or SeekSize. Positions before the start or past the end are rejected.
func (s *Source) Seek(offset int64, whence int) (int64, error) {
	size := int64(len(s.data))

	var target int64
	switch whence &^ seekForce {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		target = size + offset
	case SeekSize:
		return size, nil
	default:
		return 0, fmt.Errorf("%w: invalid whence %d", ErrIO, whence)
	}

	if target < 0 || target > size {
		return 0, fmt.Errorf("%w: seek to %d outside [0, %d]", ErrIO, target, size)
	}
	s.pos = target
	return target, nil
}

// Size returns the length of the underlying buffer.
func (s *Source) Size() int64 { return int64(len(s.data)) }

// Sink is an append-only growable buffer.
// Capacity grows to cap*2+len(p) when p does not fit and never shrinks.
type Sink struct {
	buf   []byte
	limit int
	err   error
}

// NewSink creates an empty sink. A positive limit caps the capacity the sink
// may grow to; a growth step that would pass it is an allocation failure,
// even when the bytes themselves would still fit.
func NewSink(limit int) *Sink {
	return &Sink{limit: limit}
}

// Write appends p. After the first allocation failure every call fails.
func (s *Sink) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if len(p) > cap(s.buf)-len(s.buf) {
		if err := s.grow(len(p)); err != nil {
			s.err = err
			return 0, err
		}
	}
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *Sink) grow(n int) error {
	newCap := cap(s.buf)*2 + n
	if s.limit > 0 && newCap > s.limit {
		return fmt.Errorf("%w: output would exceed %s", ErrIO, bytefmt.ByteSize(uint64(s.limit)))
	}
	buf := make([]byte, len(s.buf), newCap)
	copy(buf, s.buf)
	s.buf = buf
	return nil
}

// Len returns the number of bytes written.
func (s *Sink) Len() int { return len(s.buf) }

// Cap returns the current capacity.
func (s *Sink) Cap() int { return cap(s.buf) }

// Err returns the allocation failure that stopped the sink, if any.
func (s *Sink) Err() error { return s.err }

// Bytes returns the written bytes. The slice aliases the sink's buffer.
func (s *Sink) Bytes() []byte { return s.buf }

// reset drops the buffer so a failed run hands nothing back.
func (s *Sink) reset() { s.buf = nil }
