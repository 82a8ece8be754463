package codec

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

// DefaultMaxFrameSize bounds a single frame body when none is configured.
const DefaultMaxFrameSize uint32 = 64 * 1024

const headerSize = 4

// Framer splits a byte stream into frames: a 4-byte big-endian length followed
// by that many body bytes.
type Framer struct {
	MaxFrameSize uint32
}

// NewFramer creates a framer. maxFrameSize 0 selects DefaultMaxFrameSize.
func NewFramer(maxFrameSize uint32) *Framer {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Framer{MaxFrameSize: maxFrameSize}
}

// WriteFrame writes body as one frame using a single Write call.
func (f *Framer) WriteFrame(w io.Writer, body []byte) error {
	length := uint32(len(body))
	if length > f.maxSize() {
		return errors.Wrapf(ErrFrameTooLarge, "frame size %d exceeds max %d", length, f.maxSize())
	}

	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(buf[:headerSize], length)
	copy(buf[headerSize:], body)

	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "write frame")
	}
	return nil
}

// ReadFrame reads the next frame body. An oversized frame is skipped so the
// stream stays aligned on the following frame, and ErrFrameTooLarge is returned.
func (f *Framer) ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > f.maxSize() {
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return nil, errors.Wrap(err, "discard oversized frame")
		}
		return nil, errors.Wrapf(ErrFrameTooLarge, "frame size %d exceeds max %d", length, f.maxSize())
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "read frame body")
	}
	return body, nil
}

func (f *Framer) maxSize() uint32 {
	if f == nil || f.MaxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return f.MaxFrameSize
}
