// Package codec frames JSON messages over a byte stream.
//
// Each message is one frame: a 4-byte big-endian body length followed by the
// serialized body. Decode failures are split into protocol errors (the frame
// was read but is unusable, the stream is still aligned) and transport errors
// (the stream itself failed).
package codec

import (
	"bufio"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	// ErrFrameTooLarge reports a frame whose declared length exceeds the limit.
	ErrFrameTooLarge = errors.New("codec: frame too large")
	// ErrMalformed reports a frame body that could not be decoded.
	ErrMalformed = errors.New("codec: malformed message")
)

// IsProtocolError reports whether err concerns a single bad frame rather than
// the underlying stream.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrFrameTooLarge)
}

// Codec reads and writes framed messages on one stream. Reads must come from a
// single goroutine; writes may be concurrent.
type Codec struct {
	r          *bufio.Reader
	w          io.Writer
	framer     *Framer
	serializer Serializer

	wmu sync.Mutex
}

// New wraps rw. maxFrameSize 0 selects DefaultMaxFrameSize.
func New(rw io.ReadWriter, maxFrameSize uint32) *Codec {
	return NewWithSerializer(rw, maxFrameSize, JSONSerializer{})
}

// NewWithSerializer wraps rw using a custom body serializer.
func NewWithSerializer(rw io.ReadWriter, maxFrameSize uint32, s Serializer) *Codec {
	return &Codec{
		r:          bufio.NewReader(rw),
		w:          rw,
		framer:     NewFramer(maxFrameSize),
		serializer: s,
	}
}

// Decode reads the next frame into v.
func (c *Codec) Decode(v any) error {
	body, err := c.framer.ReadFrame(c.r)
	if err != nil {
		return err
	}
	if err := c.serializer.Unmarshal(body, v); err != nil {
		return errors.Mark(errors.Wrap(err, "decode frame body"), ErrMalformed)
	}
	return nil
}

// Encode serializes v and writes it as one frame.
func (c *Codec) Encode(v any) error {
	body, err := c.serializer.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode frame body")
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.framer.WriteFrame(c.w, body)
}
