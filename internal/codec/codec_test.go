package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Op   string `json:"op"`
	Text string `json:"text"`
}

func rawFrame(body []byte) []byte {
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	return buf
}

func TestCodecOverPipe(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := New(server, 0)
	cc := New(client, 0)

	go func() {
		_ = cc.Encode(sample{Op: "msg", Text: "hello"})
		_ = cc.Encode(sample{Op: "msg", Text: "world"})
	}()

	var got sample
	require.NoError(t, sc.Decode(&got))
	assert.Equal(t, "hello", got.Text)
	require.NoError(t, sc.Decode(&got))
	assert.Equal(t, "world", got.Text)
}

func TestDecodeHandlesMessagesSplitAcrossReads(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(rawFrame([]byte(`{"op":"a","text":"one"}`)))
	stream.Write(rawFrame([]byte(`{"op":"b","text":"two"}`)))

	// iotest-style reader returning one byte at a time.
	c := New(struct {
		io.Reader
		io.Writer
	}{Reader: &oneByteReader{r: &stream}, Writer: io.Discard}, 0)

	var got sample
	require.NoError(t, c.Decode(&got))
	assert.Equal(t, "one", got.Text)
	require.NoError(t, c.Decode(&got))
	assert.Equal(t, "two", got.Text)

	err := c.Decode(&got)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeMalformedKeepsStreamAligned(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(rawFrame([]byte(`{not json`)))
	stream.Write(rawFrame([]byte(`{"op":"ok","text":"after"}`)))

	c := New(&readWriter{r: &stream}, 0)

	var got sample
	err := c.Decode(&got)
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
	assert.True(t, errors.Is(err, ErrMalformed))

	require.NoError(t, c.Decode(&got))
	assert.Equal(t, "after", got.Text)
}

func TestDecodeOversizedFrameIsSkipped(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(rawFrame(bytes.Repeat([]byte("x"), 128)))
	stream.Write(rawFrame([]byte(`{"op":"ok","text":"small"}`)))

	c := New(&readWriter{r: &stream}, 64)

	var got sample
	err := c.Decode(&got)
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.True(t, IsProtocolError(err))

	require.NoError(t, c.Decode(&got))
	assert.Equal(t, "small", got.Text)
}

func TestDecodeTruncatedBodyIsTransportError(t *testing.T) {
	frame := rawFrame([]byte(`{"op":"cut"}`))
	c := New(&readWriter{r: bytes.NewReader(frame[:len(frame)-3])}, 0)

	var got sample
	err := c.Decode(&got)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.False(t, IsProtocolError(err))
}

func TestEncodeRejectsOversizedBody(t *testing.T) {
	var out bytes.Buffer
	c := New(&readWriter{r: &bytes.Buffer{}, w: &out}, 16)

	err := c.Encode(sample{Op: "msg", Text: "this body is longer than sixteen bytes"})
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, out.Len())
}

type oneByteReader struct {
	r io.Reader
}

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

type readWriter struct {
	r io.Reader
	w io.Writer
}

func (rw *readWriter) Read(p []byte) (int, error) { return rw.r.Read(p) }

func (rw *readWriter) Write(p []byte) (int, error) {
	if rw.w == nil {
		return len(p), nil
	}
	return rw.w.Write(p)
}
