package tcp

import (
	"context"
	"net"

	"github.com/vovakirdan/wirechat-tcp/internal/codec"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

// Conn adapts a framed TCP stream to transport.Conn.
type Conn struct {
	nc    net.Conn
	codec *codec.Codec
}

// NewConn wraps nc. maxFrameSize 0 selects the codec default.
func NewConn(nc net.Conn, maxFrameSize uint32) *Conn {
	return &Conn{nc: nc, codec: codec.New(nc, maxFrameSize)}
}

// ReadRequest blocks until a frame arrives. Cancellation is delivered by
// closing the connection.
func (c *Conn) ReadRequest(ctx context.Context) (proto.Request, error) {
	var req proto.Request
	if err := ctx.Err(); err != nil {
		return req, err
	}
	err := c.codec.Decode(&req)
	return req, err
}

// WriteResponse writes one frame, honouring the context deadline.
func (c *Conn) WriteResponse(ctx context.Context, resp proto.Response) error {
	deadline, _ := ctx.Deadline()
	if err := c.nc.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.codec.Encode(resp)
}

func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

func (c *Conn) Close() error {
	return c.nc.Close()
}
