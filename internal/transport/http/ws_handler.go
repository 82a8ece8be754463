package http

import (
	"context"
	"io"
	stdhttp "net/http"

	"github.com/cockroachdb/errors"
	"github.com/coder/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/codec"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
	"github.com/vovakirdan/wirechat-tcp/internal/transport"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WSHandler upgrades HTTP connections and runs them as chat sessions.
type WSHandler struct {
	base         context.Context
	sessions     *transport.Handler
	maxFrameSize uint32
	log          *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. Sessions run under base.
func NewWSHandler(base context.Context, sessions *transport.Handler, maxFrameSize uint32, logger *zerolog.Logger) stdhttp.Handler {
	if maxFrameSize == 0 {
		maxFrameSize = codec.DefaultMaxFrameSize
	}
	return &WSHandler{base: base, sessions: sessions, maxFrameSize: maxFrameSize, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	conn.SetReadLimit(int64(h.maxFrameSize))

	wc := &wsConn{conn: conn, addr: r.RemoteAddr}
	if err := h.sessions.Serve(h.base, wc); err != nil && !errors.Is(err, transport.ErrHandlerClosed) {
		h.log.Debug().Err(err).Str("addr", wc.addr).Msg("ws session ended with error")
	}
}

// wsConn carries one JSON request or response per text message. A normal
// close from the client reads as io.EOF.
type wsConn struct {
	conn *websocket.Conn
	addr string
}

func (c *wsConn) ReadRequest(ctx context.Context) (proto.Request, error) {
	var req proto.Request
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			return req, errors.Mark(err, io.EOF)
		}
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, errors.Mark(errors.Wrap(err, "decode ws message"), codec.ErrMalformed)
	}
	return req, nil
}

func (c *wsConn) WriteResponse(ctx context.Context, resp proto.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return errors.Wrap(err, "encode ws message")
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) RemoteAddr() string {
	return c.addr
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
