// Package client is a Go client for the chat server's TCP protocol.
package client

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/codec"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

// ErrClosed is returned for requests on a closed client.
var ErrClosed = errors.New("client: connection closed")

// ReplyError is a bad_request reply from the server.
type ReplyError struct {
	Op      string
	Code    string
	Message string
}

func (e *ReplyError) Error() string {
	return e.Op + ": " + e.Message
}

// Options tune dialing and buffering. Zero values select defaults.
type Options struct {
	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration
	// MaxRetryTime bounds the whole dial including retries. 0 disables retries.
	MaxRetryTime time.Duration
	MaxFrameSize uint32
	// IncomingBuffer is the number of undelivered messages kept before new
	// ones are dropped.
	IncomingBuffer int
	Logger         *zerolog.Logger
}

// Client holds one connection. Requests are serialized; replies are matched
// to requests by order, pushed messages go to Incoming.
type Client struct {
	nc    net.Conn
	codec *codec.Codec
	log   *zerolog.Logger

	reqMu    sync.Mutex
	replies  chan proto.Response
	incoming chan proto.IncomingMessage

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// Dial connects to addr, retrying with exponential backoff until
// opts.MaxRetryTime elapses or ctx is done.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.IncomingBuffer <= 0 {
		opts.IncomingBuffer = 64
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	var nc net.Conn
	connect := func() error {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		nc = c
		return nil
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if opts.MaxRetryTime > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 50 * time.Millisecond
		exp.MaxInterval = 2 * time.Second
		exp.MaxElapsedTime = opts.MaxRetryTime
		policy = exp
	}
	notify := func(err error, wait time.Duration) {
		opts.Logger.Debug().Err(err).Dur("retry_in", wait).Str("addr", addr).Msg("dial failed")
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	c := &Client{
		nc:       nc,
		codec:    codec.New(nc, opts.MaxFrameSize),
		log:      opts.Logger,
		replies:  make(chan proto.Response, 1),
		incoming: make(chan proto.IncomingMessage, opts.IncomingBuffer),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Incoming yields messages pushed by other users.
func (c *Client) Incoming() <-chan proto.IncomingMessage {
	return c.incoming
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, nil while it is open or after a clean close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Register claims name for this connection.
func (c *Client) Register(ctx context.Context, name string) error {
	_, err := c.do(ctx, proto.OpRegisterUser, proto.RegisterUserData{Username: name})
	return err
}

// Broadcast sends content to every other registered user.
func (c *Client) Broadcast(ctx context.Context, content string) error {
	return c.Send(ctx, "", content)
}

// Send delivers content to recipient, or to everyone when recipient is empty.
func (c *Client) Send(ctx context.Context, recipient, content string) error {
	_, err := c.do(ctx, proto.OpSendMessage, proto.SendMessageData{Recipient: recipient, Content: content})
	return err
}

// Users lists registered users, or only name when it is not empty.
func (c *Client) Users(ctx context.Context, name string) ([]proto.UserEntry, error) {
	resp, err := c.do(ctx, proto.OpGetUsers, proto.GetUsersData{Username: name})
	if err != nil {
		return nil, err
	}
	users, err := resp.Users()
	return users, errors.Wrap(err, "decode users")
}

// SetStatus changes this user's presence (online, busy, offline).
func (c *Client) SetStatus(ctx context.Context, status string) error {
	_, err := c.do(ctx, proto.OpUpdateStatus, proto.UpdateStatusData{Status: status})
	return err
}

// Logout unregisters and waits for the server to close the connection.
func (c *Client) Logout(ctx context.Context, name string) error {
	req, err := proto.NewRequest(proto.OpUnregisterUser, proto.UnregisterUserData{Username: name})
	if err != nil {
		return err
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if err := c.codec.Encode(req); err != nil {
		return c.fail(errors.Wrap(err, "send logout"))
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		_ = c.Close()
		return ctx.Err()
	}
}

// Close ends the connection.
func (c *Client) Close() error {
	err := c.nc.Close()
	c.closeOnce.Do(func() { close(c.done) })
	return err
}

func (c *Client) do(ctx context.Context, op string, data any) (proto.Response, error) {
	req, err := proto.NewRequest(op, data)
	if err != nil {
		return proto.Response{}, err
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	select {
	case <-c.done:
		return proto.Response{}, ErrClosed
	default:
	}

	if err := c.codec.Encode(req); err != nil {
		return proto.Response{}, c.fail(errors.Wrapf(err, "send %s", op))
	}

	select {
	case resp := <-c.replies:
		if resp.Code != proto.CodeOK {
			return resp, &ReplyError{Op: resp.Op, Code: resp.Code, Message: resp.Message}
		}
		return resp, nil
	case <-c.done:
		return proto.Response{}, ErrClosed
	case <-ctx.Done():
		// The reply may still arrive and would be matched to the next request.
		_ = c.Close()
		return proto.Response{}, ctx.Err()
	}
}

func (c *Client) readLoop() {
	for {
		var resp proto.Response
		if err := c.codec.Decode(&resp); err != nil {
			if codec.IsProtocolError(err) {
				c.log.Warn().Err(err).Msg("skipping undecodable frame")
				continue
			}
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				c.fail(err)
				return
			}
			_ = c.Close()
			return
		}

		if resp.Op == proto.OpIncomingMessage {
			msg, err := resp.Incoming()
			if err != nil {
				c.log.Warn().Err(err).Msg("bad incoming message")
				continue
			}
			select {
			case c.incoming <- msg:
			default:
				c.log.Warn().Str("sender", msg.Sender).Msg("incoming buffer full, message dropped")
			}
			continue
		}

		select {
		case c.replies <- resp:
		case <-c.done:
			return
		}
	}
}

func (c *Client) fail(err error) error {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	_ = c.Close()
	return err
}
