package tcp

import (
	"context"
	"encoding/binary"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-tcp/internal/codec"
	"github.com/vovakirdan/wirechat-tcp/internal/core"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
	"github.com/vovakirdan/wirechat-tcp/internal/transport"
)

type testServer struct {
	registry *core.Registry
	handler  *transport.Handler
	acceptor *Acceptor
	cancel   context.CancelFunc
	done     chan error
}

func startServer(t *testing.T, maxUsers int) *testServer {
	t.Helper()

	registry := core.NewRegistry(maxUsers)
	dispatcher := core.NewDispatcher(registry, nil, nil)
	dispatcher.LimitNotifications(int(codec.DefaultMaxFrameSize), transport.EncodedSize)
	presence := core.NewPresenceMonitor(registry, 10*time.Millisecond, time.Minute, nil)
	handler := transport.NewHandler(dispatcher, presence, nil, nil, transport.Options{OutboxSize: 16})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := &testServer{
		registry: registry,
		handler:  handler,
		acceptor: New(ln, handler, 0, nil),
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { srv.done <- srv.acceptor.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-srv.done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("acceptor did not stop")
		}
		srv.acceptor.Wait()
		registry.Close()
	})
	return srv
}

type testClient struct {
	t     *testing.T
	nc    net.Conn
	codec *codec.Codec
}

func dial(t *testing.T, srv *testServer) *testClient {
	t.Helper()
	nc, err := net.Dial("tcp", srv.acceptor.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })
	return &testClient{t: t, nc: nc, codec: codec.New(nc, 0)}
}

func (c *testClient) send(op string, data any) {
	c.t.Helper()
	req, err := proto.NewRequest(op, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.codec.Encode(req))
}

func (c *testClient) sendRaw(body []byte) {
	c.t.Helper()
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err := c.nc.Write(frame)
	require.NoError(c.t, err)
}

func (c *testClient) recv() proto.Response {
	c.t.Helper()
	require.NoError(c.t, c.nc.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp proto.Response
	require.NoError(c.t, c.codec.Decode(&resp))
	return resp
}

func (c *testClient) register(name string) proto.Response {
	c.t.Helper()
	c.send(proto.OpRegisterUser, proto.RegisterUserData{Username: name})
	return c.recv()
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.nc.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp proto.Response
	err := c.codec.Decode(&resp)
	require.Error(c.t, err)
	assert.False(c.t, codec.IsProtocolError(err))
}

func TestBroadcastBetweenClients(t *testing.T) {
	srv := startServer(t, 10)
	alice := dial(t, srv)
	bob := dial(t, srv)

	resp := alice.register("alice")
	assert.Equal(t, proto.CodeOK, resp.Code)
	assert.Equal(t, core.MsgRegistered, resp.Message)
	require.Equal(t, proto.CodeOK, bob.register("bob").Code)

	alice.send(proto.OpSendMessage, proto.SendMessageData{Content: "hi"})
	ack := alice.recv()
	assert.Equal(t, proto.OpSendMessage, ack.Op)
	assert.Equal(t, core.MsgMessageSent, ack.Message)

	note := bob.recv()
	require.Equal(t, proto.OpIncomingMessage, note.Op)
	msg, err := note.Incoming()
	require.NoError(t, err)
	assert.Equal(t, proto.IncomingMessage{Sender: "alice", Content: "hi", Kind: proto.KindBroadcast}, msg)
}

func TestLargeBroadcastReachesRecipient(t *testing.T) {
	srv := startServer(t, 10)
	alice := dial(t, srv)
	bob := dial(t, srv)
	require.Equal(t, proto.CodeOK, alice.register("alice").Code)
	require.Equal(t, proto.CodeOK, bob.register("bob").Code)

	content := strings.Repeat("x", 40*1024)
	alice.send(proto.OpSendMessage, proto.SendMessageData{Content: content})
	assert.Equal(t, proto.CodeOK, alice.recv().Code)

	note := bob.recv()
	require.Equal(t, proto.OpIncomingMessage, note.Op)
	assert.Equal(t, core.MsgIncoming, note.Message)
	msg, err := note.Incoming()
	require.NoError(t, err)
	assert.Len(t, msg.Content, len(content))
	assert.Equal(t, 2, srv.registry.Count())
}

func TestOversizedNotificationIsRejectedForSender(t *testing.T) {
	srv := startServer(t, 10)
	alice := dial(t, srv)
	bob := dial(t, srv)
	require.Equal(t, proto.CodeOK, alice.register("alice").Code)
	require.Equal(t, proto.CodeOK, bob.register("bob").Code)

	// Sent unescaped, the content fits one frame; escaped for delivery it does not.
	content := strings.Repeat("<", 16*1024)
	alice.sendRaw([]byte(`{"op":"send_message","data":{"content":"` + content + `"}}`))
	resp := alice.recv()
	assert.Equal(t, proto.CodeBadRequest, resp.Code)
	assert.Equal(t, core.MsgTooLarge, resp.Message)

	alice.send(proto.OpSendMessage, proto.SendMessageData{Content: "small"})
	assert.Equal(t, proto.CodeOK, alice.recv().Code)

	msg, err := bob.recv().Incoming()
	require.NoError(t, err)
	assert.Equal(t, "small", msg.Content)
	assert.Equal(t, 2, srv.registry.Count())
}

func TestDirectMessageAndUserListing(t *testing.T) {
	srv := startServer(t, 10)
	alice := dial(t, srv)
	bob := dial(t, srv)
	alice.register("alice")
	bob.register("bob")

	bob.send(proto.OpSendMessage, proto.SendMessageData{Recipient: "alice", Content: "psst"})
	assert.Equal(t, proto.CodeOK, bob.recv().Code)

	msg, err := alice.recv().Incoming()
	require.NoError(t, err)
	assert.Equal(t, proto.KindDirect, msg.Kind)
	assert.Equal(t, "bob", msg.Sender)

	bob.send(proto.OpSendMessage, proto.SendMessageData{Recipient: "carol", Content: "?"})
	resp := bob.recv()
	assert.Equal(t, proto.CodeBadRequest, resp.Code)
	assert.Equal(t, core.MsgRecipientMissing, resp.Message)

	bob.send(proto.OpGetUsers, proto.GetUsersData{})
	users, err := bob.recv().Users()
	require.NoError(t, err)
	assert.ElementsMatch(t, []proto.UserEntry{
		{Username: "alice", Status: "online"},
		{Username: "bob", Status: "online"},
	}, users)
}

func TestDuplicateNameRejected(t *testing.T) {
	srv := startServer(t, 10)
	first := dial(t, srv)
	second := dial(t, srv)

	require.Equal(t, proto.CodeOK, first.register("alice").Code)

	resp := second.register("alice")
	assert.Equal(t, proto.CodeBadRequest, resp.Code)
	assert.Equal(t, core.MsgUserExists, resp.Message)

	// The rejected session stays connected and may pick another name.
	assert.Equal(t, proto.CodeOK, second.register("alicia").Code)
}

func TestConnectionBeyondCapacityIsRejected(t *testing.T) {
	srv := startServer(t, 2)
	a := dial(t, srv)
	b := dial(t, srv)
	require.Equal(t, proto.CodeOK, a.register("a").Code)
	require.Equal(t, proto.CodeOK, b.register("b").Code)

	c := dial(t, srv)
	resp := c.recv()
	assert.Equal(t, proto.CodeBadRequest, resp.Code)
	assert.Equal(t, core.MsgCapacity, resp.Message)
	c.expectClosed()

	assert.Equal(t, 2, srv.registry.Count())
}

func TestMalformedFrameDoesNotEndSession(t *testing.T) {
	srv := startServer(t, 10)
	c := dial(t, srv)

	c.sendRaw([]byte(`{not json`))

	resp := c.recv()
	assert.Equal(t, proto.CodeBadRequest, resp.Code)
	assert.Equal(t, core.MsgMalformed, resp.Message)

	assert.Equal(t, proto.CodeOK, c.register("alice").Code)
}

func TestUnknownOperation(t *testing.T) {
	srv := startServer(t, 10)
	c := dial(t, srv)

	c.send("dance", struct{}{})
	resp := c.recv()
	assert.Equal(t, "unknown", resp.Op)
	assert.Equal(t, core.MsgUnknownOperation, resp.Message)
}

func TestDisconnectRemovesSession(t *testing.T) {
	srv := startServer(t, 10)
	alice := dial(t, srv)
	bob := dial(t, srv)
	alice.register("alice")
	bob.register("bob")

	require.NoError(t, bob.nc.Close())

	require.Eventually(t, func() bool {
		_, ok := srv.registry.FindByName("bob")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	alice.send(proto.OpSendMessage, proto.SendMessageData{Recipient: "bob", Content: "there?"})
	assert.Equal(t, core.MsgRecipientMissing, alice.recv().Message)
}

func TestUnregisterClosesConnection(t *testing.T) {
	srv := startServer(t, 10)
	c := dial(t, srv)
	c.register("alice")

	c.send(proto.OpUnregisterUser, proto.UnregisterUserData{Username: "alice"})
	c.expectClosed()

	require.Eventually(t, func() bool {
		return srv.registry.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseStopsAccepting(t *testing.T) {
	srv := startServer(t, 10)
	addr := srv.acceptor.Addr().String()

	require.NoError(t, srv.acceptor.Close())
	require.NoError(t, srv.acceptor.Close())

	select {
	case err := <-srv.done:
		assert.NoError(t, err)
		srv.done <- nil
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after close")
	}

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}
