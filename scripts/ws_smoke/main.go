package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coder/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:9090/ws", "WebSocket address")
	sender := flag.String("sender", "smoke-a", "sending user")
	receiver := flag.String("receiver", "smoke-b", "receiving user")
	text := flag.String("text", "hello from smoke test", "message text to broadcast")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := join(ctx, *addr, *sender)
	if err != nil {
		return err
	}
	defer a.Close(websocket.StatusNormalClosure, "bye")

	b, err := join(ctx, *addr, *receiver)
	if err != nil {
		return err
	}
	defer b.Close(websocket.StatusNormalClosure, "bye")

	if _, err := roundTrip(ctx, a, proto.OpSendMessage, proto.SendMessageData{Content: *text}); err != nil {
		return err
	}

	for {
		resp, err := read(ctx, b)
		if err != nil {
			return err
		}
		if resp.Op != proto.OpIncomingMessage {
			fmt.Printf("Skipping op=%s code=%s message=%q\n", resp.Op, resp.Code, resp.Message)
			continue
		}
		msg, err := resp.Incoming()
		if err != nil {
			return errors.Wrap(err, "decode incoming")
		}
		fmt.Printf("IncomingMessage: sender=%s kind=%s content=%q\n", msg.Sender, msg.Kind, msg.Content)
		if msg.Content != *text {
			return errors.Newf("unexpected content %q", msg.Content)
		}
		return nil
	}
}

func join(ctx context.Context, addr, name string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	if _, err := roundTrip(ctx, conn, proto.OpRegisterUser, proto.RegisterUserData{Username: name}); err != nil {
		conn.CloseNow()
		return nil, err
	}
	fmt.Printf("Registered %s\n", name)
	return conn, nil
}

func roundTrip(ctx context.Context, conn *websocket.Conn, op string, data any) (proto.Response, error) {
	req, err := proto.NewRequest(op, data)
	if err != nil {
		return proto.Response{}, errors.Wrapf(err, "marshal %s", op)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return proto.Response{}, errors.Wrapf(err, "marshal %s", op)
	}
	if err := conn.Write(ctx, websocket.MessageText, body); err != nil {
		return proto.Response{}, errors.Wrapf(err, "send %s", op)
	}

	resp, err := read(ctx, conn)
	if err != nil {
		return resp, err
	}
	if resp.Code != proto.CodeOK {
		return resp, errors.Newf("%s: %s", op, resp.Message)
	}
	return resp, nil
}

func read(ctx context.Context, conn *websocket.Conn) (proto.Response, error) {
	var resp proto.Response
	_, data, err := conn.Read(ctx)
	if err != nil {
		return resp, errors.Wrap(err, "read")
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, errors.Wrap(err, "unmarshal response")
	}
	return resp, nil
}
