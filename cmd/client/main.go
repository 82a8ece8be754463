package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-tcp/internal/client"
	wclog "github.com/vovakirdan/wirechat-tcp/internal/log"
)

const requestTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "client:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		logLevel string
		retry    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "client <host> <port> <name>",
		Short: "Interactive line client for the wirechat server",
		Long: `Lines are broadcast to everyone. Commands:
  /msg <user> <text>   direct message
  /users [user]        list users
  /status <status>     online, busy or offline
  /quit                log out`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := net.JoinHostPort(args[0], args[1])
			name := args[2]

			c, err := client.Dial(ctx, addr, client.Options{
				MaxRetryTime: retry,
				Logger:       wclog.New(logLevel),
			})
			if err != nil {
				return err
			}
			defer c.Close()

			if err := call(ctx, func(ctx context.Context) error { return c.Register(ctx, name) }); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s as %s\n", addr, name)

			go printIncoming(cmd.OutOrStdout(), c)
			return readInput(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), c, name)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	cmd.Flags().DurationVar(&retry, "retry", 10*time.Second, "keep retrying the connection this long")
	return cmd
}

func call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return fn(ctx)
}

func printIncoming(out io.Writer, c *client.Client) {
	for {
		select {
		case msg := <-c.Incoming():
			if msg.Kind == "direct" {
				fmt.Fprintf(out, "[dm] %s: %s\n", msg.Sender, msg.Content)
			} else {
				fmt.Fprintf(out, "%s: %s\n", msg.Sender, msg.Content)
			}
		case <-c.Done():
			return
		}
	}
}

func readInput(ctx context.Context, in io.Reader, out io.Writer, c *client.Client, name string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return call(context.Background(), func(ctx context.Context) error { return c.Logout(ctx, name) })
		case <-c.Done():
			if err := c.Err(); err != nil {
				return err
			}
			fmt.Fprintln(out, "disconnected")
			return nil
		case line, ok := <-lines:
			if !ok {
				return call(ctx, func(ctx context.Context) error { return c.Logout(ctx, name) })
			}
			quit, err := handleLine(ctx, out, c, name, strings.TrimSpace(line))
			if err != nil {
				var replyErr *client.ReplyError
				if !errors.As(err, &replyErr) {
					return err
				}
				fmt.Fprintln(out, "error:", replyErr.Message)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, out io.Writer, c *client.Client, name, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, call(ctx, func(ctx context.Context) error { return c.Broadcast(ctx, line) })
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true, call(ctx, func(ctx context.Context) error { return c.Logout(ctx, name) })
	case "/msg":
		recipient, text, ok := parseDirect(line)
		if !ok {
			fmt.Fprintln(out, "usage: /msg <user> <text>")
			return false, nil
		}
		if recipient == name {
			fmt.Fprintln(out, "cannot send a direct message to yourself")
			return false, nil
		}
		return false, call(ctx, func(ctx context.Context) error { return c.Send(ctx, recipient, text) })
	case "/users":
		target := ""
		if len(fields) > 1 {
			target = fields[1]
		}
		return false, call(ctx, func(ctx context.Context) error {
			users, err := c.Users(ctx, target)
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintf(out, "  %s (%s)\n", u.Username, u.Status)
			}
			return nil
		})
	case "/status":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: /status <online|busy|offline>")
			return false, nil
		}
		return false, call(ctx, func(ctx context.Context) error { return c.SetStatus(ctx, fields[1]) })
	default:
		fmt.Fprintln(out, "unknown command", fields[0])
		return false, nil
	}
}

// parseDirect splits "/msg <user> <text>". Spacing inside text is kept.
func parseDirect(line string) (recipient, text string, ok bool) {
	rest, found := strings.CutPrefix(line, "/msg")
	if !found {
		return "", "", false
	}
	rest = strings.TrimLeft(rest, " \t")
	recipient, text, _ = strings.Cut(rest, " ")
	text = strings.TrimSpace(text)
	if recipient == "" || text == "" {
		return "", "", false
	}
	return recipient, text, true
}
