// keva-cli is a command-line client for the keva server.
//
// Each invocation opens a fresh connection, sends a single command and
// prints the reply in redis-cli style:
//
//	keva-cli ping
//	keva-cli set greeting "hello world" --ex 60
//	keva-cli get greeting
//	keva-cli del greeting stale-key
//	keva-cli raw SET counter 1
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/oxfell/keva/internal/protocol"
	"github.com/oxfell/keva/internal/version"
)

const replyBufSize = 64 * 1024

func main() {
	app := &cli.App{
		Name:    "keva-cli",
		Usage:   "command-line client for the keva key-value server",
		Version: fmt.Sprintf("%s (built %s)", version.Version, version.BuildTime),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			pingCommand(),
			echoCommand(),
			getCommand(),
			setCommand(),
			delCommand(),
			quitCommand(),
			rawCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags returns the flags available to all commands.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Aliases: []string{"a"},
			Usage:   "keva server address",
			EnvVars: []string{"KEVA_ADDR"},
			Value:   "localhost:6379",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "dial and reply timeout",
			Value:   5 * time.Second,
		},
	}
}

func pingCommand() *cli.Command {
	return &cli.Command{
		Name:   "ping",
		Usage:  "Check that the server is alive",
		Action: cmdPing,
	}
}

func echoCommand() *cli.Command {
	return &cli.Command{
		Name:      "echo",
		Usage:     "Ask the server to echo a message back",
		ArgsUsage: "MESSAGE",
		Action:    cmdEcho,
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch the value stored under a key",
		ArgsUsage: "KEY",
		Action:    cmdGet,
	}
}

func setCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Store a value under a key",
		ArgsUsage: "KEY VALUE",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:  "ex",
				Usage: "expire the key after `SECONDS`",
			},
			&cli.Float64Flag{
				Name:  "px",
				Usage: "expire the key after `MILLIS`",
			},
		},
		Action: cmdSet,
	}
}

func delCommand() *cli.Command {
	return &cli.Command{
		Name:      "del",
		Usage:     "Delete one or more keys",
		ArgsUsage: "KEY [KEY...]",
		Action:    cmdDel,
	}
}

func quitCommand() *cli.Command {
	return &cli.Command{
		Name:   "quit",
		Usage:  "Send QUIT and observe the server close the connection",
		Action: cmdQuit,
	}
}

func rawCommand() *cli.Command {
	return &cli.Command{
		Name:      "raw",
		Usage:     "Send an arbitrary command verbatim",
		ArgsUsage: "COMMAND [ARG...]",
		Action:    cmdRaw,
	}
}

func cmdPing(c *cli.Context) error {
	return execute(c, "PING")
}

func cmdEcho(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("echo requires exactly one MESSAGE argument", 1)
	}
	return execute(c, "ECHO", c.Args().Get(0))
}

func cmdGet(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("get requires exactly one KEY argument", 1)
	}
	return execute(c, "GET", c.Args().Get(0))
}

func cmdSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("set requires KEY and VALUE arguments", 1)
	}

	args := []string{"SET", c.Args().Get(0), c.Args().Get(1)}
	switch {
	case c.IsSet("ex"):
		args = append(args, "EX", strconv.FormatFloat(c.Float64("ex"), 'f', -1, 64))
	case c.IsSet("px"):
		args = append(args, "PX", strconv.FormatFloat(c.Float64("px"), 'f', -1, 64))
	}
	return execute(c, args...)
}

func cmdDel(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("del requires at least one KEY argument", 1)
	}
	return execute(c, append([]string{"DEL"}, c.Args().Slice()...)...)
}

func cmdQuit(c *cli.Context) error {
	return execute(c, "QUIT")
}

func cmdRaw(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("raw requires a COMMAND to send", 1)
	}
	return execute(c, c.Args().Slice()...)
}

// execute sends one command to the server and prints the decoded reply.
func execute(c *cli.Context, args ...string) error {
	timeout := c.Duration("timeout")

	conn, err := net.DialTimeout("tcp", c.String("addr"), timeout)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	writer := protocol.NewWriter(conn)
	if err := writer.WriteStringArray(args); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	buf := make([]byte, replyBufSize)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	val, err := protocol.NewParser(buf[:n]).Parse()
	if err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}

	fmt.Println(formatReply(val))
	return nil
}

// formatReply renders a reply value the way redis-cli would.
func formatReply(val protocol.Value) string {
	switch val.Type {
	case protocol.TypeSimpleString:
		return val.Str
	case protocol.TypeError:
		return "(error) " + val.Str
	case protocol.TypeInteger:
		return "(integer) " + strconv.FormatInt(val.Num, 10)
	case protocol.TypeBulkString:
		if val.Null {
			return "(nil)"
		}
		return string(val.Bulk)
	case protocol.TypeArray:
		if val.Null {
			return "(nil)"
		}
		if len(val.Array) == 0 {
			return "(empty array)"
		}
		var b strings.Builder
		for i, el := range val.Array {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%d) %s", i+1, formatReply(el))
		}
		return b.String()
	default:
		return fmt.Sprintf("(unknown reply type %q)", val.Type)
	}
}
