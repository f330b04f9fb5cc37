// Package app implements the dgate-client command tree: a diagnostic
// WebSocket client for exercising a running gateway.
package app

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

type clientOptions struct {
	Server  string
	Token   string
	Timeout time.Duration
}

// NewRootCommand builds the dgate-client command.
func NewRootCommand() *cobra.Command {
	opts := &clientOptions{}

	root := &cobra.Command{
		Use:           "dgate-client",
		Short:         "Diagnostic client for a Drivegate gateway",
		Long:          "dgate-client connects to a running dgate-gateway and issues control commands over its WebSocket endpoint.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.Server, "server", "ws://localhost:8765/ws", "Gateway WebSocket endpoint.")
	pf.StringVar(&opts.Token, "token", "", "Shared secret for gated commands.")
	pf.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "Per-request timeout.")

	root.AddCommand(
		newMoveCommand(opts),
		newRawCommand(opts),
		newStatusCommand(opts),
		newPingCommand(opts),
		newCheckCommand(opts),
		newInteractiveCommand(opts),
	)
	return root
}

func newMoveCommand(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move <direction>",
		Short: "Issue one movement command (forward, backward, left, right, stop)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthedClient(opts, func(c *client) error {
				resp, err := c.request(map[string]string{"cmd": "move", "dir": args[0]})
				if err != nil {
					return err
				}
				return printResult(cmd, resp)
			})
		},
	}
}

func newRawCommand(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "raw <command>",
		Short: "Send a raw controller verb (diagnostics only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthedClient(opts, func(c *client) error {
				resp, err := c.request(map[string]string{"cmd": "raw", "command": args[0]})
				if err != nil {
					return err
				}
				return printResult(cmd, resp)
			})
		},
	}
}

func newStatusCommand(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway and controller status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(opts, func(c *client) error {
				resp, err := c.request(map[string]string{"cmd": "status"})
				if err != nil {
					return err
				}

				table := uitable.New()
				table.AddRow("FIELD", "VALUE")
				table.AddRow("Controller connected", fmt.Sprintf("%v", resp["arduino_connected"]))
				table.AddRow("Authenticated", fmt.Sprintf("%v", resp["authenticated"]))
				table.AddRow("Clients connected", fmt.Sprintf("%v", resp["clients_connected"]))
				table.AddRow("Clients authenticated", fmt.Sprintf("%v", resp["clients_authenticated"]))
				table.AddRow("Timestamp", fmt.Sprintf("%v", resp["timestamp"]))
				cmd.Println(table)
				return nil
			})
		},
	}
}

func newPingCommand(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Round-trip a ping through the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(opts, func(c *client) error {
				start := time.Now()
				resp, err := c.request(map[string]string{"cmd": "ping"})
				if err != nil {
					return err
				}
				cmd.Printf("%v (%s)\n", resp["type"], time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

// newCheckCommand runs the scripted end-to-end exercise: authenticate,
// query status, ping, walk every direction with interleaved stops, and
// finish with a raw PING.
func newCheckCommand(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a scripted exercise against the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAuthedClient(opts, func(c *client) error {
				cmd.Println("authenticated")

				resp, err := c.request(map[string]string{"cmd": "status"})
				if err != nil {
					return err
				}
				cmd.Printf("status: controller connected=%v\n", resp["arduino_connected"])

				if _, err := c.request(map[string]string{"cmd": "ping"}); err != nil {
					return err
				}
				cmd.Println("ping: ok")

				moves := []string{"forward", "stop", "backward", "stop", "left", "stop", "right", "stop"}
				for _, dir := range moves {
					resp, err := c.request(map[string]string{"cmd": "move", "dir": dir})
					if err != nil {
						return err
					}
					mark := "FAIL"
					if ok, _ := resp["success"].(bool); ok {
						mark = "ok"
					}
					cmd.Printf("move %-8s %s (%v)\n", dir, mark, resp["response"])
					time.Sleep(300 * time.Millisecond)
				}

				resp, err = c.request(map[string]string{"cmd": "raw", "command": "PING"})
				if err != nil {
					return err
				}
				cmd.Printf("raw PING: %v\n", resp["response"])
				return nil
			})
		},
	}
}

func newInteractiveCommand(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Drive the actuator from the keyboard",
		Long: `Interactive control. Commands:
  w/s/a/d  forward/backward/left/right
  x        stop
  p        ping
  t        status
  q        quit (sends stop first)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAuthedClient(opts, func(c *client) error {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				cmd.Println("Connected and authenticated. w/s/a/d to move, x stop, p ping, t status, q quit.")

				for {
					cmd.Print("> ")
					if !scanner.Scan() {
						break
					}

					var msg map[string]string
					switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
					case "q":
						_, _ = c.request(map[string]string{"cmd": "move", "dir": "stop"})
						return nil
					case "w":
						msg = map[string]string{"cmd": "move", "dir": "forward"}
					case "s":
						msg = map[string]string{"cmd": "move", "dir": "backward"}
					case "a":
						msg = map[string]string{"cmd": "move", "dir": "left"}
					case "d":
						msg = map[string]string{"cmd": "move", "dir": "right"}
					case "x", "":
						msg = map[string]string{"cmd": "move", "dir": "stop"}
					case "p":
						msg = map[string]string{"cmd": "ping"}
					case "t":
						msg = map[string]string{"cmd": "status"}
					default:
						cmd.Println("unknown command")
						continue
					}

					resp, err := c.request(msg)
					if err != nil {
						return err
					}
					cmd.Printf("  -> %v\n", resp)
				}
				return scanner.Err()
			})
		},
	}
}

func withClient(opts *clientOptions, fn func(*client) error) error {
	c, _, err := dial(opts.Server, opts.Timeout)
	if err != nil {
		return err
	}
	defer c.close()
	return fn(c)
}

func withAuthedClient(opts *clientOptions, fn func(*client) error) error {
	if opts.Token == "" {
		return fmt.Errorf("--token is required for this command")
	}
	return withClient(opts, func(c *client) error {
		if err := c.authenticate(opts.Token); err != nil {
			return err
		}
		return fn(c)
	})
}

func printResult(cmd *cobra.Command, resp map[string]any) error {
	if resp["type"] == "error" {
		return fmt.Errorf("%v", resp["message"])
	}
	if ok, _ := resp["success"].(bool); !ok {
		cmd.Printf("failed: %v\n", resp["response"])
		return nil
	}
	cmd.Printf("ok: %v\n", resp["response"])
	return nil
}
