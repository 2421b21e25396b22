// Command aisctl is a CLI client for the ais_manager control protocol: it
// dials the manager's network listener, sends one framed Command, and
// prints the response.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/artisan-hosting/ais_manager/internal/rpc"
)

var addr string

func main() {
	root := &cobra.Command{
		Use:   "aisctl",
		Short: "Control client for the ais_manager host supervisor",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:9800", "ais_manager control protocol address")

	root.AddCommand(
		simpleCommand("start", "Start an application", "Start"),
		simpleCommand("stop", "Stop an application", "Stop"),
		simpleCommand("restart", "Restart an application", "Restart"),
		simpleCommand("status", "Show one application's status", "Status"),
		noArgCommand("all-status", "Show every application's status", "AllStatus"),
		noArgCommand("info", "Show the manager summary", "Info"),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "aisctl:", err)
		os.Exit(1)
	}
}

// simpleCommand builds a subcommand that takes one positional app-id
// argument and issues op against it.
func simpleCommand(use, short, op string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <app-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(op, args[0])
		},
	}
}

// noArgCommand builds a subcommand that takes no positional argument.
func noArgCommand(use, short, op string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(op, "")
		},
	}
}

// runCommand dials addr, sends a Command envelope, and prints the reply.
func runCommand(op, appID string) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	fr := rpc.NewFrameReader(conn)
	fw := rpc.NewFrameWriter(conn)

	resp, err := rpc.Call(fr, fw, rpc.Envelope{Type: rpc.TypeCommand, Payload: rpc.Command{Op: op, AppID: appID}})
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}

	switch p := resp.Payload.(type) {
	case rpc.Response:
		if !p.Success {
			return fmt.Errorf("%s", p.Message)
		}
		if p.Message != "" {
			fmt.Println(p.Message)
		} else {
			fmt.Println("ok")
		}
	case rpc.ManagerInfoPayload:
		fmt.Println(string(p.JSON))
	case rpc.ErrorPayload:
		return fmt.Errorf("%s", p.Message)
	default:
		return fmt.Errorf("unexpected response payload %T", resp.Payload)
	}
	return nil
}
