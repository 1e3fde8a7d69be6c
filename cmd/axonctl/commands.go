package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagToken    string
	flagConsumer string
)

func init() {
	for _, c := range []*cobra.Command{statusCmd, peersCmd, sendCmd, watchCmd} {
		c.Flags().StringVar(&flagToken, "token", "", "IPC auth token (hex), if the daemon requires one")
		c.Flags().StringVar(&flagConsumer, "consumer", "axonctl", "consumer name reported in hello")
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the daemon's agent_id and client count",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialIPC(flagSocket)
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.authenticate(flagToken, flagConsumer); err != nil {
			return err
		}
		rep, err := c.call(wireCommand{Cmd: "status"})
		if err != nil {
			return err
		}
		return printReply(rep)
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List the daemon's known peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialIPC(flagSocket)
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.authenticate(flagToken, flagConsumer); err != nil {
			return err
		}
		rep, err := c.call(wireCommand{Cmd: "peers"})
		if err != nil {
			return err
		}
		return printReply(rep)
	},
}

var (
	flagSendTo      string
	flagSendKind    string
	flagSendPayload string
	flagSendWait    bool
)

func initSendFlags() {
	sendCmd.Flags().StringVar(&flagSendTo, "to", "", "destination agent_id")
	sendCmd.Flags().StringVar(&flagSendKind, "kind", "ping", "envelope kind")
	sendCmd.Flags().StringVar(&flagSendPayload, "payload", "{}", "JSON payload object")
	sendCmd.Flags().BoolVar(&flagSendWait, "wait", false, "send the default ping kind as a query and wait for the response; other kinds are sent unchanged")
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send an envelope to a peer through the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagSendTo == "" {
			return fmt.Errorf("--to is required")
		}
		if !json.Valid([]byte(flagSendPayload)) {
			return fmt.Errorf("--payload is not valid JSON")
		}
		c, err := dialIPC(flagSocket)
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.authenticate(flagToken, flagConsumer); err != nil {
			return err
		}
		kind := flagSendKind
		if flagSendWait && kind == "ping" {
			kind = "query"
		}
		rep, err := c.call(wireCommand{
			Cmd:     "send",
			To:      flagSendTo,
			Kind:    kind,
			Payload: json.RawMessage(flagSendPayload),
		})
		if err != nil {
			return err
		}
		return printReply(rep)
	},
}

var flagWatchKinds []string

func initWatchFlags() {
	watchCmd.Flags().StringSliceVar(&flagWatchKinds, "kinds", nil, "only print envelopes of these kinds")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe and print inbound envelopes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialIPC(flagSocket)
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.authenticate(flagToken, flagConsumer); err != nil {
			return err
		}
		rep, err := c.call(wireCommand{Cmd: "subscribe", Kinds: flagWatchKinds})
		if err != nil {
			return err
		}
		if !rep.OK {
			return fmt.Errorf("subscribe failed: %s %s", rep.Error, rep.Message)
		}
		fmt.Println("subscribed, waiting for events (ctrl-c to exit)...")
		for c.scanner.Scan() {
			var evt struct {
				Type     string          `json:"type"`
				Seq      uint64          `json:"seq"`
				Envelope json.RawMessage `json:"envelope"`
			}
			if err := json.Unmarshal(c.scanner.Bytes(), &evt); err != nil {
				continue
			}
			fmt.Printf("[%s] seq=%d %s\n", time.Now().Format(time.RFC3339), evt.Seq, string(evt.Envelope))
		}
		return c.scanner.Err()
	},
}

func init() {
	initSendFlags()
	initWatchFlags()
}

func printReply(rep *wireReply) error {
	if !rep.OK {
		return fmt.Errorf("%s: %s", rep.Error, rep.Message)
	}
	out, err := json.MarshalIndent(rep.Data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
