package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// wireCommand mirrors ipc's unexported command struct; axonctl speaks the
// same wire shape as an external client would, not the daemon's internals.
type wireCommand struct {
	Cmd      string          `json:"cmd"`
	ReqID    string          `json:"req_id,omitempty"`
	Version  int             `json:"version,omitempty"`
	Consumer string          `json:"consumer,omitempty"`
	Token    string          `json:"token,omitempty"`
	To       string          `json:"to,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Replay   bool            `json:"replay,omitempty"`
	Kinds    []string        `json:"kinds,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	UpToSeq  uint64          `json:"up_to_seq,omitempty"`
}

type wireReply struct {
	Cmd     string          `json:"cmd"`
	ReqID   string          `json:"req_id,omitempty"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ipcClient is a thin, synchronous wrapper around axond's line-delimited
// JSON socket: one write, one read, no background dispatch.
type ipcClient struct {
	conn    net.Conn
	scanner *bufio.Scanner
	nextReq int
}

func dialIPC(socketPath string) (*ipcClient, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	return &ipcClient{conn: conn, scanner: scanner}, nil
}

func (c *ipcClient) Close() error { return c.conn.Close() }

func (c *ipcClient) call(cmd wireCommand) (*wireReply, error) {
	c.nextReq++
	cmd.ReqID = fmt.Sprintf("axonctl-%d", c.nextReq)

	line, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read reply: %w", err)
		}
		return nil, fmt.Errorf("connection closed before reply")
	}

	var rep wireReply
	if err := json.Unmarshal(c.scanner.Bytes(), &rep); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return &rep, nil
}

// authenticate negotiates protocol v2 and, if token is non-empty, proves
// the caller holds it. Same-uid callers are already authenticated via
// SO_PEERCRED and can leave token empty; a token that is passed is still
// checked by the daemon.
func (c *ipcClient) authenticate(token, consumer string) error {
	hello, err := c.call(wireCommand{Cmd: "hello", Version: 2, Consumer: consumer})
	if err != nil {
		return err
	}
	if !hello.OK {
		return fmt.Errorf("hello failed: %s %s", hello.Error, hello.Message)
	}
	if token == "" {
		return nil
	}
	auth, err := c.call(wireCommand{Cmd: "auth", Token: token})
	if err != nil {
		return err
	}
	if !auth.OK {
		return fmt.Errorf("auth failed: %s %s", auth.Error, auth.Message)
	}
	return nil
}
