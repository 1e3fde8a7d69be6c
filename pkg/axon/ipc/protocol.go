package ipc

import "encoding/json"

// ProtocolVersion1 is the session version before hello negotiates higher.
// ProtocolVersion2 makes req_id mandatory on every command. Pushed events
// use the same InboundEvent framing on both versions; there is no separate
// legacy v1 broadcast format.
const (
	ProtocolVersion1 = 1
	ProtocolVersion2 = 2
	daemonMaxVersion = ProtocolVersion2
)

// command is the generic envelope every line on the socket is decoded
// into first; Cmd selects which typed fields apply (spec §4.5.1).
type command struct {
	Cmd   string `json:"cmd"`
	ReqID string `json:"req_id,omitempty"`

	Version  int      `json:"version,omitempty"`
	Consumer string   `json:"consumer,omitempty"`
	Token    string   `json:"token,omitempty"`
	To       string   `json:"to,omitempty"`
	Kind     string   `json:"kind,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Ref      string   `json:"ref,omitempty"`
	Replay   bool     `json:"replay,omitempty"`
	Kinds    []string `json:"kinds,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	UpToSeq  uint64   `json:"up_to_seq,omitempty"`
}

// reply mirrors the triggering command, carrying req_id when provided.
type reply struct {
	Cmd     string      `json:"cmd"`
	ReqID   string      `json:"req_id,omitempty"`
	OK      bool        `json:"ok"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// inboundEventV2 is the v2 push format for live/replayed buffer entries.
type inboundEventV2 struct {
	Type     string            `json:"type"`
	Seq      uint64            `json:"seq"`
	Replay   bool              `json:"replay,omitempty"`
	Envelope json.RawMessage   `json:"envelope"`
}

func okReply(cmd command) reply {
	return reply{Cmd: cmd.Cmd, ReqID: cmd.ReqID, OK: true}
}

func errReply(cmd command, code, message string) reply {
	return reply{Cmd: cmd.Cmd, ReqID: cmd.ReqID, OK: false, Error: code, Message: message}
}
