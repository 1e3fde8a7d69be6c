package transport

import (
	"encoding/json"
	"time"

	"github.com/axon-project/axon/internal/axonerr"
	"github.com/axon-project/axon/internal/metrics"
	"github.com/axon-project/axon/pkg/axon/message"
)

// supportedProtocolVersions lists the protocol versions this node can speak.
var supportedProtocolVersions = []int{1}

// helloSupportsProtocolV1 reports whether a hello request's
// protocol_versions field includes version 1. Any malformed or missing
// field is treated as unsupported, matching the original handshake's
// fail-closed defaulting.
func helloSupportsProtocolV1(payload json.RawMessage) bool {
	var body struct {
		ProtocolVersions []int `json:"protocol_versions"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return false
	}
	for _, v := range body.ProtocolVersions {
		if v == 1 {
			return true
		}
	}
	return false
}

// AutoResponderConfig carries the static facts the default auto-response
// policy needs about the local node (spec §4.6).
type AutoResponderConfig struct {
	AgentName string
	Domains   []string
	Tools     []string
	StartedAt time.Time
}

// DefaultAutoResponder builds the policy applied when no application
// handler claims an inbound request-like envelope.
func DefaultAutoResponder(cfg AutoResponderConfig) AutoResponder {
	return func(req *message.Envelope) (*message.Envelope, error) {
		metrics.AutoResponsesTotal.WithLabelValues(string(req.Kind)).Inc()
		now := nowMillis()

		switch req.Kind {
		case message.KindHello:
			if !helloSupportsProtocolV1(req.Payload) {
				return nil, axonerr.New(axonerr.CodeIncompatibleVersion,
					"no mutually supported protocol version; this agent supports [1]")
			}
			return message.Reply(req, message.KindHello, map[string]interface{}{
				"selected_version": 1,
				"features":         cfg.Tools,
			}, now)

		case message.KindPing:
			return message.Reply(req, message.KindPong, map[string]interface{}{
				"status":       "idle",
				"uptime_s":     int64(time.Since(cfg.StartedAt).Seconds()),
				"active_tasks": 0,
			}, now)

		case message.KindDiscover:
			return message.Reply(req, message.KindCapabilities, map[string]interface{}{
				"agent_name": cfg.AgentName,
				"domains":    cfg.Domains,
				"tools":      cfg.Tools,
			}, now)

		case message.KindQuery:
			return message.Reply(req, message.KindResponse, map[string]interface{}{
				"data":    map[string]bool{"accepted": true},
				"summary": "no application handler registered; acknowledged only",
			}, now)

		case message.KindDelegate, message.KindCancel:
			return message.Reply(req, message.KindAck, map[string]interface{}{
				"accepted": true,
			}, now)

		default:
			return nil, axonerr.New(axonerr.CodeUnknownKind, "no auto-response policy for kind "+string(req.Kind))
		}
	}
}
