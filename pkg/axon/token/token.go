// Package token encodes and decodes AXON peer enrollment tokens: the
// out-of-band `axon://` URI used to hand a peer's key and address to
// another node (spec §4.7).
package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net"
	"strings"

	"github.com/axon-project/axon/internal/axonerr"
	"github.com/axon-project/axon/pkg/axon/identity"
)

const scheme = "axon://"

// Decoded is the parsed form of a peer token.
type Decoded struct {
	PubkeyBase64 string // standard base64, as stored in the peer table
	Addr         string // host:port
	AgentID      string
}

// Encode builds `axon://<base64url(pubkey_32B)>@host:port`. pubkey must
// be exactly 32 bytes; addr must parse as host:port.
func Encode(pubkey []byte, addr string) (string, error) {
	if len(pubkey) != 32 {
		return "", axonerr.New(axonerr.CodeInvalidCommand, fmt.Sprintf("peer token pubkey must be 32 bytes, got %d", len(pubkey)))
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", axonerr.Wrap(axonerr.CodeInvalidCommand, "peer token addr must be host:port", err)
	}
	encoded := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(pubkey)
	return scheme + encoded + "@" + addr, nil
}

// Decode parses a peer token, yielding the standard-base64 pubkey,
// address, and derived AgentId.
func Decode(tok string) (*Decoded, error) {
	if !strings.HasPrefix(tok, scheme) {
		return nil, axonerr.New(axonerr.CodeInvalidCommand, "peer token must start with axon://")
	}
	rest := tok[len(scheme):]

	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return nil, axonerr.New(axonerr.CodeInvalidCommand, "peer token missing '@host:port'")
	}
	encodedKey, addr := rest[:at], rest[at+1:]

	pubkey, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(encodedKey)
	if err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInvalidCommand, "peer token key is not valid base64url", err)
	}
	if len(pubkey) != 32 {
		return nil, axonerr.New(axonerr.CodeInvalidCommand, fmt.Sprintf("peer token pubkey must be 32 bytes, got %d", len(pubkey)))
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInvalidCommand, "peer token addr must be host:port", err)
	}

	return &Decoded{
		PubkeyBase64: base64.StdEncoding.EncodeToString(pubkey),
		Addr:         addr,
		AgentID:      identity.DeriveAgentID(ed25519.PublicKey(pubkey)),
	}, nil
}
