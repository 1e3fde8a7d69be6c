package transport

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axon-project/axon/pkg/axon/identity"
	"github.com/axon-project/axon/pkg/axon/message"
)

func TestShouldInitiateUsesLexicalOrder(t *testing.T) {
	assert.True(t, ShouldInitiate("ed25519.aaaa", "ed25519.bbbb"))
	assert.False(t, ShouldInitiate("ed25519.bbbb", "ed25519.aaaa"))
	assert.False(t, ShouldInitiate("ed25519.aaaa", "ed25519.aaaa"))
}

type fixedPins struct {
	agentID string
	pubkey  string
}

func (p fixedPins) ExpectedPubkey(agentID string) (string, bool) {
	if agentID == p.agentID {
		return p.pubkey, true
	}
	return "", false
}

func TestVerifyPeerCertificateAcceptsUnpinnedPeer(t *testing.T) {
	dir := t.TempDir()
	id, err := identity.LoadOrGenerate(dir)
	require.NoError(t, err)
	cert, err := id.MakeQUICCertificate()
	require.NoError(t, err)
	block, _ := pem.Decode(cert.CertPEM)
	require.NotNil(t, block)

	ep := &Endpoint{pins: fixedPins{agentID: "ed25519.someone-else", pubkey: "irrelevant"}}
	err = ep.verifyPeerCertificate([][]byte{block.Bytes}, nil)
	assert.NoError(t, err)
}

func TestVerifyPeerCertificateRejectsPinMismatch(t *testing.T) {
	dir := t.TempDir()
	id, err := identity.LoadOrGenerate(dir)
	require.NoError(t, err)
	cert, err := id.MakeQUICCertificate()
	require.NoError(t, err)
	block, _ := pem.Decode(cert.CertPEM)
	require.NotNil(t, block)

	ep := &Endpoint{pins: fixedPins{agentID: id.AgentID(), pubkey: "not-the-real-key"}}
	err = ep.verifyPeerCertificate([][]byte{block.Bytes}, nil)
	require.Error(t, err)
}

func TestVerifyPeerCertificateRejectsNoCertificates(t *testing.T) {
	ep := &Endpoint{}
	err := ep.verifyPeerCertificate(nil, nil)
	require.Error(t, err)
}

func TestVerifyPeerCertificateAllowsPinnedMatch(t *testing.T) {
	dir := t.TempDir()
	id, err := identity.LoadOrGenerate(dir)
	require.NoError(t, err)
	cert, err := id.MakeQUICCertificate()
	require.NoError(t, err)
	block, _ := pem.Decode(cert.CertPEM)
	require.NotNil(t, block)

	parsed, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	derivedAgentID, err := identity.ExtractSPKIAgentID(parsed)
	require.NoError(t, err)

	ep := &Endpoint{pins: fixedPins{agentID: derivedAgentID, pubkey: id.PublicKeyBase64()}}
	err = ep.verifyPeerCertificate([][]byte{block.Bytes}, nil)
	assert.NoError(t, err)
}

func TestServeUniStreamPublishesEnvelopeMatchingConnectionIdentity(t *testing.T) {
	env, err := message.New(message.KindPing, "ed25519.real-peer", "ed25519.local", map[string]string{}, 1)
	require.NoError(t, err)
	encoded, err := env.Encode()
	require.NoError(t, err)

	var published *message.Envelope
	ep := &Endpoint{onInbound: func(e *message.Envelope) { published = e }}
	ep.serveUniStream("ed25519.real-peer", bytes.NewReader(encoded))

	require.NotNil(t, published, "envelope whose from matches the connection identity must be published")
	assert.Equal(t, "ed25519.real-peer", published.From)
}

func TestServeUniStreamDropsSpoofedFrom(t *testing.T) {
	env, err := message.New(message.KindPing, "ed25519.someone-else", "ed25519.local", map[string]string{}, 1)
	require.NoError(t, err)
	encoded, err := env.Encode()
	require.NoError(t, err)

	var published *message.Envelope
	ep := &Endpoint{onInbound: func(e *message.Envelope) { published = e }}
	ep.serveUniStream("ed25519.real-peer", bytes.NewReader(encoded))

	assert.Nil(t, published, "envelope asserting a from other than the connection identity must be dropped")
}
