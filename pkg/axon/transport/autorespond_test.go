package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axon-project/axon/internal/axonerr"
	"github.com/axon-project/axon/pkg/axon/message"
)

func TestDefaultAutoResponderHelloYieldsSelectedVersion(t *testing.T) {
	responder := DefaultAutoResponder(AutoResponderConfig{AgentName: "axon-test", StartedAt: time.Now()})

	req, err := message.New(message.KindHello, "ed25519.a", "ed25519.b", map[string]interface{}{
		"protocol_versions": []int{1, 2},
	}, 1)
	require.NoError(t, err)

	resp, err := responder(req)
	require.NoError(t, err)
	assert.Equal(t, message.KindHello, resp.Kind)
}

func TestDefaultAutoResponderHelloRejectsIncompatibleVersion(t *testing.T) {
	responder := DefaultAutoResponder(AutoResponderConfig{AgentName: "axon-test", StartedAt: time.Now()})

	req, err := message.New(message.KindHello, "ed25519.a", "ed25519.b", map[string]interface{}{
		"protocol_versions": []int{2, 3},
	}, 1)
	require.NoError(t, err)

	_, err = responder(req)
	require.Error(t, err)
	var axErr *axonerr.Error
	require.ErrorAs(t, err, &axErr)
	assert.Equal(t, axonerr.CodeIncompatibleVersion, axErr.Code)
}

func TestDefaultAutoResponderHelloRejectsMissingVersions(t *testing.T) {
	responder := DefaultAutoResponder(AutoResponderConfig{AgentName: "axon-test", StartedAt: time.Now()})

	req, err := message.New(message.KindHello, "ed25519.a", "ed25519.b", map[string]interface{}{}, 1)
	require.NoError(t, err)

	_, err = responder(req)
	require.Error(t, err)
	var axErr *axonerr.Error
	require.ErrorAs(t, err, &axErr)
	assert.Equal(t, axonerr.CodeIncompatibleVersion, axErr.Code)
}

func TestDefaultAutoResponderPingYieldsPong(t *testing.T) {
	responder := DefaultAutoResponder(AutoResponderConfig{AgentName: "axon-test", StartedAt: time.Now()})

	req, err := message.New(message.KindPing, "ed25519.a", "ed25519.b", map[string]string{}, 1)
	require.NoError(t, err)

	resp, err := responder(req)
	require.NoError(t, err)
	assert.Equal(t, message.KindPong, resp.Kind)
	require.NotNil(t, resp.RefID)
	assert.Equal(t, req.ID, *resp.RefID)
}

func TestDefaultAutoResponderDiscoverYieldsCapabilities(t *testing.T) {
	responder := DefaultAutoResponder(AutoResponderConfig{AgentName: "axon-test", Domains: []string{"chat"}, StartedAt: time.Now()})

	req, err := message.New(message.KindDiscover, "ed25519.a", "ed25519.b", map[string]string{}, 1)
	require.NoError(t, err)

	resp, err := responder(req)
	require.NoError(t, err)
	assert.Equal(t, message.KindCapabilities, resp.Kind)
}

func TestDefaultAutoResponderDelegateAndCancelYieldAck(t *testing.T) {
	responder := DefaultAutoResponder(AutoResponderConfig{StartedAt: time.Now()})

	for _, kind := range []message.Kind{message.KindDelegate, message.KindCancel} {
		req, err := message.New(kind, "ed25519.a", "ed25519.b", map[string]string{}, 1)
		require.NoError(t, err)

		resp, err := responder(req)
		require.NoError(t, err)
		assert.Equal(t, message.KindAck, resp.Kind)
	}
}

func TestDefaultAutoResponderUnknownKindYieldsError(t *testing.T) {
	responder := DefaultAutoResponder(AutoResponderConfig{StartedAt: time.Now()})

	req, err := message.New(message.Kind("mystery"), "ed25519.a", "ed25519.b", map[string]string{}, 1)
	require.NoError(t, err)

	_, err = responder(req)
	require.Error(t, err)
}
