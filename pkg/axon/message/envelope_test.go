package message

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndEncode(t *testing.T) {
	env, err := New(KindPing, "agent-a", "agent-b", map[string]string{"nonce": "abc"}, 1234)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), env.ID.Version())

	raw, err := env.Encode()
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, KindPing, decoded.Kind)
	assert.Equal(t, "agent-a", decoded.From)
	assert.Equal(t, "agent-b", decoded.To)
}

func TestReplySwapsFromTo(t *testing.T) {
	req, err := New(KindQuery, "agent-a", "agent-b", map[string]string{"q": "status"}, 1)
	require.NoError(t, err)

	resp, err := Reply(req, KindResponse, map[string]string{"status": "ok"}, 2)
	require.NoError(t, err)

	assert.Equal(t, "agent-b", resp.From)
	assert.Equal(t, "agent-a", resp.To)
	require.NotNil(t, resp.RefID)
	assert.Equal(t, req.ID, *resp.RefID)
}

func TestValidateRejectsNilID(t *testing.T) {
	env := &Envelope{Kind: KindPing, Payload: []byte(`{}`)}
	err := env.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_envelope")
}

func TestValidateRejectsNonObjectPayload(t *testing.T) {
	env := &Envelope{ID: uuid.New(), Kind: KindPing, Payload: []byte(`"just a string"`)}
	err := env.Validate()
	require.Error(t, err)
}

func TestValidateRejectsOversizeEnvelope(t *testing.T) {
	big := strings.Repeat("x", MaxEnvelopeBytes)
	env := &Envelope{ID: uuid.New(), Kind: KindQuery, Payload: []byte(`{"blob":"` + big + `"}`)}
	err := env.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds cap")
}

func TestDecodeUnknownKindPreserved(t *testing.T) {
	raw := []byte(`{"id":"` + uuid.New().String() + `","kind":"future_kind","ts":1,"payload":{}}`)
	env, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Kind("future_kind"), env.Kind)
}

func TestIsBidiKind(t *testing.T) {
	assert.True(t, IsBidiKind(KindQuery))
	assert.True(t, IsBidiKind(KindHello))
	assert.False(t, IsBidiKind(KindNotify))
	assert.False(t, IsBidiKind(Kind("custom")))
}
