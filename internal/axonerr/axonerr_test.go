package axonerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	e := New(CodePeerNotFound, "no such peer")
	assert.Equal(t, "peer_not_found: no such peer", e.Error())

	cause := errors.New("dial refused")
	wrapped := Wrap(CodeTimeout, "dial timed out", cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "dial refused")
}

func TestWithDetailChains(t *testing.T) {
	e := New(CodeInvalidEnvelope, "bad payload").WithDetail("field", "payload")
	require.NotNil(t, e.Details)
	assert.Equal(t, "payload", e.Details["field"])
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Wrap(CodeAuthFailed, "bad token", nil))
	assert.Equal(t, CodeAuthFailed, CodeOf(wrapped))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}
