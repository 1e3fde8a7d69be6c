package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegisterWithoutPanicking(t *testing.T) {
	PeerTableSize.WithLabelValues("connected").Set(3)
	ReconnectAttempts.WithLabelValues("success").Inc()
	ReconnectBackoffSeconds.Observe(2)
	PubkeyPinViolations.Inc()

	ActiveConnections.Set(1)
	MessagesTotal.WithLabelValues("inbound", "bidi").Inc()
	StreamDuration.Observe(0.05)
	AutoResponsesTotal.WithLabelValues("ping").Inc()
	DialDeduped.Inc()

	ReplayCacheSize.Set(10)
	ReplayHits.Inc()
	ReplayEvictions.WithLabelValues("ttl").Inc()

	IPCClients.Set(2)
	IPCCommandsTotal.WithLabelValues("subscribe", "ok").Inc()
	IPCMailboxDrops.Inc()
	IPCBufferSize.Set(5)
}

func TestHandlerServesRegistry(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "axon_peers_table_size")
}
