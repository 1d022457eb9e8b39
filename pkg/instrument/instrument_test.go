package instrument

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(packetsIn.WithLabelValues("Message"))
	PacketIn("Message")
	PacketIn("Message")
	assert.Equal(t, before+2, testutil.ToFloat64(packetsIn.WithLabelValues("Message")))

	before = testutil.ToFloat64(flushes)
	Flushed()
	assert.Equal(t, before+1, testutil.ToFloat64(flushes))

	before = testutil.ToFloat64(handshakes.WithLabelValues("rejected"))
	Handshake("rejected")
	assert.Equal(t, before+1, testutil.ToFloat64(handshakes.WithLabelValues("rejected")))
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := Serve(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	LinkOpened("dialer")

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `veil_links_opened_total{role="dialer"}`), "metrics output missing link counter")
}
