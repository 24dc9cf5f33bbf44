package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerflow/internal/correlate"
	"github.com/roach88/ledgerflow/internal/engine"
	"github.com/roach88/ledgerflow/internal/ledger"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestExecutorMetrics(t *testing.T) {
	c := NewCollector("")
	c.TxSubmitted("balances.transfer")
	c.TxSubmitted("balances.transfer")
	c.TxRejected("assets.mint")
	c.TxNotification(ledger.StatusReady)
	c.TxNotification(ledger.StatusInBlock)
	c.TxResolved("balances.transfer", engine.PhaseFinalized, "", 6*time.Second)
	c.TxResolved("balances.transfer", engine.PhaseFailed, correlate.CodeDispatchFailed, 12*time.Second)

	out := scrape(t, c)
	assert.Contains(t, out, `ledgerflow_tx_submitted_total{call="balances.transfer"} 2`)
	assert.Contains(t, out, `ledgerflow_tx_rejected_total{call="assets.mint"} 1`)
	assert.Contains(t, out, `ledgerflow_tx_notifications_total{status="inBlock"} 1`)
	assert.Contains(t, out, `ledgerflow_tx_resolved_total{call="balances.transfer",code="DISPATCH_FAILED",phase="failed"} 1`)
	assert.Contains(t, out, `ledgerflow_tx_confirmation_seconds_count{call="balances.transfer",phase="finalized"} 1`)
	assert.Contains(t, out, "ledgerflow_tx_in_flight 0")
}

func TestMultiplexerMetrics(t *testing.T) {
	c := NewCollector("test")
	c.UpstreamOpened("balance")
	c.UpstreamOpened("balance")
	c.UpstreamOpened("nonce")
	c.ValueDelivered("balance")
	c.UpstreamClosed("balance")
	c.TransportFailed("nonce")

	out := scrape(t, c)
	assert.Contains(t, out, `test_submux_upstreams{kind="balance"} 1`)
	assert.Contains(t, out, `test_submux_upstreams{kind="nonce"} 0`)
	assert.Contains(t, out, `test_submux_upstream_opens_total{kind="balance"} 2`)
	assert.Contains(t, out, `test_submux_values_delivered_total{kind="balance"} 1`)
	assert.Contains(t, out, `test_submux_transport_errors_total{kind="nonce"} 1`)
}

func TestSynchronizerMetrics(t *testing.T) {
	c := NewCollector("")
	c.TriggerEvaluated("wallet.balances")
	c.TriggerEvaluated("wallet.balances")
	c.TriggerFired("wallet.balances")
	c.StaleWrite("wallet.balances")
	c.EffectFailed("wallet.refresh")

	out := scrape(t, c)
	assert.Contains(t, out, `ledgerflow_reactive_evaluations_total{trigger="wallet.balances"} 2`)
	assert.Contains(t, out, `ledgerflow_reactive_firings_total{trigger="wallet.balances"} 1`)
	assert.Contains(t, out, `ledgerflow_reactive_stale_writes_total{trigger="wallet.balances"} 1`)
	assert.Contains(t, out, `ledgerflow_reactive_effect_failures_total{trigger="wallet.refresh"} 1`)
}
