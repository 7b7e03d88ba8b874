package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collectors) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestCollectors_Counters(t *testing.T) {
	c := New()

	c.PurchaseApplied()
	c.PurchaseApplied()
	c.PurchaseReversed()
	c.OrderCompletion("completed")
	c.OrderCompletion("shortfall")
	c.OrderCompletion("shortfall")
	c.Shortfalls(3)
	c.Shortfalls(0)
	c.ResolverCreated()
	c.ResolverConflict()
	c.SyncFailure("purchase_completed")

	body := scrape(t, c)
	assert.Contains(t, body, "larder_purchases_applied_total 2")
	assert.Contains(t, body, "larder_purchase_reversals_total 1")
	assert.Contains(t, body, `larder_order_completions_total{outcome="shortfall"} 2`)
	assert.Contains(t, body, "larder_shortfalls_total 3")
	assert.Contains(t, body, "larder_resolver_creates_total 1")
	assert.Contains(t, body, "larder_resolver_conflicts_total 1")
	assert.Contains(t, body, `larder_finance_sync_failures_total{op="purchase_completed"} 1`)
}

func TestCollectors_HistogramsAndGauges(t *testing.T) {
	c := New()
	c.ObserveTransition("purchase.apply", 20*time.Millisecond)
	c.ObserveHTTP("POST", "/api/v1/orders/:id/complete", 200, time.Millisecond)
	c.SetOutbox(4, 1, 0)

	body := scrape(t, c)
	assert.Contains(t, body, `larder_transition_duration_seconds_count{op="purchase.apply"} 1`)
	assert.Contains(t, body, `larder_http_request_duration_seconds_count{method="POST",route="/api/v1/orders/:id/complete",status="200"} 1`)
	assert.Contains(t, body, `larder_outbox_messages{status="pending"} 4`)
	assert.Contains(t, body, "go_goroutines")
}
