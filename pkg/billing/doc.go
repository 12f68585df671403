// Package billing reconciles user subscription state from billing provider
// webhook events and serves checkout/reactivation requests.
//
// The webhook processor is the single writer of subscription fields:
// checkout and reactivation endpoints only create provider objects and let
// the resulting events flow back through the processor (reactivation also
// writes once eagerly). Handlers are overwrite-style and idempotent; the
// one increment path (add-on credits) is guarded by an event-id ledger.
//
// Manually granted diamond tiers are protected at the store layer: a
// webhook-derived tier never overwrites diamond, while every other field
// still updates.
package billing
