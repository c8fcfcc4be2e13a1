// Package notifier delivers reminder messages to chats.
//
// Delivery is synchronous so the caller learns the outcome before it records
// anything: a send that fails leaves no ledger entry and is retried on the next
// tick. Sends share one token bucket to stay under the platform's bulk limits.
//
// # Failure classes
//
// Errors matching transport.ErrRecipientGone are permanent; the caller drops
// the subscription. Everything else is wrapped in ErrTransient. Flood-control
// responses carrying a retry-after hint get a bounded retry first.
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// recent deliveries.
package notifier
