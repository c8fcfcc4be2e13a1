// Package reminder decides which contest reminders are due and sends them.
//
// Each tick rebuilds its working set from the store: it prunes expired ledger
// rows, reads contests and subscribers, loads the sent-reminder ledger once,
// evaluates every (subscriber, contest) pair against the 24-hour and 1-hour
// windows, dispatches, and records only the reminders that were delivered.
// The ledger is the sole dedup gate, so a tick can be repeated safely.
package reminder
