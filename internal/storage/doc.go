// Package storage persists subscriptions and the sent-reminder ledger.
//
// Two drivers share one database/sql implementation:
//   - "sqlite": embedded file database (modernc.org/sqlite, no cgo)
//   - "postgres": hosted database via pgx's database/sql driver
package storage
