// Package journal keeps an optional on-disk record of the notifications the
// agent raised.
//
// It is not a replay queue: messages missed while disconnected are never
// stored. Drivers:
//   - "file": JSON Lines, one record per line
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package journal
