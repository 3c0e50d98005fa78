// Package storage keeps an optional history of delivered notifications.
//
// Two backends exist: SQLite (modernc.org/sqlite, no cgo) for paths ending
// in .db, .sqlite or .sqlite3, and an append-only JSON Lines file for
// anything else.
package storage
