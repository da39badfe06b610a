// Package store maps the crawler's records onto the key-value storage port.
// It owns the key layout; concrete backends live under internal/storage and
// this package must not import database drivers or concrete clients.
package store
