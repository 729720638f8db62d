// Package sqlite implements presence storage contracts over SQLite.
package sqlite
