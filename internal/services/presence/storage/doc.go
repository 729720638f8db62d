// Package storage defines the persistence contracts for the presence service.
package storage
