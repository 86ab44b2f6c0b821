// Package store holds the backing key-value store for redirects.
package store

import (
	"context"
	"errors"

	"url-redirector/models"
)

// HitsField is the only counter field a redirect carries.
const HitsField = "hits"

var (
	ErrNotFound     = errors.New("redirect not found")
	ErrUnknownField = errors.New("unknown counter field")
	ErrInvalidKey   = errors.New("redirect key must not be empty")
	ErrInvalidDelta = errors.New("increment amount must be positive")
)

// Page is one slice of a key-ordered listing. Next is empty on the last page.
type Page struct {
	Redirects []models.Redirect
	Next      string
}

// Store is the contract shared by the redirect handlers, the admin page
// and the hit aggregator.
type Store interface {
	Get(ctx context.Context, key string) (models.Redirect, error)
	// Put creates or replaces the target URL of key. CreatedAt and Hits
	// are only initialised when the redirect is new.
	Put(ctx context.Context, key, url string) error
	Delete(ctx context.Context, key string) error
	// List returns up to limit redirects with keys strictly after cursor.
	List(ctx context.Context, cursor string, limit int) (Page, error)
	// Increment atomically adds amount to field. A missing redirect yields
	// ErrNotFound rather than being recreated.
	Increment(ctx context.Context, key, field string, amount int64) error
	Ping(ctx context.Context) error
	Close() error
}

func checkIncrement(key, field string, amount int64) error {
	if key == "" {
		return ErrInvalidKey
	}
	if field != HitsField {
		return ErrUnknownField
	}
	if amount <= 0 {
		return ErrInvalidDelta
	}
	return nil
}

const defaultPageSize = 50

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return limit
}
