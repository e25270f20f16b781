// Package storage abstracts where run artifacts are written.
package storage

import "context"

// Provider writes a named artifact and returns its URI.
type Provider interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}
