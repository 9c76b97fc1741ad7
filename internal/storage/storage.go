// Package storage persists duplicate reports in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Objects is a flat key/value object store.
type Objects interface {
	// Put writes body under key, replacing any previous version.
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// URL is where a reader outside the service can fetch key.
	URL(key string) string
}

type provider string

const (
	providerAWS     provider = "aws"
	providerR2      provider = "r2"
	providerGeneric provider = "generic"
)

func providerFor(endpoint string) provider {
	e := strings.ToLower(endpoint)
	switch {
	case e == "" || strings.Contains(e, ".amazonaws.com"):
		return providerAWS
	case strings.Contains(e, ".r2.cloudflarestorage.com"):
		return providerR2
	}
	return providerGeneric
}

// defaultRegion is what the SDK signs with when none is configured.
func (p provider) defaultRegion() string {
	if p == providerR2 {
		return "auto"
	}
	return "us-east-1"
}
