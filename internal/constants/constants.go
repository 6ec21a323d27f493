// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Request limits
const (
	// MaxRequestBodyBytes bounds JSON request bodies. A 1280-dim vector is
	// roughly 30 KB of JSON, so this leaves room for large batches.
	MaxRequestBodyBytes = 8 << 20

	// MaxBatchFaces is the maximum number of faces accepted by one batch request
	MaxBatchFaces = 64
)

// Profile search constants
const (
	// DefaultProfileSearchLimit is the default number of profiles returned by a name search
	DefaultProfileSearchLimit = 20

	// MaxProfileSearchLimit caps the limit query parameter of a name search
	MaxProfileSearchLimit = 100
)

// People listing constants
const (
	// DefaultPeopleListLimit is the default page size of the people listing
	DefaultPeopleListLimit = 50

	// MaxPeopleListLimit caps the limit query parameter of the people listing
	MaxPeopleListLimit = 500
)

// Server constants
const (
	// RequestTimeout bounds a single API request
	RequestTimeout = 30 * time.Second

	// ShutdownTimeout is how long in-flight requests get on shutdown
	ShutdownTimeout = 15 * time.Second

	// StatsCacheTTL is how long catalog statistics are cached by the API
	StatsCacheTTL = 10 * time.Second
)

// Import constants
const (
	// ImportMaxLineBytes is the longest JSONL line accepted by catalog import
	ImportMaxLineBytes = 1 << 20
)
