// Package config - defaults.go centralizes magic numbers and default values.
package config

import "time"

// =============================================================================
// SERVER
// =============================================================================

// DefaultPort is the gateway listen port.
const DefaultPort = 8080

// DefaultReadTimeout bounds reading an inbound request.
const DefaultReadTimeout = 60 * time.Second

// DefaultWriteTimeout bounds writing a response. Streams can run long, so
// this stays generous.
const DefaultWriteTimeout = 10 * time.Minute

// MaxRequestBodySize is the maximum allowed request body (10MB).
const MaxRequestBodySize = 10 << 20

// =============================================================================
// UPSTREAM
// =============================================================================

// DefaultUpstreamTimeout bounds one non-streaming vendor round trip.
const DefaultUpstreamTimeout = 5 * time.Minute

// DefaultBufferSize is the streaming read buffer size.
const DefaultBufferSize = 4096

// =============================================================================
// STORAGE
// =============================================================================

// DefaultDatabasePath is the SQLite file location.
const DefaultDatabasePath = "gateway.db"

// DefaultRecentUsageLimit bounds the /api/usage listing.
const DefaultRecentUsageLimit = 50
