// Package constants defines magic numbers and default values used throughout mahimahi
package constants

import "time"

// Connection timeouts
const (
	DefaultConnTimeout      = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	// MainPageWait bounds the serializer wait for the top-level document so
	// that stuck priority state can never starve the main-page response.
	MainPageWait = 50 * time.Millisecond
)

// HTTP limits
const (
	MaxHeaderBytes   = 64 * 1024
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB
	ReadChunkSize    = 64 * 1024
)

// Buffer limits
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024 // 4MB before spilling to disk
)

// Edit-distance bounds for the Tier-2 replay fallback. Both must match the
// reference scoring exactly or match selection becomes nondeterministic
// across implementations.
const (
	Sift4MaxOffset   = 500
	Sift4MaxDistance = 200
)
