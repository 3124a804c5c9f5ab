// Package constants provides shared constants used across the codebase.
package constants

// Handler constants
const (
	// DefaultJobRetention is how many finished jobs the job manager keeps
	DefaultJobRetention = 50
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// File upload constants
const (
	// MaxUploadSize is the maximum file upload size in bytes (100MB)
	MaxUploadSize = 100 << 20
)
