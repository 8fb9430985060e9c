package proxy

import "github.com/google/uuid"

// GenerateRequestID returns a fresh RequestId: a 128-bit random value,
// collision-free with overwhelming probability (spec §3), assigned once
// per queued or tunneled request. For a queued request it keys both its
// LogEntry and its ContextStore sequence; for a tunneled request it only
// tags the request log line.
func GenerateRequestID() string {
	return uuid.NewString()
}
